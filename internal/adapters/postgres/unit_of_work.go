package postgres

import (
	"context"
	"fmt"

	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/ports"
)

// UnitOfWork accumulates the writes of one turn and commits them in a single
// transaction. Registered entities are upserted, so freshly minted and
// mutated rows go through the same path. A unit of work is single-use.
type UnitOfWork struct {
	tm         *TransactionManager
	messages   *MessageRepository
	continuums *ContinuumRepository
	segments   *SegmentRepository
	memories   *MemoryRepository

	pendingMessages   []*models.Message
	pendingContinuums []*models.Continuum
	pendingSegments   []*models.Segment
	pendingVotes      []voteBatch
	committed         bool
}

type voteBatch struct {
	userID string
	retain []string
	forget []string
}

func (u *UnitOfWork) RegisterMessage(message *models.Message) {
	u.pendingMessages = append(u.pendingMessages, message)
}

func (u *UnitOfWork) RegisterContinuum(continuum *models.Continuum) {
	u.pendingContinuums = append(u.pendingContinuums, continuum)
}

func (u *UnitOfWork) RegisterSegment(segment *models.Segment) {
	u.pendingSegments = append(u.pendingSegments, segment)
}

func (u *UnitOfWork) RegisterVotes(userID string, retain, forget []string) {
	if len(retain) == 0 && len(forget) == 0 {
		return
	}
	u.pendingVotes = append(u.pendingVotes, voteBatch{userID: userID, retain: retain, forget: forget})
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.committed {
		return fmt.Errorf("unit of work already committed")
	}

	err := u.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, message := range u.pendingMessages {
			if err := u.messages.Upsert(txCtx, message); err != nil {
				return fmt.Errorf("failed to commit message %s: %w", message.ID, err)
			}
		}
		for _, continuum := range u.pendingContinuums {
			if err := u.continuums.Update(txCtx, continuum); err != nil {
				return fmt.Errorf("failed to commit continuum %s: %w", continuum.ID, err)
			}
		}
		for _, segment := range u.pendingSegments {
			if err := u.segments.Upsert(txCtx, segment); err != nil {
				return fmt.Errorf("failed to commit segment %s: %w", segment.ID, err)
			}
		}
		for _, votes := range u.pendingVotes {
			if err := u.memories.ApplyVotes(txCtx, votes.userID, votes.retain, votes.forget); err != nil {
				return fmt.Errorf("failed to commit retention votes for %s: %w", votes.userID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.committed = true
	return nil
}

// UnitOfWorkFactory mints a unit of work per turn over shared repositories.
type UnitOfWorkFactory struct {
	tm         *TransactionManager
	messages   *MessageRepository
	continuums *ContinuumRepository
	segments   *SegmentRepository
	memories   *MemoryRepository
}

func NewUnitOfWorkFactory(tm *TransactionManager, messages *MessageRepository, continuums *ContinuumRepository, segments *SegmentRepository, memories *MemoryRepository) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{
		tm:         tm,
		messages:   messages,
		continuums: continuums,
		segments:   segments,
		memories:   memories,
	}
}

func (f *UnitOfWorkFactory) NewUnitOfWork() ports.UnitOfWork {
	return &UnitOfWork{
		tm:         f.tm,
		messages:   f.messages,
		continuums: f.continuums,
		segments:   f.segments,
		memories:   f.memories,
	}
}
