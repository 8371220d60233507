package models

import (
	"fmt"
	"strings"
	"time"
)

type SegmentStatus string

const (
	SegmentStatusActive    SegmentStatus = "active"
	SegmentStatusCollapsed SegmentStatus = "collapsed"
)

// Segment is one collapsed (or still-active) episode of a continuum. The
// boundary itself is a sentinel user message; the segment row carries the
// summary data and the embedding used when old segments are retrieved.
type Segment struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	ContinuumID  string        `json:"continuum_id"`
	Status       SegmentStatus `json:"status"`
	Title        string        `json:"title,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	ToolsUsed    []string      `json:"tools_used,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	Embedding    []float32     `json:"-"`
}

func NewActiveSegment(id, userID, continuumID string, startedAt time.Time) *Segment {
	return &Segment{
		ID:          id,
		UserID:      userID,
		ContinuumID: continuumID,
		Status:      SegmentStatusActive,
		StartedAt:   startedAt,
	}
}

// NewSentinel builds the boundary message that opens a segment.
func NewSentinel(msgID string, seg *Segment, sequence int) *Message {
	return &Message{
		ID:          msgID,
		ContinuumID: seg.ContinuumID,
		UserID:      seg.UserID,
		Sequence:    sequence,
		Role:        MessageRoleUser,
		Blocks:      []ContentBlock{TextBlock("")},
		Meta: MessageMeta{
			IsSegmentBoundary: true,
			SegmentID:         seg.ID,
			SegmentStatus:     string(SegmentStatusActive),
		},
		CreatedAt: seg.StartedAt,
	}
}

// FormatManifest renders the user-facing segment listing grouped by relative
// day labels, newest first.
//
//	TODAY
//	  [14:02-ACTIVE] Trip planning
//	  [09:15-11:40] Budget review
//	YESTERDAY
//	  [18:30-19:05] Dinner recipes
//	Aug 20
//	  [10:00-10:22] Package tracking
func FormatManifest(segments []*Segment, now time.Time) string {
	if len(segments) == 0 {
		return ""
	}

	var sb strings.Builder
	lastLabel := ""
	for _, seg := range segments {
		label := dayLabel(seg.StartedAt, now)
		if label != lastLabel {
			if lastLabel != "" {
				sb.WriteString("\n")
			}
			sb.WriteString(label)
			sb.WriteString("\n")
			lastLabel = label
		}
		sb.WriteString("  [")
		sb.WriteString(seg.StartedAt.Format("15:04"))
		sb.WriteString("-")
		if seg.Status == SegmentStatusActive || seg.EndedAt == nil {
			sb.WriteString("ACTIVE")
		} else {
			sb.WriteString(seg.EndedAt.Format("15:04"))
		}
		sb.WriteString("]")
		if seg.Title != "" {
			sb.WriteString(" ")
			sb.WriteString(seg.Title)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func dayLabel(t, now time.Time) string {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return "TODAY"
	}
	yesterday := now.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd {
		return "YESTERDAY"
	}
	return fmt.Sprintf("%s %d", t.Format("Jan"), td)
}
