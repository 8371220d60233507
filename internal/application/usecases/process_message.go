// Package usecases holds the turn orchestrator: the single entry point that
// takes one user message end to end through memory surfacing, prompt
// composition, the model call with its tool loop, and atomic persistence.
package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mira-ai/mira/internal/domain"
	"github.com/mira-ai/mira/internal/domain/models"
	"github.com/mira-ai/mira/internal/events"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/ports"
	"github.com/mira-ai/mira/internal/workingmemory"
)

const (
	// maxOverflowAttempts bounds the remediation loop; past it the turn fails.
	maxOverflowAttempts = 3

	containerKeyPrefix = "container:"
	containerTTL       = time.Hour

	// toolErrorApology replaces a blank assistant reply after the circuit
	// breaker had to stop a failing tool.
	toolErrorApology = "I'm sorry, I ran into a problem with one of my tools and couldn't finish that. Please try again in a moment."

	// continueAfterLoadNudge is the synthesized user message for the single
	// auto-continuation after a tool-loading round.
	continueAfterLoadNudge = "Great, the tool is now available. Please proceed with my original request."
)

// MemoryCache is the per-user surfaced-memory cache the proactive memory
// trinket maintains between turns.
type MemoryCache interface {
	Memories(userID string) []*models.SurfacedMemory
	Replace(userID string, memories []*models.SurfacedMemory)
}

// TurnConfig carries the model parameters one turn runs with.
type TurnConfig struct {
	BasePrompt      string
	Model           string
	MaxTokens       int
	Temperature     float64
	ThinkingEnabled bool
	ThinkingBudget  int
	ContextWindow   int
	SurfaceLimit    int

	// EndpointURL and ModelOverride reroute the turn to an OpenAI-compatible
	// endpoint; both must be set together.
	EndpointURL   string
	ModelOverride string
}

// ProcessMessageInput is one inbound user turn. Blocks carries inference-tier
// content (images resized for the model); StorageBlocks the storage-tier
// variant that gets persisted, required whenever Blocks contains images.
type ProcessMessageInput struct {
	UserID            string
	Text              string
	Blocks            []models.ContentBlock
	StorageBlocks     []models.ContentBlock
	SegmentTurnNumber int

	// OnEvent receives every stream event as it occurs. May be nil.
	OnEvent func(llm.StreamEvent)
}

// ProcessMessageOutput is the completed turn.
type ProcessMessageOutput struct {
	ContinuumID        string
	Response           string
	Emotion            string
	ToolsUsed          []string
	ReferencedMemories []string
	SurfacedMemories   []string
	ProcessingTime     time.Duration
	Usage              llm.Usage
}

// ProcessMessage orchestrates one user turn.
type ProcessMessage struct {
	locks      ports.LockManager
	continuums ports.ContinuumRepository
	segments   ports.SegmentService
	surfacer   ports.MemorySurfacer
	evacuator  ports.MemoryEvacuator
	memCache   MemoryCache
	wm         ports.WorkingMemory
	engine     ports.LLMEngine
	registry   ports.ToolRegistry
	uowFactory ports.UnitOfWorkFactory
	kv         ports.KVStore
	ids        ports.IDGenerator
	bus        *events.Bus
	overflow   *OverflowRemediator
	firehose   ports.Firehose
	cfg        TurnConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewProcessMessage(
	locks ports.LockManager,
	continuums ports.ContinuumRepository,
	segments ports.SegmentService,
	surfacer ports.MemorySurfacer,
	evacuator ports.MemoryEvacuator,
	memCache MemoryCache,
	wm ports.WorkingMemory,
	engine ports.LLMEngine,
	registry ports.ToolRegistry,
	uowFactory ports.UnitOfWorkFactory,
	kv ports.KVStore,
	ids ports.IDGenerator,
	bus *events.Bus,
	overflow *OverflowRemediator,
	firehose ports.Firehose,
	cfg TurnConfig,
	logger *slog.Logger,
) *ProcessMessage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessMessage{
		locks:      locks,
		continuums: continuums,
		segments:   segments,
		surfacer:   surfacer,
		evacuator:  evacuator,
		memCache:   memCache,
		wm:         wm,
		engine:     engine,
		registry:   registry,
		uowFactory: uowFactory,
		kv:         kv,
		ids:        ids,
		bus:        bus,
		overflow:   overflow,
		firehose:   firehose,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs one turn under the user's chat lock. A second request for the
// same user while a turn is in flight fails with ErrTurnInProgress.
func (uc *ProcessMessage) Execute(ctx context.Context, input *ProcessMessageInput) (*ProcessMessageOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	token, err := uc.locks.AcquireChatLock(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := uc.locks.ReleaseChatLock(releaseCtx, input.UserID, token); err != nil {
			uc.logger.Warn("chat lock release failed", "user_id", input.UserID, "error", err)
		}
	}()

	ctx = domain.WithUserID(ctx, input.UserID)

	out, err := uc.executeTurn(ctx, input, false)
	if err != nil {
		input.emit(llm.ErrorEvent{Error: "message processing failed", TechnicalDetails: err.Error()})
		return nil, err
	}
	return out, nil
}

// executeTurn is one full orchestrated turn. autoContinued marks the single
// recursive continuation after a tool-loading round.
func (uc *ProcessMessage) executeTurn(ctx context.Context, input *ProcessMessageInput, autoContinued bool) (*ProcessMessageOutput, error) {
	started := uc.now()

	continuum, err := uc.continuums.GetOrCreateByUserID(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("load continuum: %w", err)
	}
	if _, err := uc.segments.EnsureActiveSentinel(ctx, continuum); err != nil {
		return nil, fmt.Errorf("ensure active sentinel: %w", err)
	}

	userBlocks := input.Blocks
	if len(userBlocks) == 0 {
		userBlocks = []models.ContentBlock{models.TextBlock(input.Text)}
	}
	userMsg := models.NewUserMessage(uc.ids.GenerateMessageID(), continuum.ID, input.UserID, continuum.NextSequence(), userBlocks)
	userMsg.Meta.TriedLoadingTools = autoContinued
	continuum.Append(userMsg)

	textForContext := contextText(input.Text, userBlocks)

	// Memory surfacing: evacuate under pressure, fingerprint, retrieve,
	// merge pinned-first. A fingerprint failure aborts the turn before any
	// durable write.
	previous := uc.memCache.Memories(input.UserID)
	if uc.evacuator != nil {
		previous, err = uc.evacuator.EvacuateIfPressured(ctx, continuum, previous)
		if err != nil {
			return nil, fmt.Errorf("memory evacuation: %w", err)
		}
		uc.memCache.Replace(input.UserID, previous)
	}

	surfacing, err := uc.surfacer.Surface(ctx, continuum, textForContext, previous, uc.cfg.SurfaceLimit)
	if err != nil {
		return nil, fmt.Errorf("surface memories: %w", err)
	}

	trinketCtx := map[string]any{
		workingmemory.ContextKeyContinuum: continuum,
		workingmemory.ContextKeyMemories:  surfacing.Memories,
		workingmemory.ContextKeyNow:       uc.now().UTC(),
		workingmemory.ContextKeyUserName:  continuum.UserName,
	}
	composed, err := uc.wm.ComposeNow(ctx, input.UserID, uc.cfg.BasePrompt, trinketCtx)
	if err != nil {
		return nil, fmt.Errorf("compose system prompt: %w", err)
	}

	st := newTurnState(composed, continuum, userMsg)
	uc.applyPendingTrim(ctx, continuum.ID, st)

	tools := uc.registry.Definitions()
	containerID := uc.cachedContainerID(ctx, continuum.ID, tools)

	observer := newEventObserver(input.OnEvent, uc.firehose)

	resp, err := uc.callWithRemediation(ctx, continuum, surfacing, trinketCtx, st, tools, containerID, observer)
	if err != nil {
		return nil, err
	}

	assistantMsg, out := uc.buildAssistantMessage(continuum, resp, surfacing, observer)
	continuum.Append(assistantMsg)
	continuum.LastInputTokens = resp.Usage.InputTokens
	if resp.ContainerID != "" {
		continuum.ContainerID = resp.ContainerID
	}

	uc.bus.Publish(ctx, events.TurnCompletedEvent{
		UserID:            input.UserID,
		ContinuumID:       continuum.ID,
		TurnNumber:        len(continuum.History()),
		SegmentTurnNumber: input.SegmentTurnNumber,
		Continuum:         continuum,
	})

	if err := uc.commitTurn(ctx, input, continuum, userMsg, assistantMsg, surfacing); err != nil {
		return nil, err
	}

	uc.cacheContainerID(ctx, continuum.ID, resp.ContainerID)

	if observer.loaderInvoked() && !autoContinued {
		uc.logger.Info("auto-continuing after tool load", "continuum_id", continuum.ID)
		return uc.executeTurn(ctx, &ProcessMessageInput{
			UserID:            input.UserID,
			Text:              continueAfterLoadNudge,
			SegmentTurnNumber: input.SegmentTurnNumber,
			OnEvent:           input.OnEvent,
		}, true)
	}

	out.ContinuumID = continuum.ID
	out.ProcessingTime = uc.now().Sub(started)
	return out, nil
}

// callWithRemediation runs the pre-flight estimate and the model call inside
// the tiered overflow loop.
func (uc *ProcessMessage) callWithRemediation(
	ctx context.Context,
	continuum *models.Continuum,
	surfacing *ports.SurfacingResult,
	trinketCtx map[string]any,
	st *turnState,
	tools []models.ToolDefinition,
	containerID string,
	observer *eventObserver,
) (*llm.Response, error) {
	reserved := llm.ReservedOutput(uc.cfg.MaxTokens, uc.cfg.ThinkingBudget, uc.cfg.ThinkingEnabled)
	budget := uc.cfg.ContextWindow - reserved

	// The measured baseline predates any prune, so after the first
	// remediation estimates fall back to character count.
	baseline := continuum.LastInputTokens

	for attempt := 1; ; attempt++ {
		messages := st.messages()
		estimate := llm.EstimateTokens(baseline, st.system, messages, len(tools))
		if estimate > budget {
			if err := uc.remediate(ctx, attempt, continuum, surfacing, trinketCtx, st); err != nil {
				return nil, err
			}
			baseline = 0
			continue
		}

		req := &llm.Request{
			Model:           uc.cfg.Model,
			Messages:        messages,
			Tools:           tools,
			SystemBlocks:    st.system,
			MaxTokens:       uc.cfg.MaxTokens,
			Temperature:     uc.cfg.Temperature,
			ThinkingEnabled: uc.cfg.ThinkingEnabled,
			ThinkingBudget:  uc.cfg.ThinkingBudget,
			LastInputTokens: baseline,
			EndpointURL:     uc.cfg.EndpointURL,
			ModelOverride:   uc.cfg.ModelOverride,
			ContainerID:     containerID,
			UserID:          continuum.UserID,
			OnEvent:         observer.observe,
		}
		if uc.firehose != nil {
			uc.firehose.Write("llm_request", map[string]any{
				"continuum_id": continuum.ID,
				"model":        req.Model,
				"endpoint":     req.EndpointURL,
				"system":       st.system,
				"messages":     messages,
				"tools":        tools,
			})
		}

		resp, err := uc.engine.GenerateResponse(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, domain.ErrContextOverflow) {
			return nil, err
		}
		uc.logger.Warn("provider reported context overflow",
			"continuum_id", continuum.ID, "attempt", attempt, "error", err)
		if err := uc.remediate(ctx, attempt, continuum, surfacing, trinketCtx, st); err != nil {
			return nil, err
		}
		baseline = 0
	}
}

// remediate applies the overflow tier for this attempt. Tier 1 shrinks the
// surfaced-memory section and recomposes; tier 2 cuts the history at the
// largest topic drift; tier 3 drops oldest-first. Past the ceiling the
// overflow is fatal.
func (uc *ProcessMessage) remediate(
	ctx context.Context,
	attempt int,
	continuum *models.Continuum,
	surfacing *ports.SurfacingResult,
	trinketCtx map[string]any,
	st *turnState,
) error {
	if attempt > maxOverflowAttempts {
		return domain.NewDomainError(domain.ErrContextOverflow,
			fmt.Sprintf("context still overflows after %d remediation attempts", maxOverflowAttempts))
	}

	before := len(st.messages())

	if attempt == 1 && uc.evacuator != nil && len(surfacing.Memories) > 3 {
		reduced, err := uc.evacuator.EvacuateAggressive(ctx, continuum, surfacing.Memories)
		if err != nil {
			return fmt.Errorf("aggressive evacuation: %w", err)
		}
		surfacing.Memories = reduced
		uc.memCache.Replace(continuum.UserID, reduced)

		trinketCtx[workingmemory.ContextKeyMemories] = reduced
		composed, err := uc.wm.ComposeNow(ctx, continuum.UserID, uc.cfg.BasePrompt, trinketCtx)
		if err != nil {
			return fmt.Errorf("recompose after evacuation: %w", err)
		}
		st.replacePrompt(composed)

		uc.logger.Info("overflow remediation",
			"continuum_id", continuum.ID,
			"remediation_tier", 1,
			"messages_before", before,
			"messages_after", len(st.messages()),
			"memories_kept", len(reduced))
		return nil
	}

	if attempt <= 2 {
		history, method := uc.overflow.TopicDriftCut(ctx, continuum.ID, st.history)
		st.history = history
		uc.logger.Info("overflow remediation",
			"continuum_id", continuum.ID,
			"remediation_tier", 2,
			"selection_method", method,
			"messages_before", before,
			"messages_after", len(st.messages()))
		return nil
	}

	history, dropped := uc.overflow.DropOldest(st.history)
	st.history = history
	uc.logger.Info("overflow remediation",
		"continuum_id", continuum.ID,
		"remediation_tier", 3,
		"messages_before", before,
		"messages_after", len(st.messages()),
		"dropped", dropped)
	return nil
}

// buildAssistantMessage parses response tags, substitutes the apology for a
// blank tool-error reply, and assembles the persisted assistant message plus
// the caller-facing output.
func (uc *ProcessMessage) buildAssistantMessage(
	continuum *models.Continuum,
	resp *llm.Response,
	surfacing *ports.SurfacingResult,
	observer *eventObserver,
) (*models.Message, *ProcessMessageOutput) {
	text := resp.Text()
	emotion := extractEmotion(text)
	referenced := resolveReferencedMemories(text, surfacing.Memories)

	surfacedIDs := make([]string, len(surfacing.Memories))
	for i, m := range surfacing.Memories {
		surfacedIDs[i] = m.Memory.ID
	}

	blocks := resp.Blocks
	modelError := ""
	if strings.TrimSpace(stripEmotion(text)) == "" && observer.sawToolError() {
		text = toolErrorApology
		blocks = []models.ContentBlock{models.TextBlock(toolErrorApology)}
		modelError = "tool_error"
	}

	msg := models.NewAssistantMessage(uc.ids.GenerateMessageID(), continuum.ID, continuum.UserID, continuum.NextSequence(), blocks)
	msg.Meta.MyEmotion = emotion
	msg.Meta.ReferencedMemories = referenced
	msg.Meta.SurfacedMemories = surfacedIDs
	msg.Meta.PinnedMemoryIDs = surfacing.Fingerprint.RetainShortIDs
	msg.Meta.ModelError = modelError
	msg.Meta.InputTokens = resp.Usage.InputTokens
	msg.Meta.OutputTokens = resp.Usage.OutputTokens

	return msg, &ProcessMessageOutput{
		Response:           text,
		Emotion:            emotion,
		ToolsUsed:          observer.tools(),
		ReferencedMemories: referenced,
		SurfacedMemories:   surfacedIDs,
		Usage:              resp.Usage,
	}
}

// commitTurn batches the turn's writes into one unit of work. The user
// message persists at storage tier when one was supplied.
func (uc *ProcessMessage) commitTurn(
	ctx context.Context,
	input *ProcessMessageInput,
	continuum *models.Continuum,
	userMsg, assistantMsg *models.Message,
	surfacing *ports.SurfacingResult,
) error {
	uow := uc.uowFactory.NewUnitOfWork()

	persistedUser := *userMsg
	if len(input.StorageBlocks) > 0 {
		persistedUser.Blocks = input.StorageBlocks
	}
	uow.RegisterMessage(&persistedUser)
	uow.RegisterMessage(assistantMsg)
	uow.RegisterContinuum(continuum)
	uow.RegisterVotes(input.UserID, surfacing.Fingerprint.RetainShortIDs, surfacing.Fingerprint.ForgetShortIDs)

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// applyPendingTrim pops the one-shot cut a previous tier-2 judgment stored
// and applies it to the history before the estimate runs.
func (uc *ProcessMessage) applyPendingTrim(ctx context.Context, continuumID string, st *turnState) {
	key := pendingTrimKey(continuumID)
	value, err := uc.kv.Get(ctx, key)
	if err != nil {
		return
	}
	if err := uc.kv.Delete(ctx, key); err != nil {
		uc.logger.Warn("pending trim delete failed", "key", key, "error", err)
	}

	cut, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || cut <= 0 || cut >= len(st.history) {
		return
	}
	uc.logger.Info("applying pending context trim", "continuum_id", continuumID, "cut", cut)
	st.history = st.history[cut:]
}

func (uc *ProcessMessage) cachedContainerID(ctx context.Context, continuumID string, tools []models.ToolDefinition) string {
	if !hasCodeExecution(tools) {
		return ""
	}
	id, err := uc.kv.Get(ctx, containerKeyPrefix+continuumID)
	if err != nil {
		return ""
	}
	return id
}

func (uc *ProcessMessage) cacheContainerID(ctx context.Context, continuumID, containerID string) {
	if containerID == "" {
		return
	}
	if err := uc.kv.Set(ctx, containerKeyPrefix+continuumID, containerID, containerTTL); err != nil {
		uc.logger.Warn("container cache write failed", "continuum_id", continuumID, "error", err)
	}
}

func hasCodeExecution(tools []models.ToolDefinition) bool {
	for _, t := range tools {
		if t.Name == "code_execution" {
			return true
		}
	}
	return false
}

func pendingTrimKey(continuumID string) string {
	return "pending_context_trim:" + continuumID
}

// turnState is the mutable request shape the overflow tiers operate on. The
// system blocks live apart from the message list, so every prune trivially
// preserves them; the HUD and the current user message are likewise never
// pruned.
type turnState struct {
	system  []models.ContentBlock
	history []llm.ChatMessage
	hud     *llm.ChatMessage
	userMsg llm.ChatMessage
}

func newTurnState(composed *ports.ComposedPrompt, continuum *models.Continuum, userMsg *models.Message) *turnState {
	st := &turnState{userMsg: llm.ChatMessage{Role: "user", Blocks: userMsg.Blocks}}
	st.replacePrompt(composed)

	// Everything in the active window except the message just appended.
	window := continuum.ActiveWindow()
	if n := len(window); n > 0 && window[n-1].ID == userMsg.ID {
		window = window[:n-1]
	}
	st.history = make([]llm.ChatMessage, 0, len(window))
	for _, m := range window {
		st.history = append(st.history, llm.ChatMessage{Role: string(m.Role), Blocks: m.Blocks})
	}
	return st
}

// replacePrompt swaps in a freshly composed prompt: cached system content
// gets the ephemeral cache breakpoint, non-cached follows it plain, and the
// notification center rides as a HUD assistant message just before the
// current user message.
func (st *turnState) replacePrompt(composed *ports.ComposedPrompt) {
	st.system = st.system[:0]
	if composed.Cached != "" {
		block := models.TextBlock(composed.Cached)
		block.CacheControl = models.EphemeralCache()
		st.system = append(st.system, block)
	}
	if composed.NonCached != "" {
		st.system = append(st.system, models.TextBlock(composed.NonCached))
	}

	st.hud = nil
	if composed.NotificationCenter != "" {
		hud := llm.AssistantMessage(models.TextBlock(workingmemory.HUDDelimiter + "\n" + composed.NotificationCenter))
		st.hud = &hud
	}
}

func (st *turnState) messages() []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(st.history)+2)
	out = append(out, st.history...)
	if st.hud != nil {
		out = append(out, *st.hud)
	}
	return append(out, st.userMsg)
}

// eventObserver forwards stream events to the caller while collecting the
// turn facts the orchestrator needs afterwards: tools used, tool errors, and
// whether the tool loader ran in a continuation-worthy mode.
type eventObserver struct {
	forward  func(llm.StreamEvent)
	firehose ports.Firehose

	toolsUsed []string
	seen      map[string]bool
	toolError bool
	loaded    bool
}

func newEventObserver(forward func(llm.StreamEvent), firehose ports.Firehose) *eventObserver {
	return &eventObserver{forward: forward, firehose: firehose, seen: make(map[string]bool)}
}

func (o *eventObserver) observe(ev llm.StreamEvent) {
	switch e := ev.(type) {
	case llm.ToolExecutingEvent:
		if !o.seen[e.ToolName] {
			o.seen[e.ToolName] = true
			o.toolsUsed = append(o.toolsUsed, e.ToolName)
		}
		if e.ToolName == llm.LoaderToolName && loaderModeContinues(e.Arguments) {
			o.loaded = true
		}
	case llm.ToolErrorEvent:
		o.toolError = true
	}

	if o.firehose != nil {
		o.firehose.Write(string(ev.Kind()), ev)
	}
	if o.forward != nil {
		o.forward(ev)
	}
}

func (o *eventObserver) tools() []string {
	if o.toolsUsed == nil {
		return []string{}
	}
	return o.toolsUsed
}

func (o *eventObserver) sawToolError() bool { return o.toolError }
func (o *eventObserver) loaderInvoked() bool { return o.loaded }

func loaderModeContinues(args json.RawMessage) bool {
	var input struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return false
	}
	switch input.Mode {
	case "load", "fallback", "prepare_code_execution":
		return true
	}
	return false
}

func validateInput(input *ProcessMessageInput) error {
	if input.UserID == "" {
		return domain.NewDomainError(domain.ErrInvalidInput, "user ID is required")
	}
	if len(input.Blocks) == 0 && strings.TrimSpace(input.Text) == "" {
		return domain.NewDomainError(domain.ErrEmptyContent, "message text is required")
	}
	if hasImageBlocks(input.Blocks) && len(input.StorageBlocks) == 0 {
		return domain.NewDomainError(domain.ErrInvalidInput, "image content requires storage-tier blocks")
	}
	return nil
}

func hasImageBlocks(blocks []models.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == models.BlockTypeImage {
			return true
		}
	}
	return false
}

func (in *ProcessMessageInput) emit(ev llm.StreamEvent) {
	if in.OnEvent != nil {
		in.OnEvent(ev)
	}
}

// contextText derives the retrieval text of a turn: the plain text when the
// message is textual, otherwise a fixed placeholder.
func contextText(text string, blocks []models.ContentBlock) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == models.BlockTypeText && strings.TrimSpace(b.Text) != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() > 0 {
		return sb.String()
	}
	return "Image uploaded"
}

var emotionPattern = regexp.MustCompile(`<my_emotion>([^<]*)</my_emotion>`)

// extractEmotion records the my_emotion tag's value. The tag itself stays in
// the response text untouched.
func extractEmotion(text string) string {
	m := emotionPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func stripEmotion(text string) string {
	return emotionPattern.ReplaceAllString(text, "")
}

// resolveReferencedMemories finds surfaced short IDs the model cited in its
// reply and resolves them to full memory IDs. A short ID that matches nothing
// surfaced this turn is dropped.
func resolveReferencedMemories(text string, surfaced []*models.SurfacedMemory) []string {
	var referenced []string
	for _, m := range surfaced {
		short := m.ShortID
		if short == "" {
			short = models.ShortID(m.Memory.ID)
		}
		if short != "" && strings.Contains(text, short) {
			referenced = append(referenced, m.Memory.ID)
		}
	}
	return referenced
}
