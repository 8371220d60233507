package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/ports"
)

const (
	// driftWindowSize is how many consecutive messages form one embedding
	// window for topic-drift detection.
	driftWindowSize = 4
	// driftThreshold is the similarity floor between adjacent windows; a pair
	// less similar than this marks a candidate cut.
	driftThreshold = 0.7
	// fallbackPruneCount is how many oldest messages go when no drift
	// boundary stands out.
	fallbackPruneCount = 8
	// driftMessageChars caps each message's contribution to its window.
	driftMessageChars = 500
	// judgePreviewChars is the per-side preview length shown to the boundary
	// judge.
	judgePreviewChars = 200

	pendingTrimTTL   = 15 * time.Minute
	judgeMaxTokens   = 16
	judgeCallTimeout = 30 * time.Second
)

var judgePrompt = `A conversation must be shortened. Below are numbered candidate cut
points, each showing the text just before and just after the cut. Reply with the
number of the most natural boundary to cut at, or NONE if none of them is a
clean break. Reply with only the number or NONE.`

// OverflowRemediator implements the history-pruning overflow tiers: a
// topic-drift cut with an asynchronous model-judged refinement, and the
// oldest-first fallback.
type OverflowRemediator struct {
	embedding  ports.EmbeddingService
	engine     ports.LLMEngine
	kv         ports.KVStore
	judgeModel string
	logger     *slog.Logger
}

func NewOverflowRemediator(embedding ports.EmbeddingService, engine ports.LLMEngine, kv ports.KVStore, judgeModel string, logger *slog.Logger) *OverflowRemediator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverflowRemediator{
		embedding:  embedding,
		engine:     engine,
		kv:         kv,
		judgeModel: judgeModel,
		logger:     logger,
	}
}

// TopicDriftCut prunes the history at the strongest topic shift. The message
// texts are embedded in consecutive fixed-size windows; the adjacent pair
// with the largest similarity drop past the threshold marks the cut, and
// everything before the later window goes. With no qualifying drop the oldest messages
// go instead. A cheap model judgment over the candidate cuts runs in the
// background and stores its pick for one-shot application on the next
// request; it never delays or fails the current one.
func (r *OverflowRemediator) TopicDriftCut(ctx context.Context, continuumID string, history []llm.ChatMessage) ([]llm.ChatMessage, string) {
	cuts, err := r.driftCandidates(ctx, history)
	if err != nil {
		r.logger.Warn("topic drift detection failed, falling back to oldest-first",
			"continuum_id", continuumID, "error", err)
		pruned, _ := r.DropOldest(history)
		return pruned, "fallback_prune"
	}

	if len(cuts) == 0 {
		pruned, _ := r.DropOldest(history)
		return pruned, "fallback_prune"
	}

	best := cuts[0]
	for _, c := range cuts[1:] {
		if c.drop > best.drop {
			best = c
		}
	}

	r.scheduleJudgment(ctx, continuumID, history, cuts)
	return history[best.index:], "largest_drop"
}

// DropOldest removes the oldest messages, keeping at least one.
func (r *OverflowRemediator) DropOldest(history []llm.ChatMessage) ([]llm.ChatMessage, int) {
	n := fallbackPruneCount
	if n >= len(history) {
		n = len(history) - 1
	}
	if n <= 0 {
		return history, 0
	}
	return history[n:], n
}

// driftCut is one candidate boundary: cut the history at index, justified by
// an inter-window similarity drop of drop.
type driftCut struct {
	index int
	drop  float64
}

func (r *OverflowRemediator) driftCandidates(ctx context.Context, history []llm.ChatMessage) ([]driftCut, error) {
	if len(history) < driftWindowSize*2 {
		return nil, nil
	}

	var windows []string
	var starts []int
	for i := 0; i+driftWindowSize <= len(history); i += driftWindowSize {
		windows = append(windows, windowText(history[i:i+driftWindowSize]))
		starts = append(starts, i)
	}
	if len(windows) < 2 {
		return nil, nil
	}

	vectors, err := r.embedding.EncodeRealtimeBatch(ctx, windows)
	if err != nil {
		return nil, fmt.Errorf("embed drift windows: %w", err)
	}
	if len(vectors) != len(windows) {
		return nil, fmt.Errorf("embedding returned %d vectors for %d windows", len(vectors), len(windows))
	}

	var cuts []driftCut
	for i := 1; i < len(vectors); i++ {
		drop := 1 - cosineSimilarity(vectors[i-1], vectors[i])
		if drop > 1-driftThreshold {
			cuts = append(cuts, driftCut{index: starts[i], drop: drop})
		}
	}
	return cuts, nil
}

// scheduleJudgment asks the utility model to pick the cleanest of the
// candidate cuts, off the request path. The chosen cut lands in the KV store
// under the continuum's pending-trim key.
func (r *OverflowRemediator) scheduleJudgment(ctx context.Context, continuumID string, history []llm.ChatMessage, cuts []driftCut) {
	if r.engine == nil || r.kv == nil {
		return
	}
	detached := context.WithoutCancel(ctx)

	go func() {
		jctx, cancel := context.WithTimeout(detached, judgeCallTimeout)
		defer cancel()

		prompt := renderJudgePrompt(history, cuts)
		out, err := r.engine.Complete(jctx, r.judgeModel, "", prompt, judgeMaxTokens)
		if err != nil {
			r.logger.Warn("trim boundary judgment failed", "continuum_id", continuumID, "error", err)
			return
		}

		pick := parseJudgePick(out, len(cuts))
		if pick < 0 {
			return
		}
		cut := cuts[pick].index
		if err := r.kv.Set(jctx, pendingTrimKey(continuumID), strconv.Itoa(cut), pendingTrimTTL); err != nil {
			r.logger.Warn("pending trim store failed", "continuum_id", continuumID, "error", err)
			return
		}
		r.logger.Info("trim boundary judged", "continuum_id", continuumID, "cut", cut, "candidates", len(cuts))
	}()
}

func renderJudgePrompt(history []llm.ChatMessage, cuts []driftCut) string {
	var sb strings.Builder
	sb.WriteString(judgePrompt)
	sb.WriteString("\n\n")
	for i, c := range cuts {
		before := messageText(history[c.index-1])
		after := messageText(history[c.index])
		fmt.Fprintf(&sb, "%d. ...%s | %s...\n", i+1,
			tail(before, judgePreviewChars), head(after, judgePreviewChars))
	}
	return sb.String()
}

// parseJudgePick reads the judge's reply as a 1-based candidate number.
// NONE or anything unparseable means no stored trim.
func parseJudgePick(out string, candidates int) int {
	token := strings.TrimSpace(out)
	if i := strings.IndexAny(token, " \n\t."); i >= 0 {
		token = token[:i]
	}
	if strings.EqualFold(token, "none") {
		return -1
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || n > candidates {
		return -1
	}
	return n - 1
}

func windowText(window []llm.ChatMessage) string {
	var sb strings.Builder
	for _, m := range window {
		text := messageText(m)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(head(text, driftMessageChars))
	}
	return sb.String()
}

func messageText(m llm.ChatMessage) string {
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// head and tail clip to at most n bytes without splitting a rune.

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
