// internal/compactor/compactor.go
//
// Compaction keeps the conversation log inside the smallest configured
// context window. When the threshold is crossed, the oldest half of the log
// (by tokens) is summarized through an agent call; when that fails, a plain
// token-based truncation keeps the tool usable without any AI.
package compactor

import (
	"fmt"
	"strings"

	"github.com/termaite/termaite/internal/config"
	"github.com/termaite/termaite/internal/executor"
	"github.com/termaite/termaite/internal/history"
	"github.com/termaite/termaite/internal/logging"
	"github.com/termaite/termaite/internal/tokens"
)

// thresholdRatio of the smallest context window triggers compaction.
const thresholdRatio = 0.75

// summarizeInstruction is the fixed prompt for the AI compaction call.
const summarizeInstruction = `You are a context compactor. Summarize the following conversation history into a concise form while preserving key decisions and outcomes, important context for future actions, and any errors or notable results. Aim for about half the original length. Reply with the summary only.

Conversation to compact:`

// Stats describes one compaction.
type Stats struct {
	Method            string
	EntriesSummarized int
	EntriesKept       int
	TokensBefore      int
	TokensAfter       int
	TokensSaved       int
}

// Option customizes a Compactor.
type Option func(*Compactor)

// WithLogger attaches a diagnostics logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Compactor) { c.log = log }
}

// Compactor watches and shrinks a project's turn log.
type Compactor struct {
	store   *history.Store
	cfg     *config.Store
	wrapper *executor.Wrapper
	log     *logging.Logger
}

// New creates a compactor over the given store.
func New(store *history.Store, cfg *config.Store, wrapper *executor.Wrapper, opts ...Option) *Compactor {
	c := &Compactor{store: store, cfg: cfg, wrapper: wrapper}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsCompaction reports whether the log plus the incoming text would
// exceed the threshold. With no configured context windows it always
// reports false.
func (c *Compactor) NeedsCompaction(incoming string) bool {
	minCtx := c.cfg.MinContextWindow()
	if minCtx <= 0 {
		return false
	}
	turns, err := c.store.Read()
	if err != nil {
		c.log.Printf("compactor: read log: %v", err)
		return false
	}
	combined := sumTokens(turns) + tokens.Estimate(incoming)
	return float64(combined) > thresholdRatio*float64(minCtx)
}

// Compact summarizes the oldest half of the log through the given agent and
// atomically replaces the log with the summary plus the kept suffix. The
// agent call must succeed with non-empty output; anything else is an error
// and the log is left untouched.
func (c *Compactor) Compact(agent config.Agent) (Stats, error) {
	turns, err := c.store.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("compactor: read log: %w", err)
	}
	if len(turns) < 2 {
		return Stats{}, fmt.Errorf("compactor: not enough history to compact (%d entries)", len(turns))
	}

	total := sumTokens(turns)
	split := splitIndex(turns, total)
	toSummarize, toKeep := turns[:split], turns[split:]

	var b strings.Builder
	b.WriteString(summarizeInstruction)
	b.WriteByte('\n')
	for _, t := range toSummarize {
		b.WriteString(string(t.Sender))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}

	out := c.wrapper.Execute(agent, b.String(), c.cfg.EffectiveTimeout(agent))
	if out.Kind != executor.KindSuccess {
		return Stats{}, fmt.Errorf("compactor: summarization via %q failed: %s", agent.Name, out.Kind)
	}
	summary := strings.TrimSpace(out.Stdout)
	if summary == "" {
		return Stats{}, fmt.Errorf("compactor: summarization via %q produced empty output", agent.Name)
	}

	summarizedTokens := sumTokens(toSummarize)
	header := fmt.Sprintf("Conversation summary: %d earlier entries compacted (%d tokens -> %d tokens).\n%s",
		len(toSummarize), summarizedTokens, tokens.Estimate(summary), summary)
	replacement := append([]history.Turn{history.NewTurn(history.SenderSystem, header)}, toKeep...)
	if err := c.store.ReplaceAll(replacement); err != nil {
		return Stats{}, fmt.Errorf("compactor: rewrite log: %w", err)
	}

	after := sumTokens(replacement)
	stats := Stats{
		Method:            "ai",
		EntriesSummarized: len(toSummarize),
		EntriesKept:       len(toKeep),
		TokensBefore:      total,
		TokensAfter:       after,
		TokensSaved:       total - after,
	}
	c.log.Printf("compactor: ai compaction summarized %d entries, %d -> %d tokens",
		stats.EntriesSummarized, stats.TokensBefore, stats.TokensAfter)
	return stats, nil
}

// FallbackCompact drops the largest head of the log that still leaves at
// least keepRatio of the tokens, replacing it with a marker turn. No agent
// is involved.
func (c *Compactor) FallbackCompact(keepRatio float64) (Stats, error) {
	if keepRatio <= 0 || keepRatio >= 1 {
		keepRatio = 0.5
	}
	turns, err := c.store.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("compactor: read log: %w", err)
	}
	if len(turns) < 2 {
		return Stats{}, fmt.Errorf("compactor: not enough history to truncate (%d entries)", len(turns))
	}

	total := sumTokens(turns)
	target := keepRatio * float64(total)

	// Work backwards: the kept suffix is the largest-index suffix whose
	// tokens still meet the target.
	keepStart := len(turns) - 1
	cum := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cum += turnTokens(turns[i])
		if float64(cum) >= target {
			keepStart = i
			break
		}
	}
	if keepStart < 1 {
		keepStart = 1
	}
	if keepStart > len(turns)-1 {
		keepStart = len(turns) - 1
	}

	removed := turns[:keepStart]
	kept := turns[keepStart:]
	removedTokens := sumTokens(removed)
	marker := fmt.Sprintf("Conversation truncated: removed %d earlier entries (~%d tokens) to stay within the context window.",
		len(removed), removedTokens)
	replacement := append([]history.Turn{history.NewTurn(history.SenderSystem, marker)}, kept...)
	if err := c.store.ReplaceAll(replacement); err != nil {
		return Stats{}, fmt.Errorf("compactor: rewrite log: %w", err)
	}

	after := sumTokens(replacement)
	stats := Stats{
		Method:            "fallback",
		EntriesSummarized: len(removed),
		EntriesKept:       len(kept),
		TokensBefore:      total,
		TokensAfter:       after,
		TokensSaved:       total - after,
	}
	c.log.Printf("compactor: fallback truncation removed %d entries, %d -> %d tokens",
		stats.EntriesSummarized, stats.TokensBefore, stats.TokensAfter)
	return stats, nil
}

// ManualCompact tries AI compaction and falls back to truncation when it
// fails.
func (c *Compactor) ManualCompact(agent config.Agent) (Stats, error) {
	stats, err := c.Compact(agent)
	if err == nil {
		return stats, nil
	}
	c.log.Printf("compactor: ai compaction failed, falling back: %v", err)
	return c.FallbackCompact(0.5)
}

// splitIndex returns the boundary of the smallest prefix whose cumulative
// tokens reach half the total, clamped so both sides keep at least one
// entry.
func splitIndex(turns []history.Turn, total int) int {
	half := total / 2
	cum := 0
	split := len(turns) - 1
	for i, t := range turns {
		cum += turnTokens(t)
		if cum >= half {
			split = i + 1
			break
		}
	}
	if split < 1 {
		split = 1
	}
	if split > len(turns)-1 {
		split = len(turns) - 1
	}
	return split
}

func turnTokens(t history.Turn) int {
	return tokens.Estimate(t.Text)
}

func sumTokens(turns []history.Turn) int {
	sum := 0
	for _, t := range turns {
		sum += turnTokens(t)
	}
	return sum
}
