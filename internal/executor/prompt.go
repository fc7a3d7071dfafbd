// internal/executor/prompt.go
//
// Agents are stateless subprocesses, so every invocation carries its own
// bounded slice of conversation context. The framing strings below are part
// of the external contract: agents may key off them, so they must not change
// between versions.
package executor

import (
	"strings"

	"github.com/termaite/termaite/internal/history"
)

const (
	// promptContextHeader opens the context preamble.
	promptContextHeader = "--- Conversation context (most recent turns) ---"
	// promptContextFooter closes the context preamble.
	promptContextFooter = "--- End of conversation context ---"
	// promptTrailer is appended after the user input on every invocation.
	promptTrailer = "When you are done, reply with a concise summary of the actions you took."

	// maxContextTurns bounds how many trailing turns the preamble includes.
	maxContextTurns = 10
	// maxContextTurnChars bounds each included turn.
	maxContextTurnChars = 200
)

// BuildPrompt assembles the augmented prompt sent to an agent: a bounded
// context preamble, the verbatim user input, and the fixed trailing
// instruction.
func BuildPrompt(turns []history.Turn, input string) string {
	var b strings.Builder

	if len(turns) > 0 {
		if len(turns) > maxContextTurns {
			turns = turns[len(turns)-maxContextTurns:]
		}
		b.WriteString(promptContextHeader)
		b.WriteByte('\n')
		for _, t := range turns {
			b.WriteString(string(t.Sender))
			b.WriteString(": ")
			b.WriteString(truncateRunes(t.Text, maxContextTurnChars))
			b.WriteByte('\n')
		}
		b.WriteString(promptContextFooter)
		b.WriteString("\n\n")
	}

	b.WriteString(input)
	b.WriteString("\n\n")
	b.WriteString(promptTrailer)
	b.WriteByte('\n')
	return b.String()
}

// truncateRunes cuts s to at most n runes. Newlines are flattened so each
// context turn stays on one line.
func truncateRunes(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
