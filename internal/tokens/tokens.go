// Package tokens approximates token counts for context budgeting.
//
// The estimate is deliberately cheap: agents are opaque subprocesses, so no
// real tokenizer is available. Four bytes per token tracks closely enough for
// deciding when to compact and where to truncate.
package tokens

// charsPerToken is the divisor for the estimate. Roughly right for English
// prose and code alike.
const charsPerToken = 4

// Estimate returns an approximate token count for s. It is total and
// monotonic in input length: longer input never yields a smaller count.
func Estimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}
