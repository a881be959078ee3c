package model

import "strings"

// TokenUsage tracks rewrite token consumption.
type TokenUsage struct {
	InputTokens    int `json:"input_tokens"`
	OutputTokens   int `json:"output_tokens"`
	ThinkingTokens int `json:"thinking_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.ThinkingTokens += other.ThinkingTokens
	t.TotalTokens += other.TotalTokens
}

// ContentStats is the size of a piece of text.
type ContentStats struct {
	Lines int `json:"lines"`
	Bytes int `json:"bytes"`
}

// StatsOf measures s. Empty text has zero lines.
func StatsOf(s string) ContentStats {
	if s == "" {
		return ContentStats{}
	}
	return ContentStats{
		Lines: strings.Count(s, "\n") + 1,
		Bytes: len(s),
	}
}

// Add merges stats from another instance.
func (c *ContentStats) Add(other ContentStats) {
	c.Lines += other.Lines
	c.Bytes += other.Bytes
}
