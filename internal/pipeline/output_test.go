package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/distill-cli/internal/model"
)

func TestUnescapeSeparator(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "\n\n---\n\n", UnescapeSeparator(`\n\n---\n\n`))
	assert.Equal(t, DefaultSeparator, UnescapeSeparator(DefaultSeparator))
	assert.Equal(t, " | ", UnescapeSeparator(" | "))
}

func TestJoinOutput(t *testing.T) {
	t.Parallel()

	jobs := []model.Job{
		{Status: model.JobStatusCompleted, ProcessedContent: "one"},
		{Status: model.JobStatusError, Error: "x"},
		{Status: model.JobStatusCompleted, ProcessedContent: ""},
		{Status: model.JobStatusCompleted, ProcessedContent: "two"},
	}
	assert.Equal(t, "one\n==\ntwo", JoinOutput(jobs, `\n==\n`))
	assert.Empty(t, JoinOutput(nil, DefaultSeparator))
}

func TestNormalizeURLs(t *testing.T) {
	t.Parallel()

	got := NormalizeURLs([]string{" https://a.com ", "", "https://b.com", "https://a.com", "\t"})
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, got)
	assert.Empty(t, NormalizeURLs(nil))
}
