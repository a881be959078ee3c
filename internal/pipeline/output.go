package pipeline

import (
	"strings"

	"github.com/samber/lo"

	"github.com/sells-group/distill-cli/internal/model"
)

// DefaultSeparator goes between sections of the output document.
const DefaultSeparator = "\n\n---\n\n"

// UnescapeSeparator turns literal `\n` sequences, as typed into a config
// file or form, into newlines.
func UnescapeSeparator(sep string) string {
	return strings.ReplaceAll(sep, `\n`, "\n")
}

// JoinOutput joins the processed content of completed jobs in job order.
// Jobs with empty content contribute no section.
func JoinOutput(jobs []model.Job, sep string) string {
	sections := lo.FilterMap(jobs, func(j model.Job, _ int) (string, bool) {
		return j.ProcessedContent, j.Status == model.JobStatusCompleted && j.ProcessedContent != ""
	})
	return strings.Join(sections, UnescapeSeparator(sep))
}

// NormalizeURLs trims entries, drops blanks and removes duplicates while
// keeping first-seen order.
func NormalizeURLs(urls []string) []string {
	trimmed := lo.FilterMap(urls, func(u string, _ int) (string, bool) {
		u = strings.TrimSpace(u)
		return u, u != ""
	})
	return lo.Uniq(trimmed)
}
