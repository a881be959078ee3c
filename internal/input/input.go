// Package input loads URL lists from text, CSV, and XLSX files.
package input

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/distill-cli/internal/pipeline"
)

// ErrUnsupported is returned for file extensions Load cannot read.
var ErrUnsupported = eris.New("input: unsupported file type")

// urlColumns are header names recognized as the URL column, compared
// case-insensitively.
var urlColumns = []string{"url", "urls", "link", "website"}

// Load reads the URLs in path. The format is picked from the extension:
// .txt (one URL per line, # comments), .csv, or .xlsx. Tabular files use the
// column whose header names a URL, or the first column when none does.
// The result is trimmed and deduplicated in file order.
func Load(ctx context.Context, path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "input: open file")
		}
		defer f.Close() //nolint:errcheck
		return ReadText(f)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "input: open file")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	default:
		return nil, eris.Wrapf(ErrUnsupported, "%s", filepath.Ext(path))
	}
}

// ReadText reads one URL per line, skipping blank lines and # comments.
func ReadText(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "input: read text")
	}
	var urls []string
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return pipeline.NormalizeURLs(urls), nil
}

// fromRows picks the URL column out of tabular rows. A header row is
// recognized when one of its cells names a URL column, or when its first
// cell is not itself a URL.
func fromRows(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	col, body := 0, rows
	if idx, ok := urlColumn(rows[0]); ok {
		col, body = idx, rows[1:]
	} else if len(rows[0]) > 0 && !looksLikeURL(rows[0][0]) {
		body = rows[1:]
	}

	urls := make([]string, 0, len(body))
	for _, row := range body {
		if col < len(row) {
			urls = append(urls, row[col])
		}
	}
	return pipeline.NormalizeURLs(urls)
}

func urlColumn(header []string) (int, bool) {
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		for _, c := range urlColumns {
			if name == c {
				return i, true
			}
		}
	}
	return 0, false
}

func looksLikeURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "www.")
}
