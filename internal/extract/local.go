package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	mdp "github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	localUserAgent = "Mozilla/5.0 (compatible; DistillBot/1.0)"
	localBodyLimit = 2 << 20
	localMinBody   = 100
)

// StatusError is an HTTP error status returned by a fetched page.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d", e.StatusCode)
}

// HTTPStatus returns the page's status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Local fetches pages directly and converts their HTML to Markdown. It makes
// no paid API calls.
type Local struct {
	client   *http.Client
	conv     *md.Converter
	parallel int
}

// LocalOption configures a Local extractor.
type LocalOption func(*Local)

// WithLocalHTTPClient sets the HTTP client used for page fetches.
func WithLocalHTTPClient(hc *http.Client) LocalOption {
	return func(l *Local) {
		l.client = hc
	}
}

// NewLocal creates a Local extractor fetching up to parallel pages at once.
func NewLocal(parallel int, opts ...LocalOption) *Local {
	conv := md.NewConverter("", true, nil)
	conv.Use(mdp.GitHubFlavored())

	l := &Local{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		conv:     conv,
		parallel: parallel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements Extractor.
func (l *Local) Name() string { return "local" }

// Extract implements Extractor.
func (l *Local) Extract(ctx context.Context, urls []string) (*Result, error) {
	return fanOut(ctx, l.Name(), urls, l.parallel, l.fetch)
}

func (l *Local) fetch(ctx context.Context, targetURL string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Page{}, eris.Wrap(err, "local: create request")
	}
	req.Header.Set("User-Agent", localUserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return Page{}, eris.Wrap(err, "local: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, localBodyLimit))
	if err != nil {
		return Page{}, eris.Wrap(err, "local: read body")
	}

	if block := DetectBlock(resp, body); block != BlockNone {
		return Page{}, eris.Wrapf(ErrBlocked, "local: %s", block)
	}
	if resp.StatusCode >= 400 {
		return Page{}, &StatusError{StatusCode: resp.StatusCode}
	}
	if len(bytes.TrimSpace(body)) < localMinBody {
		return Page{}, eris.Wrap(ErrEmptyPage, "local")
	}

	title, content, err := l.convert(decodeCharset(resp.Header.Get("Content-Type"), body))
	if err != nil {
		return Page{}, err
	}
	if content == "" {
		return Page{}, eris.Wrap(ErrEmptyPage, "local")
	}
	return Page{URL: targetURL, Title: title, Content: content}, nil
}

// decodeCharset converts body to UTF-8 when the Content-Type names another
// charset. Unknown charsets leave body unchanged.
func decodeCharset(contentType string, body []byte) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return body
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// convert strips page chrome and renders the remaining body as Markdown.
func (l *Local) convert(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", eris.Wrap(err, "local: parse html")
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer, header, aside, iframe, form").Remove()

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	html, err := goquery.OuterHtml(root)
	if err != nil {
		return "", "", eris.Wrap(err, "local: render html")
	}
	out, err := l.conv.ConvertString(html)
	if err != nil {
		return "", "", eris.Wrap(err, "local: convert markdown")
	}
	out = blankLines.ReplaceAllString(out, "\n\n")
	return title, strings.TrimSpace(out), nil
}
