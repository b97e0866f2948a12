package sheets

import (
	"context"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	drepo "KasPull/internal/domain/repository"
	apphttp "KasPull/pkg/http"
)

const defaultUserAgent = "KasPull/1.0 (+balance poller)"

// Client reads the published spreadsheet CSV and returns its first cell.
type Client struct {
	url       string
	userAgent string
	http      *apphttp.Client
	now       func() time.Time
}

type Option func(*Client)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *apphttp.Client) Option {
	return func(c *Client) { c.http = h }
}

func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a fetcher for the CSV export at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:       url,
		userAgent: defaultUserAgent,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = apphttp.NewClient(apphttp.WithMaxBody(16 << 10))
	}
	return c
}

var _ drepo.SourceFetcher = (*Client)(nil)

// FetchRaw performs one GET and returns the first cell of the body.
func (c *Client) FetchRaw(ctx context.Context, cacheBust bool) (string, int, error) {
	opts := &apphttp.RequestOptions{
		Method: apphttp.MethodGet,
		URL:    c.url,
		Headers: map[string]string{
			"Accept":        "text/csv, text/plain;q=0.9, */*;q=0.1",
			"Cache-Control": "no-cache",
			"Pragma":        "no-cache",
			"User-Agent":    c.userAgent,
		},
	}
	if cacheBust {
		opts.QueryParams = map[string][]string{
			"_": {strconv.FormatInt(c.now().UnixMilli(), 10)},
		}
	}

	body, status, err := c.http.ReadText(ctx, opts)
	if err != nil {
		return "", status, err
	}
	return firstCell(body), status, nil
}

// firstCell returns the trimmed first line of body. Only a line that starts
// with a quote is read as a CSV field, so an unquoted "1.234,56" survives
// intact for the normalizer.
func firstCell(body string) string {
	body = strings.TrimPrefix(body, "\ufeff")
	line, _, _ := strings.Cut(body, "\n")
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, `"`) {
		return line
	}

	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err != nil || len(rec) == 0 {
		return line
	}
	return strings.TrimSpace(rec[0])
}
