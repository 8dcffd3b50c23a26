// Package census fetches ACS tract-level estimates from the Census API.
// It implements the pipeline's statistics provider.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sab-crosswalk/internal/model"
	"github.com/sells-group/sab-crosswalk/internal/resilience"
)

const defaultBaseURL = "https://api.census.gov/data"

// The API rejects requests with too many variables; stay under its limit.
const maxFieldsPerRequest = 48

// ACS publishes negative sentinel values for suppressed or inapplicable
// estimates (-666666666 and friends); anything at or below this is null.
const sentinelThreshold = -111111111

// Client queries the ACS 5-year detail tables.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the request rate limit in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRetry sets the retry configuration.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates an ACS client. The API key may be empty for low-volume
// use; the API throttles keyless callers aggressively.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(2), 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = resilience.RetryLogger("census", "acs5")
	return c
}

// Statistics fetches the given ACS fields for every tract in a region
// (state FIPS code) and year. Fields beyond the per-request limit are
// chunked into multiple requests.
func (c *Client) Statistics(ctx context.Context, region string, year int, fields []string) ([]model.SourceStatistic, error) {
	if region == "" {
		return nil, eris.New("census: region is required")
	}
	if len(fields) == 0 {
		return nil, eris.New("census: no fields requested")
	}

	var out []model.SourceStatistic
	for start := 0; start < len(fields); start += maxFieldsPerRequest {
		end := min(start+maxFieldsPerRequest, len(fields))
		chunk := fields[start:end]

		stats, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]model.SourceStatistic, error) {
			return c.fetchChunk(ctx, region, year, chunk)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, stats...)
	}

	zap.L().Debug("census: statistics fetched",
		zap.String("region", region),
		zap.Int("year", year),
		zap.Int("fields", len(fields)),
		zap.Int("rows", len(out)),
	)
	return out, nil
}

func (c *Client) fetchChunk(ctx context.Context, region string, year int, fields []string) ([]model.SourceStatistic, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "census: rate limiter")
	}

	q := url.Values{}
	q.Set("get", "GEO_ID,"+strings.Join(fields, ","))
	q.Set("for", "tract:*")
	q.Set("in", "state:"+region)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	endpoint := fmt.Sprintf("%s/%d/acs/acs5?%s", c.baseURL, year, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, eris.Wrap(err, "census: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("census: API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	return parseResponse(body, fields)
}

// parseResponse decodes the Census API's array-of-arrays JSON. The first row
// is the header; null and sentinel values become null statistics.
func parseResponse(body []byte, fields []string) ([]model.SourceStatistic, error) {
	var rows [][]*string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, eris.Wrap(err, "census: decode response")
	}
	if len(rows) == 0 {
		return nil, eris.New("census: empty response")
	}

	header := rows[0]
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		if h != nil {
			colIdx[*h] = i
		}
	}
	geoCol, ok := colIdx["GEO_ID"]
	if !ok {
		return nil, eris.New("census: response missing GEO_ID column")
	}

	var out []model.SourceStatistic
	for _, row := range rows[1:] {
		if geoCol >= len(row) || row[geoCol] == nil {
			continue
		}
		geoid := trimGeoPrefix(*row[geoCol])

		for _, f := range fields {
			i, ok := colIdx[f]
			if !ok || i >= len(row) {
				continue
			}
			out = append(out, model.SourceStatistic{
				GeoID:    geoid,
				Variable: f,
				Value:    parseValue(row[i]),
			})
		}
	}
	return out, nil
}

// trimGeoPrefix strips the summary-level prefix from a full GEO_ID
// ("1400000US49035100100" becomes "49035100100").
func trimGeoPrefix(geoid string) string {
	if i := strings.Index(geoid, "US"); i >= 0 {
		return geoid[i+2:]
	}
	return geoid
}

func parseValue(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil
	}
	if v <= sentinelThreshold {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
