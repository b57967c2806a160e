package overpass

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/osm"
	"github.com/xtymac/eventflow-sub004/internal/geobox"
	"github.com/xtymac/eventflow-sub004/internal/logging"
	"github.com/xtymac/eventflow-sub004/internal/roadsync/source"
)

const sourceName = "overpass"

// Client queries an Overpass API interpreter endpoint.
type Client struct {
	endpoint   string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new Overpass client.
func NewClient(endpoint, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = source.DefaultTimeout
	}
	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		timeout:   timeout,
		httpClient: &http.Client{
			// Leave the server room to report its own timeout first.
			Timeout: timeout + 5*time.Second,
		},
	}
}

func (c *Client) Name() string { return sourceName }

// FetchWays runs one query for box. It never retries.
func (c *Client) FetchWays(ctx context.Context, box geobox.GeoBox) ([]*osm.Way, error) {
	start := time.Now()
	form := url.Values{"data": {BuildQuery(box, c.timeout)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, source.Classify(fmt.Errorf("overpass request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &source.ExternalServiceError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("overpass status %d", resp.StatusCode),
		}
	}

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return nil, source.Classify(ctx.Err())
		}
		return nil, &source.ExternalServiceError{
			Kind:       source.ServerError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}

	// The interpreter reports runtime failures as a 200 with a remark.
	if strings.Contains(body.Remark, "runtime error") {
		kind := source.ServerError
		if strings.Contains(strings.ToLower(body.Remark), "timed out") {
			kind = source.Timeout
		}
		return nil, &source.ExternalServiceError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("overpass remark: %s", body.Remark),
		}
	}

	ways := make([]*osm.Way, 0, len(body.Elements))
	for _, el := range body.Elements {
		if el.Type != "way" {
			continue
		}
		way, ok := el.toWay()
		if !ok {
			logging.Warn().Str("source", sourceName).Int64("way_id", el.ID).
				Msg("way has missing vertices, skipped")
			continue
		}
		ways = append(ways, way)
	}

	source.LogResponse(sourceName, resp.StatusCode, time.Since(start), len(ways))
	return ways, nil
}

func kindForStatus(status int) source.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return source.RateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return source.Timeout
	default:
		return source.ServerError
	}
}
