package kmoni

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
)

// MaxAttempts is the number of GET attempts made before a fetch is reported failed.
const MaxAttempts = 3

const (
	latestTimeLayout = "2006/01/02 15:04:05"
	pathStampLayout  = "20060102150405"
	pathDayLayout    = "20060102"
)

// ErrFetchFailed matches every *FetchError.
var ErrFetchFailed = errors.New("feed fetch failed")

// FetchError is returned once every attempt for a URL has failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %d attempts failed: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// Timeouts bounds each single GET attempt per endpoint family.
type Timeouts struct {
	Latest time.Duration
	Report time.Duration
	Image  time.Duration
}

// Client reads the kmoni feed: the latest-time lookup, per-second report
// documents and the map image layers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeouts   Timeouts
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a feed client rooted at baseURL.
func NewClient(baseURL string, timeouts Timeouts, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    baseURL,
		timeouts:   timeouts,
		metrics:    metrics,
		logger:     logger,
	}
}

// Get fetches url with up to MaxAttempts attempts and no pause between them.
// Each attempt is bounded by timeout. A non-200 status consumes an attempt.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	return c.get(ctx, "generic", url, timeout)
}

// LatestTime returns the newest instant for which the feed has published data.
func (c *Client) LatestTime(ctx context.Context) (time.Time, error) {
	body, err := c.get(ctx, "latest", c.baseURL+"/webservice/server/pros/latest.json", c.timeouts.Latest)
	if err != nil {
		return time.Time{}, err
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("decode latest time: %w", err)
	}
	t, err := time.ParseInLocation(latestTimeLayout, resp.LatestTime, domain.FeedLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse latest time %q: %w", resp.LatestTime, err)
	}
	return t, nil
}

// Report fetches the raw warning document for instant t.
func (c *Client) Report(ctx context.Context, t time.Time) ([]byte, error) {
	return c.get(ctx, "report", c.ReportURL(t), c.timeouts.Report)
}

// Layer fetches one transparent GIF overlay for instant t.
func (c *Client) Layer(ctx context.Context, kind domain.LayerKind, t time.Time) ([]byte, error) {
	u, err := c.LayerURL(kind, t)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, "layer", u, c.timeouts.Image)
}

// BaseMap fetches the static background map.
func (c *Client) BaseMap(ctx context.Context) ([]byte, error) {
	return c.get(ctx, "base_map", c.baseURL+"/data/map_img/CommonImg/base_map_w.gif", c.timeouts.Image)
}

// ReportURL is the report document address for instant t.
func (c *Client) ReportURL(t time.Time) string {
	return fmt.Sprintf("%s/webservice/hypo/eew/%s.json", c.baseURL, stamp(t))
}

// LayerURL is the image address of kind at instant t.
func (c *Client) LayerURL(kind domain.LayerKind, t time.Time) (string, error) {
	var dir, suffix string
	switch kind {
	case domain.LayerRealtime:
		dir, suffix = "RealTimeImg/jma_s", "jma_s"
	case domain.LayerPredictedIntensity:
		dir, suffix = "EstShindoImg/eew", "eew"
	case domain.LayerWavefront:
		dir, suffix = "PSWaveImg/eew", "eew"
	default:
		return "", fmt.Errorf("unknown layer kind %d", kind)
	}
	ft := t.In(domain.FeedLocation)
	return fmt.Sprintf("%s/data/map_img/%s/%s/%s.%s.gif",
		c.baseURL, dir, ft.Format(pathDayLayout), ft.Format(pathStampLayout), suffix), nil
}

func (c *Client) get(ctx context.Context, endpoint, url string, timeout time.Duration) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempts < MaxAttempts {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}
		attempts++

		start := time.Now()
		body, err := c.attempt(ctx, url, timeout)
		c.metrics.FetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err == nil {
			c.metrics.FetchAttempts.WithLabelValues(endpoint, "success").Inc()
			return body, nil
		}

		c.metrics.FetchAttempts.WithLabelValues(endpoint, "error").Inc()
		c.logger.Debug("feed fetch attempt failed", "endpoint", endpoint, "url", url, "attempt", attempts, "error", err)
		lastErr = err
	}

	c.metrics.FetchFailures.WithLabelValues(endpoint).Inc()
	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func stamp(t time.Time) string {
	return t.In(domain.FeedLocation).Format(pathStampLayout)
}

type latestResponse struct {
	LatestTime string `json:"latest_time"`
}
