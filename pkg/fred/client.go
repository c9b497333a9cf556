// Package fred provides a client for the St. Louis Fed FRED API,
// covering series metadata lookup and observation fetches.
package fred

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL           = "https://api.stlouisfed.org"
	defaultRequestsPerMinute = 30

	dateLayout = "2006-01-02"
)

// ErrProvider marks any transport, status, or parse failure from the
// FRED API. Callers distinguish it to degrade gracefully.
var ErrProvider = eris.New("fred: provider error")

// SeriesMeta is best-effort metadata for one series.
type SeriesMeta struct {
	Description        string     `json:"description"`
	Frequency          string     `json:"frequency"`
	Units              string     `json:"units"`
	SeasonalAdjustment string     `json:"seasonal_adjustment"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}

// Observation is one (date, value) sample of a series.
type Observation struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Client performs series metadata and observation requests.
type Client interface {
	// SeriesMeta fetches metadata for a series. Failures wrap ErrProvider.
	SeriesMeta(ctx context.Context, code string) (*SeriesMeta, error)

	// Observations fetches samples for a series within [start, end].
	// Nil bounds are omitted from the request. Failures wrap ErrProvider.
	Observations(ctx context.Context, code string, start, end *time.Time) ([]Observation, error)
}

// SeriesURL returns the public FRED reference page for a series code.
func SeriesURL(code string) string {
	return "https://fred.stlouisfed.org/series/" + code
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRequestsPerMinute overrides the default request throttle.
func WithRequestsPerMinute(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), 1)
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a FRED API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerMinute/60.0), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type seriesResponse struct {
	Seriess []struct {
		Description        string `json:"description"`
		Frequency          string `json:"frequency"`
		Units              string `json:"units"`
		SeasonalAdjustment string `json:"seasonal_adjustment"`
		LastUpdated        string `json:"last_updated"`
	} `json:"seriess"`
}

func (c *httpClient) SeriesMeta(ctx context.Context, code string) (*SeriesMeta, error) {
	q := url.Values{}
	q.Set("series_id", code)

	body, err := c.get(ctx, "/fred/series", q)
	if err != nil {
		return nil, err
	}

	var resp seriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(ErrProvider, "series %s: unmarshal: %v", code, err)
	}
	if len(resp.Seriess) == 0 {
		return nil, eris.Wrapf(ErrProvider, "series %s: not found", code)
	}

	s := resp.Seriess[0]
	return &SeriesMeta{
		Description:        s.Description,
		Frequency:          s.Frequency,
		Units:              s.Units,
		SeasonalAdjustment: s.SeasonalAdjustment,
		LastUpdated:        parseLastUpdated(s.LastUpdated),
	}, nil
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (c *httpClient) Observations(ctx context.Context, code string, start, end *time.Time) ([]Observation, error) {
	q := url.Values{}
	q.Set("series_id", code)
	if start != nil {
		q.Set("observation_start", start.Format(dateLayout))
	}
	if end != nil {
		q.Set("observation_end", end.Format(dateLayout))
	}

	body, err := c.get(ctx, "/fred/series/observations", q)
	if err != nil {
		return nil, err
	}

	var resp observationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(ErrProvider, "observations %s: unmarshal: %v", code, err)
	}

	obs := make([]Observation, 0, len(resp.Observations))
	for _, o := range resp.Observations {
		// FRED reports missing samples as ".".
		if o.Value == "." {
			continue
		}
		d, err := time.Parse(dateLayout, o.Date)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			continue
		}
		obs = append(obs, Observation{Date: d, Value: v})
	}
	return obs, nil
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(ErrProvider, "rate limit wait: %v", err)
	}

	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrapf(ErrProvider, "create request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(ErrProvider, "send request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(ErrProvider, "read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(ErrProvider, "unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// parseLastUpdated handles FRED's "2006-01-02 15:04:05-07" timestamps,
// tolerating a missing zone suffix.
func parseLastUpdated(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05-07", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
