package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gugacoder/insight-kb-sub001/internal/logging"
	"github.com/gugacoder/insight-kb-sub001/internal/rage"
)

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the provider API base (e.g. "https://api.example.com/v1").
	BaseURL string
	// Organization is the tenant identifier in the retrieval path.
	Organization string
	// Pipeline is the retrieval pipeline identifier in the path.
	Pipeline string
	// APIKey is the Bearer token.
	APIKey string
	// HTTPClient overrides the default client (nil = 30s-timeout default).
	HTTPClient *http.Client
}

// Client talks to the retrieval provider over plain HTTP. It is safe for
// concurrent use. Per-call deadlines come from the caller's context; the
// embedded http.Client timeout is only a last-resort backstop.
type Client struct {
	retrieveURL string
	healthURL   string
	apiKey      string
	client      *http.Client
}

// NewClient constructs a Client from the given config.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		retrieveURL: fmt.Sprintf("%s/org/%s/pipelines/%s/retrieval", base, cfg.Organization, cfg.Pipeline),
		healthURL:   base + "/health",
		apiKey:      cfg.APIKey,
		client:      hc,
	}
}

// envelope is the raw provider response. Exactly one of the two arrays is
// expected to be present; which one depends on the provider version.
type envelope struct {
	Documents []wireDocument `json:"documents"`
	Results   []wireResult   `json:"results"`
}

// wireDocument is the native response shape: score is already normalized.
type wireDocument struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Score    float64      `json:"score"`
	Metadata wireMetadata `json:"metadata"`
}

// wireResult is the generic response shape: the score arrives as either a
// similarity or a relevancy field, and the text as either content or text.
type wireResult struct {
	ID         string       `json:"id"`
	Text       string       `json:"text"`
	Content    string       `json:"content"`
	Similarity *float64     `json:"similarity"`
	Relevancy  *float64     `json:"relevancy"`
	Metadata   wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	Source    string `json:"source"`
	Page      int    `json:"page"`
	Section   string `json:"section"`
	Timestamp string `json:"timestamp"`
}

// Retrieve sends one retrieval request and normalizes the response. HTTP
// error statuses are mapped through the rage taxonomy so the resilience
// layers can classify them without string matching.
func (c *Client) Retrieve(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.retrieveURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieval: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("retrieval: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rage.FromStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, rage.Wrap(rage.KindValidation, "retrieval: decode response", err)
	}

	result, err := normalize(body)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("retrieval: response normalized",
		"documents", len(result.Documents),
		"latency_ms", time.Since(start).Milliseconds())
	return result, nil
}

// normalize maps whichever response shape arrived into canonical Documents.
// A body carrying neither known array is a provider contract violation.
func normalize(body envelope) (*Result, error) {
	switch {
	case body.Documents != nil:
		docs := make([]Document, 0, len(body.Documents))
		for _, d := range body.Documents {
			docs = append(docs, Document{
				ID:       d.ID,
				Text:     d.Text,
				Score:    clampScore(d.Score),
				Metadata: d.Metadata.canonical(),
			})
		}
		return &Result{Documents: docs}, nil

	case body.Results != nil:
		docs := make([]Document, 0, len(body.Results))
		for _, r := range body.Results {
			text := r.Text
			if text == "" {
				text = r.Content
			}
			score := 0.0
			switch {
			case r.Similarity != nil:
				score = *r.Similarity
			case r.Relevancy != nil:
				score = *r.Relevancy
			}
			docs = append(docs, Document{
				ID:       r.ID,
				Text:     text,
				Score:    clampScore(score),
				Metadata: r.Metadata.canonical(),
			})
		}
		return &Result{Documents: docs}, nil

	default:
		return nil, rage.New(rage.KindValidation, "retrieval: unrecognized response shape")
	}
}

func (m wireMetadata) canonical() Metadata {
	return Metadata{
		Source:    m.Source,
		Page:      m.Page,
		Section:   m.Section,
		Timestamp: parseTimestamp(m.Timestamp),
	}
}

// parseTimestamp accepts RFC 3339 or a bare date. Anything else yields the
// zero time, which downstream scoring treats as "no recency information".
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// HealthCheck probes the provider's health endpoint and reports
// availability plus round-trip latency. It never returns an error: an
// unreachable provider is reported as down.
func (c *Client) HealthCheck(ctx context.Context) Health {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return Health{Up: false, Latency: time.Since(start)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Health{Up: false, Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	return Health{
		Up:      resp.StatusCode >= 200 && resp.StatusCode < 500,
		Latency: time.Since(start),
	}
}

// Ping satisfies the server's readiness Pinger interface.
func (c *Client) Ping(ctx context.Context) error {
	if h := c.HealthCheck(ctx); !h.Up {
		return fmt.Errorf("retrieval provider unreachable")
	}
	return nil
}
