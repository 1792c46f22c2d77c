// Package moderation is the timeout-bounded client to the external text and
// image classification service. It makes exactly one attempt per check and
// fails open: when the classifier is unreachable the content is approved with
// a reason that stays distinguishable from a normal approval.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
)

// Client talks to the classifier service.
type Client struct {
	baseURL      string
	textTimeout  time.Duration
	imageTimeout time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a classifier client. textTimeout bounds the synchronous
// send path; imageTimeout may be materially longer.
func NewClient(baseURL string, textTimeout, imageTimeout time.Duration, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		textTimeout:  textTimeout,
		imageTimeout: imageTimeout,
		httpClient:   &http.Client{},
		logger:       logger.With().Str("component", "moderation").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// classifyRequest is the wire request to the classifier.
type classifyRequest struct {
	Text string `json:"text"`
}

// classifyResponse is the classifier's wire response. Result true means the
// content is unsafe.
type classifyResponse struct {
	Result     bool     `json:"result"`
	Confidence float64  `json:"confidence,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Check classifies text content. Whitespace-only text short-circuits to an
// approval without a network call.
func (c *Client) Check(ctx context.Context, text string) models.Verdict {
	if strings.TrimSpace(text) == "" {
		return models.Verdict{Blocked: false, Reason: models.ReasonNone}
	}
	return c.classify(ctx, "/check", text, models.ContentText, c.textTimeout)
}

// CheckImage classifies image content (by reference). The timeout is the
// longer image budget; the policy on unavailability is still fail-open.
func (c *Client) CheckImage(ctx context.Context, imageRef string) models.Verdict {
	if strings.TrimSpace(imageRef) == "" {
		return models.Verdict{Blocked: false, Reason: models.ReasonNone}
	}
	return c.classify(ctx, "/check/image", imageRef, models.ContentImage, c.imageTimeout)
}

func (c *Client) classify(ctx context.Context, path, content string, kind models.ContentKind, timeout time.Duration) models.Verdict {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	verdict, err := c.doClassify(ctx, path, content)
	metrics.ModerationLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		// Fail open: chat availability wins when the safety service itself is
		// down. The fallback reason keeps these approvals visible.
		metrics.ModerationFailOpen.WithLabelValues(string(kind)).Inc()
		c.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("reason", string(models.ReasonServiceFallback)).
			Msg("classifier unavailable, approving content")
		return models.Verdict{Blocked: false, Reason: models.ReasonServiceFallback}
	}
	return verdict
}

// doClassify performs the single classification attempt.
func (c *Client) doClassify(ctx context.Context, path, content string) (models.Verdict, error) {
	body, err := json.Marshal(classifyRequest{Text: content})
	if err != nil {
		return models.Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Verdict{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.Verdict{}, err
	}

	if result.Result {
		return models.Verdict{
			Blocked:    true,
			Reason:     models.ReasonUnsafeText,
			Confidence: result.Confidence,
		}, nil
	}
	return models.Verdict{Blocked: false, Reason: models.ReasonNone, Confidence: result.Confidence}, nil
}

// Health probes the classifier's /health endpoint for the service healthz.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier health returned status %d", resp.StatusCode)
	}
	return nil
}
