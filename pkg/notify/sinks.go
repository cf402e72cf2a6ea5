package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/packlimit/pkg/telemetry/tracing"
)

// Sink delivers rendered messages.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// LogSink writes every message to the rate limit stats log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink writes to logger, typically one from logging.NewStatsLogger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, m Message) error {
	e := m.Event
	s.logger.InfoContext(ctx, m.Text,
		"event_id", e.ID,
		"kind", string(e.Kind),
		"key", e.Key,
		"user", m.User,
	)
	return nil
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration

	// MaxTries bounds delivery attempts. Default: 3
	MaxTries uint

	// Client overrides the HTTP client.
	Client *http.Client
}

// WebhookSink posts messages as JSON.
type WebhookSink struct {
	url      string
	client   *http.Client
	maxTries uint
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	return &WebhookSink{url: cfg.URL, client: client, maxTries: cfg.MaxTries}
}

// WebhookPayload is the JSON body of a webhook delivery.
type WebhookPayload struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"`
	Key              string    `json:"key"`
	User             string    `json:"user"`
	Subject          string    `json:"subject"`
	Message          string    `json:"message"`
	WarnLimit        int       `json:"warn_limit,omitempty"`
	MaxPermits       int       `json:"max_permits"`
	WindowMinutes    int       `json:"window_minutes"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Time             time.Time `json:"time"`
}

func (s *WebhookSink) Name() string { return "webhook" }

// Send posts m, retrying network failures and 5xx responses with
// exponential backoff. 4xx responses are not retried.
func (s *WebhookSink) Send(ctx context.Context, m Message) error {
	e := m.Event
	body, err := json.Marshal(WebhookPayload{
		ID:               e.ID,
		Kind:             string(e.Kind),
		Key:              e.Key,
		User:             m.User,
		Subject:          m.Subject(),
		Message:          m.Text,
		WarnLimit:        e.WarnLimit,
		MaxPermits:       e.MaxPermits,
		WindowMinutes:    e.WindowMinutes,
		RemainingSeconds: int64(e.Remaining / time.Second),
		Time:             e.Time,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
	return err
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.Inject(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	return nil
}
