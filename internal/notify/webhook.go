package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type WebhookKind string

const (
	KindDiscord WebhookKind = "discord"
	KindTeams   WebhookKind = "teams"
)

const webhookTimeout = 10 * time.Second

// Webhook posts messages to a Discord or Teams incoming webhook. Transient
// failures are retried a bounded number of times behind a circuit breaker.
type Webhook struct {
	kind       WebhookKind
	url        string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

func NewWebhook(kind WebhookKind, url string, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("webhook").With(zap.String("kind", string(kind)))
	return &Webhook{
		kind:   kind,
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(kind) + "-webhook",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		maxRetries: 2,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			return b
		},
		logger: log,
	}
}

// statusError is a non-success webhook response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.code, e.body)
}

func (w *Webhook) Send(ctx context.Context, channel string, msg Message) (bool, error) {
	payload, err := w.payload(channel, msg)
	if err != nil {
		return false, err
	}

	op := func() error {
		_, err := w.breaker.Execute(func() (interface{}, error) {
			return nil, w.post(ctx, payload)
		})
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		w.logger.Warn("webhook delivery failed", zap.String("channel", channel), zap.Error(err))
		return false, fmt.Errorf("%s webhook: %w", w.kind, err)
	}
	return true, nil
}

func (w *Webhook) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if w.accepted(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
}

func (w *Webhook) accepted(code int) bool {
	if w.kind == KindDiscord {
		return code == http.StatusOK || code == http.StatusNoContent
	}
	return code == http.StatusOK
}

func (w *Webhook) payload(channel string, msg Message) ([]byte, error) {
	switch w.kind {
	case KindDiscord:
		return json.Marshal(discordPayload(channel, msg))
	case KindTeams:
		return json.Marshal(teamsCard(msg))
	default:
		return nil, fmt.Errorf("unknown webhook kind %q", w.kind)
	}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []Field        `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func discordPayload(channel string, msg Message) map[string]any {
	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
		Fields:      msg.Fields,
	}
	if msg.Footer != "" {
		embed.Footer = &discordFooter{Text: msg.Footer}
	}
	content := fmt.Sprintf("[%s]", channel)
	if msg.Recipient != "" {
		content = fmt.Sprintf("[%s] for %s", channel, msg.Recipient)
	}
	return map[string]any{
		"content": content,
		"embeds":  []discordEmbed{embed},
	}
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func teamsCard(msg Message) map[string]any {
	facts := make([]teamsFact, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		facts = append(facts, teamsFact{Name: f.Name, Value: f.Value})
	}
	section := map[string]any{
		"activityTitle":    msg.Title,
		"activitySubtitle": msg.Description,
		"facts":            facts,
		"markdown":         true,
	}
	if msg.Footer != "" {
		section["text"] = msg.Footer
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": fmt.Sprintf("%06X", msg.Color),
		"summary":    msg.Title,
		"sections":   []map[string]any{section},
	}
}
