// Package notify delivers admin and user notifications over outbound
// channels.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Channel names used for admin notifications.
const (
	ChannelDraftAdmin     = "draft-admin-process"
	ChannelQuestionsAdmin = "questions-admin-process"
)

// Embed colors.
const (
	ColorBlue   = 3447003
	ColorRed    = 15158332
	ColorGreen  = 3066993
	ColorOrange = 15105570
)

var ErrNotDelivered = errors.New("notification not delivered")

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Message is a channel-neutral notification. Recipient is set when the
// message is addressed to a single user rather than the admin channel.
type Message struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      string  `json:"footer,omitempty"`
	Recipient   string  `json:"recipient,omitempty"`
}

// Text renders the message as plain text for channels without rich layout.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteString("\n\n")
	if m.Description != "" {
		b.WriteString(m.Description)
		b.WriteString("\n\n")
	}
	for _, f := range m.Fields {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	if m.Footer != "" {
		b.WriteString("\n")
		b.WriteString(m.Footer)
		b.WriteString("\n")
	}
	return b.String()
}

// Sender delivers a message to a named channel. It reports whether the
// message was accepted by the remote end.
type Sender interface {
	Send(ctx context.Context, channel string, msg Message) (bool, error)
}

// Multi fans a message out to every sender. It is delivered when at least one
// sender accepted it.
type Multi struct {
	senders []Sender
	logger  *zap.Logger
}

func NewMulti(logger *zap.Logger, senders ...Sender) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{senders: senders, logger: logger.Named("notify")}
}

func (m *Multi) Len() int { return len(m.senders) }

func (m *Multi) Send(ctx context.Context, channel string, msg Message) (bool, error) {
	if len(m.senders) == 0 {
		return false, ErrNotDelivered
	}
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		delivered bool
		errs      []error
	)
	for _, s := range m.senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			ok, err := s.Send(ctx, channel, msg)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				delivered = true
			}
			if err != nil {
				errs = append(errs, err)
			}
		}(s)
	}
	wg.Wait()

	if delivered {
		if len(errs) > 0 {
			m.logger.Warn("partial delivery", zap.String("channel", channel), zap.Error(errors.Join(errs...)))
		}
		return true, nil
	}
	if len(errs) == 0 {
		return false, ErrNotDelivered
	}
	return false, errors.Join(errs...)
}

// Preview cuts s to max runes, appending "..." when it was longer.
func Preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
