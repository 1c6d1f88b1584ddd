package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrSkipped is returned (possibly wrapped) by handlers that chose not to act.
var ErrSkipped = errors.New("handler skipped event")

// DefaultHandlerTimeout bounds each handler invocation when no timeout is
// configured.
const DefaultHandlerTimeout = 30 * time.Second

type Handler interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function into a named Handler.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, e Event) error
}

func (f HandlerFunc) Name() string { return f.HandlerName }

func (f HandlerFunc) Handle(ctx context.Context, e Event) error { return f.Fn(ctx, e) }

type Outcome uint8

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// HandlerResult records one handler invocation.
type HandlerResult struct {
	Handler   string        `json:"handler"`
	EventType EventType     `json:"event_type"`
	Outcome   Outcome       `json:"outcome"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns the results whose outcome is OutcomeFailed.
func Failed(results []HandlerResult) []HandlerResult {
	var out []HandlerResult
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

type BusOption func(*Bus)

func WithHandlerTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRegisterer registers the bus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) BusOption {
	return func(b *Bus) { b.metrics = newBusMetrics(reg) }
}

// Bus dispatches events to subscribers synchronously, in registration order.
// Handler failures are recorded and logged but never returned to the emitter.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	timeout  time.Duration
	metrics  *busMetrics
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		timeout:  DefaultHandlerTimeout,
		logger:   logger.Named("events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = newBusMetrics(nil)
	}
	return b
}

func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
	b.logger.Debug("handler subscribed", zap.String("event_type", string(t)), zap.String("handler", h.Name()))
}

func (b *Bus) SubscribeMany(types []EventType, h Handler) {
	for _, t := range types {
		b.Subscribe(t, h)
	}
}

func (b *Bus) HandlerCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}

// Emit delivers e to each subscriber of e.Type and returns one result per
// handler. The subscriber list is snapshotted, so handlers may emit or
// subscribe without deadlocking.
func (b *Bus) Emit(ctx context.Context, e Event) []HandlerResult {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subscribers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		b.logger.Debug("no handlers for event", zap.String("event_type", string(e.Type)))
		return []HandlerResult{}
	}

	results := make([]HandlerResult, 0, len(subscribers))
	for _, h := range subscribers {
		r := b.invoke(ctx, h, e.withOwnMetadata())
		b.metrics.observe(r)
		results = append(results, r)
	}
	return results
}

func (b *Bus) invoke(ctx context.Context, h Handler, e Event) (result HandlerResult) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	name := h.Name()
	start := time.Now()
	result = HandlerResult{Handler: name, EventType: e.Type}
	defer func() {
		if p := recover(); p != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("handler %s panicked: %v", name, p)
			b.logger.Error("handler panicked",
				zap.String("handler", name),
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		result.Duration = time.Since(start)
	}()

	err := h.Handle(ctx, e)
	switch {
	case err == nil:
		result.Outcome = OutcomeSucceeded
	case errors.Is(err, ErrSkipped):
		result.Outcome = OutcomeSkipped
		result.Err = err
		b.logger.Debug("handler skipped event", zap.String("handler", name), zap.String("event_type", string(e.Type)), zap.Error(err))
	default:
		result.Outcome = OutcomeFailed
		result.Err = err
		b.logger.Error("handler failed", zap.String("handler", name), zap.String("event_type", string(e.Type)), zap.Error(err))
	}
	return result
}
