// Package audit provides interfaces.AuditSink implementations. Sinks never
// return errors to the caller: an audit failure is logged and dropped.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/secmon-lab/switchboard/pkg/domain/interfaces"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/utils/async"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
)

// Logger writes events as structured log records
type Logger struct {
	logger *slog.Logger
}

var _ interfaces.AuditSink = &Logger{}

// NewLogger writes to logger, or to the default logger when nil
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Record(ctx context.Context, event model.AuditEvent) {
	logger := l.logger
	if logger == nil {
		logger = logging.From(ctx)
	}

	attrs := make([]any, 0, len(event.Details)+3)
	attrs = append(attrs,
		slog.Time("timestamp", event.Timestamp),
		slog.String("actor", event.Actor),
		slog.String("event_type", string(event.EventType)),
	)
	for k, v := range event.Details {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.Info("audit", slog.Group("audit", attrs...))
}

// Multi fans one event out to several sinks
type Multi []interfaces.AuditSink

var _ interfaces.AuditSink = Multi{}

func (m Multi) Record(ctx context.Context, event model.AuditEvent) {
	for _, sink := range m {
		sink.Record(ctx, event)
	}
}

const defaultBufferSize = 1024

// Async decouples callers from a slow sink. Record never blocks: when the
// buffer is full the event is dropped and counted.
type Async struct {
	sink    interfaces.AuditSink
	events  chan asyncEvent
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

type asyncEvent struct {
	ctx   context.Context
	event model.AuditEvent
}

var _ interfaces.AuditSink = &Async{}

type AsyncOption func(*asyncConfig)

type asyncConfig struct {
	bufferSize int
}

// WithBufferSize sets how many events may wait for the sink
func WithBufferSize(n int) AsyncOption {
	return func(c *asyncConfig) {
		c.bufferSize = n
	}
}

// NewAsync starts the drain goroutine. Call Close to flush.
func NewAsync(ctx context.Context, sink interfaces.AuditSink, opts ...AsyncOption) *Async {
	cfg := asyncConfig{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.bufferSize < 1 {
		cfg.bufferSize = 1
	}

	a := &Async{
		sink:   sink,
		events: make(chan asyncEvent, cfg.bufferSize),
		done:   make(chan struct{}),
	}

	async.Dispatch(ctx, "audit-drain", func(ctx context.Context) error {
		defer close(a.done)
		for ev := range a.events {
			a.sink.Record(ev.ctx, ev.event)
		}
		return nil
	})
	return a
}

func (a *Async) Record(ctx context.Context, event model.AuditEvent) {
	defer func() {
		// Record after Close must not panic the caller
		if recover() != nil {
			a.dropped.Add(1)
		}
	}()

	select {
	case a.events <- asyncEvent{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		n := a.dropped.Add(1)
		logging.From(ctx).Warn("audit buffer full, event dropped",
			"event_type", event.EventType,
			"dropped_total", n)
	}
}

// Dropped returns how many events were discarded
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until buffered events are written
// or ctx is done
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		close(a.events)
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
