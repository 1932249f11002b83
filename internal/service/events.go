package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// EventsChannel is the bus channel and stream that carry boundary events.
const EventsChannel = "events"

// EventNotifier forwards an event to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Sink receives encoded events in process, e.g. a websocket hub when no bus
// is configured.
type Sink interface {
	Broadcast(payload []byte)
}

// EventFanout implements domain.EventPublisher. Each committed event is
// published on the bus, appended to the bus stream, written to the audit log
// and handed to local sinks synchronously; notifications are queued and sent
// by Run so a slow chat API never holds up the engine. Failures are logged and
// never reach the caller.
type EventFanout struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier EventNotifier
	logger   *slog.Logger

	mu    sync.RWMutex
	sinks []Sink

	queue chan domain.Event
}

// NewEventFanout creates an EventFanout. Any collaborator may be nil.
func NewEventFanout(bus domain.SignalBus, audit domain.AuditStore, notifier EventNotifier, logger *slog.Logger) *EventFanout {
	return &EventFanout{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
		queue:    make(chan domain.Event, 256),
	}
}

// AddSink registers a local receiver for encoded events.
func (f *EventFanout) AddSink(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

// Publish implements domain.EventPublisher.
func (f *EventFanout) Publish(ctx context.Context, events ...domain.Event) {
	// The engine call that produced the events has already committed; a
	// cancelled request context must not drop them.
	ctx = context.WithoutCancel(ctx)

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			f.logger.ErrorContext(ctx, "marshal event failed",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if f.bus != nil {
			if err := f.bus.Publish(ctx, EventsChannel, payload); err != nil {
				f.logger.WarnContext(ctx, "bus publish failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
			if err := f.bus.StreamAppend(ctx, EventsChannel, payload); err != nil {
				f.logger.WarnContext(ctx, "stream append failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}

		if f.audit != nil {
			if err := f.audit.Log(ctx, string(ev.Type), auditDetail(ev)); err != nil {
				f.logger.ErrorContext(ctx, "audit log failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}

		f.mu.RLock()
		for _, s := range f.sinks {
			s.Broadcast(payload)
		}
		f.mu.RUnlock()

		if f.notifier != nil {
			select {
			case f.queue <- ev:
			default:
				f.logger.WarnContext(ctx, "notification queue full, dropping",
					slog.String("event", string(ev.Type)),
					slog.String("event_id", ev.ID),
				)
			}
		}
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (f *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := f.notifier.NotifyEvent(sendCtx, ev); err != nil {
				f.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

func auditDetail(ev domain.Event) map[string]any {
	detail := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		detail[k] = v
	}
	detail["event_id"] = ev.ID
	detail["occurred_at"] = ev.OccurredAt.UTC().Format(time.RFC3339)
	return detail
}

var _ domain.EventPublisher = (*EventFanout)(nil)
