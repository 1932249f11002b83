// Package engine implements the pre-market OTC state machine: the token
// registry, the offer book and order settlement with its escrow ledger.
//
// Every state-changing call runs as one domain.Store transaction and is
// serialized by the engine, so status checks, ledger movements and record
// updates either all happen or none do. Boundary events are published only
// after the transaction commits.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/premarket/internal/domain"
)

// Config holds the engine's collaborators. Only Admin is required.
type Config struct {
	// Admin may register assets, open settlement, manage the payment
	// whitelist and force-cancel orders.
	Admin common.Address
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// Events receives committed boundary events. May be nil.
	Events domain.EventPublisher
	Logger *slog.Logger
}

// Engine is the settlement engine. It is safe for concurrent use.
type Engine struct {
	store  domain.Store
	admin  common.Address
	clock  func() time.Time
	events domain.EventPublisher
	logger *slog.Logger

	// mu serializes state-changing calls within this process. Stores that
	// are shared between processes add their own locking.
	mu sync.Mutex
	// pubMu keeps events in commit order without holding mu while they are
	// published.
	pubMu sync.Mutex
}

// New creates an Engine over store.
func New(store domain.Store, cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		admin:  cfg.Admin,
		clock:  clock,
		events: cfg.Events,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// Admin returns the administrator address.
func (e *Engine) Admin() common.Address {
	return e.admin
}

// now returns the engine time at whole-second resolution.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Second)
}

// txFunc is the body of a state-changing call. It returns the events to
// publish once the transaction commits.
type txFunc func(ctx context.Context, tx domain.Tx, now time.Time) ([]domain.Event, error)

// mutate runs fn as one serialized, atomic unit and publishes its events.
// Publishing happens after mu is released so a slow bus or audit store does
// not hold up the next call.
func (e *Engine) mutate(ctx context.Context, op string, fn txFunc) error {
	events, err := e.commit(ctx, fn)
	if err != nil {
		e.logger.DebugContext(ctx, "call rejected",
			slog.String("op", op),
			slog.String("code", domain.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return err
	}
	if len(events) == 0 {
		return nil
	}
	defer e.pubMu.Unlock()
	e.events.Publish(ctx, events...)
	return nil
}

// commit runs fn under mu. When it returns events, pubMu is held and the
// caller must release it after publishing.
func (e *Engine) commit(ctx context.Context, fn txFunc) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var events []domain.Event
	err := e.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		evs, err := fn(ctx, tx, now)
		if err != nil {
			return err
		}
		events = evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.events == nil || len(events) == 0 {
		return nil, nil
	}
	e.pubMu.Lock()
	return events, nil
}

func (e *Engine) requireAdmin(call domain.Call) error {
	if call.Caller != e.admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// newEvent builds an event from alternating key/value pairs.
func newEvent(typ domain.EventType, now time.Time, kv ...string) domain.Event {
	data := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: now,
		Data:       data,
	}
}

func idString(id uint64) string {
	return strconv.FormatUint(id, 10)
}
