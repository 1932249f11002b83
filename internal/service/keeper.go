package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/domain"
)

const keeperLockKey = "keeper:sweep"

// Settler is the part of the engine the keeper drives.
type Settler interface {
	ExpiredOrders(ctx context.Context, afterID uint64, limit int) ([]domain.OrderView, error)
	SettleCancelled(ctx context.Context, call domain.Call, orderID uint64) (domain.Order, error)
}

// KeeperConfig tunes the expiry sweep.
type KeeperConfig struct {
	// Address is recorded as the caller of every forfeiture.
	Address  common.Address
	Interval time.Duration
	// BatchSize caps the orders resolved per sweep.
	BatchSize int
}

// Keeper resolves open orders whose settlement deadline has passed by
// forfeiting the seller's bond to the buyer.
type Keeper struct {
	settler Settler
	locks   domain.LockManager
	cfg     KeeperConfig
	logger  *slog.Logger

	// cursor is the last order id of the previous full batch. The next sweep
	// starts after it so orders that keep failing cannot starve newer ones.
	mu     sync.Mutex
	cursor uint64
}

// NewKeeper creates a Keeper. locks may be nil for a single replica.
func NewKeeper(settler Settler, locks domain.LockManager, cfg KeeperConfig, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Keeper{
		settler: settler,
		locks:   locks,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("interval", k.cfg.Interval),
		slog.Int("batch_size", k.cfg.BatchSize),
	)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.Sweep(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep forfeits up to BatchSize expired orders and returns how many were
// resolved. Another replica holding the sweep lock makes it a no-op.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, keeperLockKey, k.cfg.Interval)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "sweep skipped, lock held elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("keeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	expired, err := k.settler.ExpiredOrders(ctx, k.cursor, k.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("keeper: %w", err)
	}
	if len(expired) == 0 && k.cursor > 0 {
		// Wrapped past the newest expired order; start over.
		k.cursor = 0
		expired, err = k.settler.ExpiredOrders(ctx, 0, k.cfg.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("keeper: %w", err)
		}
	}
	if len(expired) == k.cfg.BatchSize {
		k.cursor = expired[len(expired)-1].ID
	} else {
		k.cursor = 0
	}

	call := domain.Call{Caller: k.cfg.Address}
	resolved := 0
	for _, o := range expired {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if _, err := k.settler.SettleCancelled(ctx, call, o.ID); err != nil {
			// Someone else may have settled it between listing and now.
			k.logger.WarnContext(ctx, "forfeit failed",
				slog.Uint64("order_id", o.ID),
				slog.String("code", domain.CodeOf(err)),
				slog.String("error", err.Error()),
			)
			continue
		}
		resolved++
	}

	if resolved > 0 {
		k.logger.InfoContext(ctx, "expired orders forfeited",
			slog.Int("resolved", resolved),
			slog.Int("found", len(expired)),
		)
	}
	return resolved, nil
}
