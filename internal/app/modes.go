package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/premarket/internal/server"
	"github.com/alanyoungcy/premarket/internal/server/handler"
	"github.com/alanyoungcy/premarket/internal/server/ws"
	"github.com/alanyoungcy/premarket/internal/service"
)

// ServerMode serves the HTTP API and the event websocket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEvents(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode only runs the expiry sweep. Several keeper replicas may run;
// the sweep lock lets one of them work at a time.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEvents(ctx, g, deps)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode only runs the scheduled archive export.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 is not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every enabled subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEvents(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Keeper.Enabled {
		a.startKeeper(ctx, g, deps)
	}
	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			a.logger.WarnContext(ctx, "archive enabled but s3 is not configured, skipping")
		} else {
			a.startArchive(ctx, g, deps)
		}
	}
	return g.Wait()
}

// startEvents delivers queued event notifications.
func (a *App) startEvents(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return ignoreCanceled(deps.Events.Run(ctx))
	})
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(deps.Engine, deps.LockManager, service.KeeperConfig{
		Address:   deps.Operator,
		Interval:  a.cfg.Keeper.Interval.Duration,
		BatchSize: a.cfg.Keeper.BatchSize,
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(keeper.Run(ctx))
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	job := service.NewArchiveJob(deps.Archiver, deps.LockManager, service.ArchiveConfig{
		Schedule:  a.cfg.Archive.Cron,
		Retention: a.cfg.Archive.Retention(),
	}, a.logger)
	g.Go(func() error {
		return ignoreCanceled(job.Run(ctx))
	})
}

// startHTTPServer builds the API and the websocket hub. Without Redis the hub
// is fed in process by the event fan-out; with Redis it follows the bus so
// every replica sees every event.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(ws.Config{
		Bus:       deps.SignalBus,
		Channel:   service.EventsChannel,
		Stream:    service.EventsChannel,
		StartedAt: time.Now().UTC(),
	}, a.logger)
	if deps.SignalBus == nil {
		deps.Events.AddSink(hub)
	}
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Assets: handler.NewAssetHandler(deps.Engine, a.logger),
		Offers: handler.NewOfferHandler(deps.Engine, a.logger),
		Orders: handler.NewOrderHandler(deps.Engine, a.logger),
	}
	if a.cfg.Server.LedgerEndpoints {
		handlers.Ledger = handler.NewLedgerHandler(deps.Ledger, a.cfg.AdminAddress(), a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AuthSkew:    a.cfg.Server.AuthSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats a cancelled context as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
