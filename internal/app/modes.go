package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelhart/tradehall/internal/server"
	"github.com/avelhart/tradehall/internal/server/handler"
	"github.com/avelhart/tradehall/internal/service"
	"github.com/avelhart/tradehall/internal/sweep"
)

// ServeMode runs the HTTP API only. Expiration sweeping is expected to run in
// a separate sweep-mode process sharing the same database.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// SweepMode runs the expiration sweeper and archive purger without the HTTP
// API.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweep mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSweeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API and the sweeper in a single process. The API can
// be switched off with server.enabled for sweep-plus-notifications deploys.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	a.startSweeper(ctx, g, deps)
	return g.Wait()
}

// buildMarketService assembles the settlement service from wired dependencies
// and the configured trading limits.
func (a *App) buildMarketService(deps *Dependencies) *service.MarketService {
	limits := service.Limits{
		MinPrice:           a.cfg.Market.MinPriceDecimal(),
		MaxPrice:           a.cfg.Market.MaxPriceDecimal(),
		MinDuration:        time.Duration(a.cfg.Market.MinDurationHours) * time.Hour,
		MaxDuration:        time.Duration(a.cfg.Market.MaxDurationHours) * time.Hour,
		MaxActivePerSeller: a.cfg.Market.MaxActivePerSeller,
		FeePercent:         a.cfg.Market.FeePercentDecimal(),
		MinFee:             a.cfg.Market.MinFeeDecimal(),
		MaxFee:             a.cfg.Market.MaxFeeDecimal(),
	}

	svc := service.NewMarketService(
		deps.Listings, deps.Cache, deps.Ledger, deps.Custody,
		deps.Categories, limits, a.logger,
	)
	if deps.Notifier != nil {
		svc = svc.WithNotifier(deps.Notifier)
	}
	return svc
}

// startHTTPServer adds the API server and its shutdown watcher to the
// errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	marketSvc := a.buildMarketService(deps)

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Pool),
		Listings:   handler.NewListingHandler(marketSvc, a.logger),
		Categories: handler.NewCategoryHandler(marketSvc),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startSweeper adds the background sweeper to the errgroup.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sweeper := sweep.New(deps.Listings, deps.Cache, sweep.Config{
		SweepInterval: a.cfg.Market.SweepInterval.Duration,
		PurgeInterval: a.cfg.Market.PurgeInterval.Duration,
		RetentionDays: a.cfg.Market.ExpiredRetentionDays,
	}, a.logger)

	if deps.Archiver != nil {
		sweeper = sweeper.WithArchiver(deps.Archiver)
	}
	if deps.Notifier != nil {
		sweeper = sweeper.WithNotifier(deps.Notifier)
	}

	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}
