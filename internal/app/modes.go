package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/costsim/internal/bench"
	"github.com/alanyoungcy/costsim/internal/book"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/feed"
	"github.com/alanyoungcy/costsim/internal/model"
	"github.com/alanyoungcy/costsim/internal/platform/okx"
	"github.com/alanyoungcy/costsim/internal/server"
	"github.com/alanyoungcy/costsim/internal/server/handler"
	"github.com/alanyoungcy/costsim/internal/server/ws"
	"github.com/alanyoungcy/costsim/internal/service"
	"github.com/alanyoungcy/costsim/internal/simulator"
)

// pipeline holds the in-process estimation components shared by all modes.
type pipeline struct {
	ingestor *feed.Ingestor
	sim      *service.SimulationService
}

// buildPipeline constructs the feed, orderbook, models, and simulation
// service from the configuration.
func (a *App) buildPipeline(deps *Dependencies) *pipeline {
	cfg := a.cfg

	dial := func(ctx context.Context, connectTimeout time.Duration) (feed.Conn, error) {
		client := okx.NewClient(cfg.Feed.WsHost, "books", cfg.Feed.Asset, a.logger)
		if err := client.Connect(ctx, connectTimeout); err != nil {
			return nil, err
		}
		return client, nil
	}

	ingestor := feed.New(feed.Config{
		Exchange:       cfg.Feed.Exchange,
		Asset:          cfg.Feed.Asset,
		ConnectTimeout: cfg.Feed.ConnectTimeout.Duration,
		QueueSize:      cfg.Feed.QueueSize,
		Backoff: feed.BackoffConfig{
			Base:           cfg.Feed.BackoffBase.Duration,
			Multiplier:     cfg.Feed.BackoffMultiplier,
			Max:            cfg.Feed.BackoffMax.Duration,
			JitterFraction: cfg.Feed.BackoffJitter,
		},
	}, dial, a.logger)

	bookStore := book.NewStore(book.Config{
		MaxDepth:     cfg.Book.MaxDepth,
		MetricsDepth: cfg.Book.MetricsDepth,
	}, a.logger)

	strategy := model.StrategyQuantile
	if strings.EqualFold(cfg.Slippage.Strategy, "linear") {
		strategy = model.StrategyLinear
	}
	slippage := model.NewSlippageEstimator(model.SlippageConfig{
		HistoryCapacity: cfg.Slippage.HistoryCapacity,
		TrainThreshold:  cfg.Slippage.TrainThreshold,
		Strategy:        strategy,
		Quantile:        cfg.Slippage.Quantile,
		SafetyK:         cfg.Slippage.SafetyK,
		MaxBookAge:      cfg.Slippage.MaxBookAge.Duration,
	}, a.logger)

	impact := model.NewImpactModel(model.ImpactConfig{
		Eta:                  cfg.Impact.Eta,
		Gamma:                cfg.Impact.Gamma,
		RiskAversion:         cfg.Impact.RiskAversion,
		Exponent:             cfg.Impact.Exponent,
		ReferenceVolumeUSD:   cfg.Impact.ReferenceVolumeUSD,
		ImbalanceSensitivity: cfg.Impact.ImbalanceSensitivity,
	})

	tiers := model.NewFeeSchedule(nil)
	if len(cfg.Fees.Tiers) > 0 {
		custom := make(map[string]model.FeeTier, len(cfg.Fees.Tiers))
		for name, t := range cfg.Fees.Tiers {
			custom[name] = model.FeeTier{MakerBps: t.MakerBps, TakerBps: t.TakerBps}
		}
		tiers = model.NewFeeSchedule(custom)
	}

	classifier := model.NewMakerTakerClassifier(model.ClassifierConfig{
		HistoryCapacity: cfg.Slippage.HistoryCapacity,
		TrainThreshold:  cfg.Slippage.TrainThreshold,
	}, a.logger)

	agg := simulator.New(simulator.Config{
		CacheTTL:     cfg.Simulator.CacheTTL.Duration,
		MetricsDepth: cfg.Book.MetricsDepth,
	}, slippage, impact, tiers, classifier, bookStore, bench.NewRecorder(), a.logger)

	initial := domain.SimulationParams{
		Exchange:    cfg.Feed.Exchange,
		Asset:       cfg.Feed.Asset,
		OrderType:   cfg.Params.OrderType,
		QuantityUSD: cfg.Params.QuantityUSD,
		Volatility:  cfg.Params.Volatility,
		FeeTier:     cfg.Params.FeeTier,
		Side:        domain.Side(strings.ToLower(cfg.Params.Side)),
	}

	sim := service.NewSimulationService(service.SimulationConfig{
		MetricsDepth:     cfg.Book.MetricsDepth,
		TickInterval:     cfg.Simulator.TickInterval.Duration,
		ObservationFlush: cfg.Simulator.ObservationFlush,
	}, ingestor, bookStore, agg, slippage, classifier,
		deps.ResultStore, deps.ObservationStore, deps.LiveCache, deps.SignalBus,
		initial, a.logger)

	return &pipeline{ingestor: ingestor, sim: sim}
}

// SimMode runs the headless estimation pipeline: feed, orderbook, models,
// and journaling, with no API surface.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	p := a.buildPipeline(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer p.ingestor.Close()
		return p.ingestor.Run(ctx)
	})
	g.Go(func() error {
		return p.sim.Run(ctx)
	})

	return g.Wait()
}

// ServerMode serves the API surface alone, answering from the journaled
// results and cached metrics. No feed is ingested; full mode runs the live
// pipeline behind the same API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	p := a.buildPipeline(deps)
	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, deps, p)

	return g.Wait()
}

// FullMode runs everything: the pipeline, the API surface, and periodic
// result archival when both Postgres and S3 are wired.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	p := a.buildPipeline(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer p.ingestor.Close()
		return p.ingestor.Run(ctx)
	})
	g.Go(func() error {
		return p.sim.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, p)
	}

	if deps.ResultStore != nil && deps.BlobWriter != nil {
		archiver := service.NewArchiver(service.ArchiverConfig{
			Interval:   a.cfg.Archive.Interval.Duration,
			Prefix:     a.cfg.Archive.Prefix,
			BatchLimit: a.cfg.Archive.BatchLimit,
			Retention:  time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour,
		}, deps.ResultStore, deps.BlobWriter, deps.LockManager, a.logger)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "archiver disabled, postgres or s3 not wired")
	}

	return g.Wait()
}

// startHTTPServer builds the handler set, the WebSocket hub, and the server
// itself, and registers goroutines for serving and graceful shutdown.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	handlers := server.Handlers{
		Simulation: handler.NewSimulationHandler(p.sim, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.Info("websocket streaming disabled, redis not wired")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
