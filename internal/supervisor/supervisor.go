// Package supervisor owns process startup and graceful shutdown: it is the
// only initializer of the TriggerEngine, Broker, LiveStream and HTTP server.
// The PriceFeed and Store are constructed by the caller and handed in through
// Config; Supervisor closes both on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ArialBlack/binance-virtual-trader-tool/internal/broker"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/domain"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/engine"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/httpapi"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/ports"
	"github.com/ArialBlack/binance-virtual-trader-tool/internal/stream"
)

// Config wires together every component Supervisor boots.
type Config struct {
	Store      ports.Store
	Feed       ports.PriceFeed
	Logger     ports.Logger
	HTTPAddr   string
	QuoteAsset string
	DevMode    bool
}

// Supervisor drives the startup/shutdown lifecycle of the whole process.
type Supervisor struct {
	cfg    Config
	engine *engine.Engine
	broker *broker.Broker
	hub    *stream.Hub
	server *httpapi.Server
}

// New constructs a Supervisor without starting anything.
func New(cfg Config) *Supervisor {
	eng := engine.New(cfg.Store, cfg.Feed, cfg.Logger, func() float64 {
		settings, err := cfg.Store.GetSettings(context.Background())
		if err != nil {
			return 0.0004
		}
		return settings.TakerFee
	})
	b := broker.New(cfg.Store, cfg.Feed, eng, cfg.Logger, cfg.QuoteAsset)
	hub := stream.NewHub(cfg.Store, cfg.Feed, eng, cfg.Logger)
	server := httpapi.New(httpapi.Config{Addr: cfg.HTTPAddr, Broker: b, Stream: hub, Logger: cfg.Logger, DevMode: cfg.DevMode})

	return &Supervisor{cfg: cfg, engine: eng, broker: b, hub: hub, server: server}
}

// Run performs startup recovery, starts all background loops and the HTTP
// server, then blocks until SIGINT/SIGTERM, at which point it shuts down
// gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()
	go s.engine.Run(engineCtx)
	go s.hub.Run(engineCtx)

	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	s.cfg.Logger.Info(ctx, "supervisor: running")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.cfg.Logger.Info(shutdownCtx, "supervisor: shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.cfg.Logger.Error(shutdownCtx, err, "supervisor: http shutdown error")
	}
	cancelEngine()
	if err := s.cfg.Feed.Close(); err != nil {
		s.cfg.Logger.Error(shutdownCtx, err, "supervisor: price feed close error")
	}
	if err := s.cfg.Store.Close(); err != nil {
		s.cfg.Logger.Error(shutdownCtx, err, "supervisor: store close error")
	}
	return nil
}

// recover loads settings (defaults are seeded by the store when it opens and
// migrates the database), collects the set of
// symbols across OPEN positions, subscribes the feed to each, and registers
// every OPEN position with the engine's in-memory index.
func (s *Supervisor) recover(ctx context.Context) error {
	if _, err := s.cfg.Store.GetSettings(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	open := domain.StatusOpen
	positions, err := s.cfg.Store.ListPositions(ctx, &open)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}

	seen := make(map[string]struct{})
	for _, p := range positions {
		s.engine.Track(p.Symbol, p.ID)
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		if err := s.cfg.Feed.Subscribe(ctx, p.Symbol); err != nil {
			s.cfg.Logger.Warn(ctx, "supervisor: resubscribe failed", map[string]interface{}{"symbol": p.Symbol, "error": err.Error()})
		}
	}

	s.cfg.Logger.Info(ctx, "supervisor: startup recovery complete", map[string]interface{}{
		"openPositions": len(positions),
		"symbols":       len(seen),
	})
	return nil
}
