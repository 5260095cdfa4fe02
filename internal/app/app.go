// Package app assembles the realtime server: hub, presence tracker,
// chat occupancy counter, call broker, and the fan-out gateway, wired
// together behind one HTTP listener.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dishpatch/realtime/internal/call"
	"github.com/dishpatch/realtime/internal/config"
	"github.com/dishpatch/realtime/internal/gateway"
	"github.com/dishpatch/realtime/internal/hub"
	"github.com/dishpatch/realtime/internal/limits"
	"github.com/dishpatch/realtime/internal/monitoring"
	"github.com/dishpatch/realtime/internal/occupancy"
	"github.com/dishpatch/realtime/internal/presence"
	"github.com/dishpatch/realtime/internal/schedule"
	"github.com/dishpatch/realtime/internal/store"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	hub     *hub.Hub
	tracker *presence.Tracker
	rooms   *occupancy.Counter
	calls   *call.Broker
	gateway *gateway.Gateway

	guard       *limits.ResourceGuard
	connLimiter *limits.ConnectionRateLimiter
	mongo       *store.Mongo
	bridge      *gateway.Bridge

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New builds the full component graph. Nothing listens yet; call Start.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	var recorder store.Recorder = store.Noop{}
	if cfg.MongoURI != "" {
		m, err := store.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.mongo = m
		recorder = m
	} else {
		logger.Warn().Msg("MONGO_URI not set, last-seen and missed-call records disabled")
	}

	if cfg.ConnRateLimitEnabled {
		a.connLimiter = limits.NewConnectionRateLimiter(limits.ConnectionRateLimiterConfig{
			IPBurst:     cfg.ConnRateIPBurst,
			IPRate:      cfg.ConnRateIPRate,
			GlobalBurst: cfg.ConnRateGlobalBurst,
			GlobalRate:  cfg.ConnRateGlobalRate,
			Logger:      logger,
		})
	}

	a.hub = hub.New(hub.Options{
		Logger:         logger,
		MaxConnections: cfg.MaxConnections,
		MessageRate:    cfg.MessageRate,
		MessageBurst:   cfg.MessageBurst,
		ConnLimiter:    a.connLimiter,
	})
	a.guard = limits.NewResourceGuard(cfg.MaxConnections, cfg.CPURejectThreshold, a.hub.ConnCounter(), logger)
	a.hub.SetGuard(a.guard)

	sched := schedule.System()
	a.tracker = presence.New(cfg.PresenceGrace, sched, a.hub, recorder, logger)
	a.rooms = occupancy.New(a.hub, logger)
	a.calls = call.New(cfg.CallTimeout, sched, a.hub, recorder, logger)
	a.gateway = gateway.New(a.hub, logger)

	registerRoutes(a.hub, a.tracker, a.rooms, a.calls)

	if cfg.NATSURL != "" {
		bridge, err := gateway.ConnectBridge(cfg.NATSURL, a.gateway)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.bridge = bridge
	} else {
		logger.Warn().Msg("NATS_URL not set, platform event bridge disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.hub.HandleUpgrade)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", monitoring.Handler())
	a.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	return a, nil
}

// Start begins background monitoring and serves HTTP until Shutdown or
// a listener error. It blocks.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.guard.StartMonitoring(ctx, 5*time.Second)

	a.logger.Info().Str("addr", a.cfg.Addr).Msg("Realtime server listening")
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections and releases every component. Order:
// stop accepting, drain the hub, then close external resources.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info().Msg("Shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	a.hub.Shutdown(a.cfg.DrainTimeout)

	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.connLimiter != nil {
		a.connLimiter.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Mongo disconnect")
		}
	}
	a.logger.Info().Msg("Shutdown complete")
}

type healthResponse struct {
	Status      string  `json:"status"`
	Connections int64   `json:"connections"`
	MaxConns    int     `json:"max_connections"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryRSSMB float64 `json:"memory_rss_mb"`
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Connections: a.hub.ConnCount(),
		MaxConns:    a.cfg.MaxConnections,
		CPUPercent:  a.guard.CPUPercent(),
		MemoryRSSMB: a.guard.MemoryRSSMB(),
	}
	if accept, reason := a.guard.ShouldAccept(); !accept {
		resp.Status = "degraded: " + reason
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
