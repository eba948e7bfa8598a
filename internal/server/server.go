/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/api"
	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/audit"
	"github.com/friendsincode/slotmarket/internal/bidding"
	"github.com/friendsincode/slotmarket/internal/cache"
	"github.com/friendsincode/slotmarket/internal/config"
	"github.com/friendsincode/slotmarket/internal/db"
	"github.com/friendsincode/slotmarket/internal/eventbus"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/gate"
	"github.com/friendsincode/slotmarket/internal/leadership"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/monitor"
	"github.com/friendsincode/slotmarket/internal/settlement"
	"github.com/friendsincode/slotmarket/internal/shift"
	"github.com/friendsincode/slotmarket/internal/telemetry"
	"github.com/friendsincode/slotmarket/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db          *gorm.DB
	cache       *cache.Cache
	ledger      ledger.Adapter
	bus         events.Broker
	api         *api.API
	auditSvc    *audit.Service
	webhookSvc  *webhooks.Service
	monitors    *monitor.Manager
	sweeper     *settlement.Sweeper
	leaderAware *settlement.LeaderAware

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("slotmarket-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket upgrades
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Websocket streams manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if err := s.initLedger(ctx); err != nil {
		return err
	}
	s.initEventBus()

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		cacheCfg.OwnerSlotsTTL = s.cfg.CacheTTL
		s.cache = cache.New(cacheCfg, s.logger)
	} else {
		s.cache = cache.Disabled(s.logger)
	}
	s.DeferClose(func() error { return s.cache.Close() })

	strategy, err := shift.ParseStrategy(s.cfg.AuctionStrategy)
	if err != nil {
		return err
	}

	g := gate.New(s.ledger, s.cache, s.logger)
	biddingSvc := bidding.NewService(s.ledger, s.bus, s.cache, s.logger)
	shiftSvc := shift.NewService(s.ledger, shift.NewPlanner(s.cfg.MaxSlotsPerBatch, s.cfg.ClockMargin), database, s.bus, s.cache, s.logger)
	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)
	s.monitors = monitor.NewManager(g, s.ledger, s.bus, s.cfg.MonitorInterval, s.logger)

	if s.cfg.SettlementEnabled {
		s.sweeper = settlement.NewSweeper(shiftSvc, s.ledger, biddingSvc, s.cfg.SettlementInterval, 0, s.logger)

		if s.cfg.LeaderElectionEnabled {
			electionConfig := leadership.ElectionConfig{
				RedisAddr:       s.cfg.RedisAddr,
				RedisPassword:   s.cfg.RedisPassword,
				RedisDB:         s.cfg.RedisDB,
				ElectionKey:     "slotmarket:leader:settlement",
				LeaseDuration:   15 * time.Second,
				RenewalInterval: 5 * time.Second,
				RetryInterval:   2 * time.Second,
				InstanceID:      s.cfg.InstanceID,
			}
			election, err := leadership.NewElection(electionConfig, s.logger)
			if err != nil {
				return fmt.Errorf("create leader election: %w", err)
			}
			s.leaderAware = settlement.NewLeaderAware(s.sweeper, election, s.logger)
			s.DeferClose(func() error { return s.leaderAware.Stop() })

			s.logger.Info().
				Str("redis_addr", s.cfg.RedisAddr).
				Str("instance_id", s.cfg.InstanceID).
				Msg("leader election enabled for settlement")
		}
	}

	s.api = api.New(
		[]byte(s.cfg.JWTSigningKey),
		s.ledger,
		biddingSvc,
		shiftSvc,
		g,
		s.monitors,
		s.auditSvc,
		s.webhookSvc,
		s.bus,
		api.Defaults{
			SlotDuration:  s.cfg.SlotDuration,
			ShiftDuration: s.cfg.ShiftDuration,
			AuctionWindow: s.cfg.AuctionWindow,
			Strategy:      strategy,
			MinBid:        s.cfg.MinBidUnits,
		},
		s.logger,
	)
	return nil
}

func (s *Server) initLedger(ctx context.Context) error {
	l, closeFn, err := OpenLedger(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.ledger = l
	s.DeferClose(func() error { closeFn(); return nil })
	return nil
}

func (s *Server) initEventBus() {
	nodeID := eventbus.NodeID(s.cfg.InstanceID)
	switch s.cfg.EventBus {
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsCfg.Token = s.cfg.NATSToken
		bus := eventbus.NewNATSBus(natsCfg, nodeID, s.logger)
		s.bus = bus
		s.DeferClose(bus.Close)
	case config.EventBusRedis:
		bus := eventbus.NewRedisBus(eventbus.RedisConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		}, nodeID, s.logger)
		s.bus = bus
		s.DeferClose(bus.Close)
	default:
		s.bus = events.NewBus()
	}
	s.logger.Info().Str("backend", string(s.cfg.EventBus)).Str("node_id", nodeID).Msg("event bus ready")
}

// HTTPServer returns the API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the metrics server, or nil when metrics share the
// API listener.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close stops background work and releases resources in reverse order.
func (s *Server) Close() error {
	if s.monitors != nil {
		s.monitors.StopAll()
	}
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAware != nil {
		if err := s.leaderAware.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware settlement failed to start")
		}
	} else if s.sweeper != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("settlement loop exited")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	if s.webhookSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhookSvc.Start(ctx)
		}()
	}

	if s.cache != nil && s.cache.IsAvailable() {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached owner slot lists when another
// instance reports a ledger change over the shared bus.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	slotCreated := s.bus.Subscribe(events.EventSlotCreated)
	bidPlaced := s.bus.Subscribe(events.EventBidPlaced)
	finalized := s.bus.Subscribe(events.EventAuctionFinalized)
	instructions := s.bus.Subscribe(events.EventInstructionsSet)

	defer func() {
		s.bus.Unsubscribe(events.EventSlotCreated, slotCreated)
		s.bus.Unsubscribe(events.EventBidPlaced, bidPlaced)
		s.bus.Unsubscribe(events.EventAuctionFinalized, finalized)
		s.bus.Unsubscribe(events.EventInstructionsSet, instructions)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		var payload events.Payload
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case payload = <-slotCreated:
		case payload = <-bidPlaced:
		case payload = <-finalized:
		case payload = <-instructions:
		}
		raw, _ := payload["owner"].(string)
		owner, err := auction.ParseAddress(raw)
		if err != nil {
			continue
		}
		if err := s.cache.InvalidateOwner(ctx, owner); err != nil {
			s.logger.Debug().Err(err).Str("owner", raw).Msg("owner cache invalidation failed")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.leaderAware != nil {
			if s.leaderAware.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
