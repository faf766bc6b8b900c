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

	"github.com/friendsincode/memequeue/internal/admission"
	"github.com/friendsincode/memequeue/internal/api"
	"github.com/friendsincode/memequeue/internal/audit"
	"github.com/friendsincode/memequeue/internal/config"
	"github.com/friendsincode/memequeue/internal/db"
	"github.com/friendsincode/memequeue/internal/eventbus"
	"github.com/friendsincode/memequeue/internal/events"
	"github.com/friendsincode/memequeue/internal/queue"
	"github.com/friendsincode/memequeue/internal/telemetry"
	"github.com/friendsincode/memequeue/internal/version"
	"github.com/friendsincode/memequeue/internal/wallet"
	"github.com/friendsincode/memequeue/internal/watchdog"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db          *gorm.DB
	bus         events.Broker
	wallets     *wallet.Service
	coordinator *queue.Coordinator
	admission   *admission.Service
	watchdog    *watchdog.Service
	audit       *audit.Service
	api         *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires config, storage, event bus and services into an HTTP server.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("memequeue-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websockets outlive the request timeout; skip them.
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

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so websocket event streams are not cut;
		// the middleware timeout covers plain requests.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	bus, err := s.initBus()
	if err != nil {
		return err
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	s.wallets = wallet.NewService(s.logger)
	s.coordinator = queue.NewCoordinator(database, s.wallets, bus, s.logger)
	s.admission = admission.NewService(database, s.wallets, bus, s.logger)
	s.watchdog = watchdog.New(database, s.coordinator, s.cfg.WatchdogInterval, s.cfg.WatchdogGrace, s.logger)
	s.audit = audit.NewService(database, bus, s.logger)

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.coordinator, s.admission, s.wallets, bus, s.logger)

	return nil
}

func (s *Server) initBus() (events.Broker, error) {
	switch s.cfg.EventBusBackend {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		return eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		return eventbus.NewNATSBus(natsCfg, s.cfg.InstanceID, s.logger)
	default:
		return events.NewBus(), nil
	}
}

// HTTPServer exposes the configured http.Server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.watchdog.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("watchdog loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.audit.Start(ctx)
	}()
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
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
