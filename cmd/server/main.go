package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/leaddesk/internal/aggregator"
	"github.com/dennisdiepolder/leaddesk/internal/api"
	"github.com/dennisdiepolder/leaddesk/internal/auth"
	"github.com/dennisdiepolder/leaddesk/internal/cache"
	"github.com/dennisdiepolder/leaddesk/internal/config"
	"github.com/dennisdiepolder/leaddesk/internal/distribution"
	"github.com/dennisdiepolder/leaddesk/internal/leads"
	"github.com/dennisdiepolder/leaddesk/internal/metrics"
	"github.com/dennisdiepolder/leaddesk/internal/notify"
	"github.com/dennisdiepolder/leaddesk/internal/storage"
	"github.com/dennisdiepolder/leaddesk/internal/websocket"
	"github.com/dennisdiepolder/leaddesk/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "leaddesk"

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Str("store_mode", cfg.StoreMode).
		Str("archive_mode", cfg.ArchiveMode).
		Msg("starting leaddesk server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewStore(ctx, storage.StoreMode(cfg.StoreMode), cfg.DatabaseURL, cfg.DBMaxConns, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer store.Close()

	archive, err := storage.NewArchive(ctx, storage.ArchiveConfig{
		Mode:     storage.ParseArchiveMode(cfg.ArchiveMode),
		Endpoint: cfg.ArchiveEndpoint,
		Region:   cfg.ArchiveRegion,
		Table:    cfg.ArchiveTable,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize distribution archive")
	}

	// Create WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	sinks := []notify.Sink{notify.NewHubSink(hub)}
	var broker healthChecker
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.NewAMQPSink(cfg.AMQPURL, log.Logger)
		if err != nil {
			// dashboards still get events through the hub
			log.Error().Err(err).Msg("RabbitMQ unavailable, assignment events stay local")
		} else {
			defer amqpSink.Close()
			sinks = append(sinks, amqpSink)
			broker = amqpSink
		}
	}
	fanout := notify.NewFanout(log.Logger, sinks...)
	log.Info().Strs("sinks", fanout.Sinks()).Msg("assignment event sinks configured")

	loader := leads.NewLoader(store, cfg.LeadsPageSize, log.Logger)

	engine := distribution.NewEngine(store, loader, distribution.NewStoreActorResolver(store), log.Logger)
	runLock := cache.NewRunLock(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RunLockTTL, log.Logger)
	defer runLock.Close()
	engine.SetLocker(runLock)
	engine.SetNotifier(fanout)
	engine.SetArchive(archive)
	engine.SetBatchSize(cfg.DistributionBatchSize)

	agg := aggregator.NewAggregator(store, hub, cfg.SummaryBroadcastInterval, log.Logger)
	go agg.Start(ctx)

	authn := auth.NewAuthenticator(auth.Options{
		Env:             cfg.Auth.Env,
		SkipAuth:        cfg.Auth.SkipAuth,
		VerifySignature: cfg.Auth.VerifySignature,
		OIDCIssuer:      cfg.Auth.OIDCIssuer,
	}, log.Logger)
	if authn.Verifies() {
		if err := authn.InitJWKS(); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWT verification")
		}
	} else {
		log.Warn().Msg("JWT signatures are not verified")
	}

	r := newRouter(cfg, routes{
		store:         store,
		broker:        broker,
		authenticator: authn,
		leads:         api.NewLeadsHandler(loader, log.Logger),
		distributions: api.NewDistributionHandler(engine, log.Logger),
		assignments:   api.NewAssignmentsHandler(engine, log.Logger),
		agents:        api.NewAgentsHandler(agg, store, log.Logger),
		intake:        api.NewIntakeHandler(store, log.Logger),
		ws:            websocket.NewHandler(hub, cfg, store, log.Logger),
	}, log.Logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop the summary broadcast
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// routes bundles what the router mounts
type routes struct {
	store         pinger
	broker        healthChecker // nil without RabbitMQ
	authenticator *auth.Authenticator
	leads         *api.LeadsHandler
	distributions *api.DistributionHandler
	assignments   *api.AssignmentsHandler
	agents        *api.AgentsHandler
	intake        *api.IntakeHandler
	ws            *websocket.Handler
}

type pinger interface {
	Ping(ctx context.Context) error
}

type healthChecker interface {
	Healthy() bool
}

func newRouter(cfg *config.Config, rt routes, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(rt.store, rt.broker))
	r.Handle("/metrics", metrics.Get().Handler())

	// Internal routes (no auth - payment, messaging and roster feeds)
	r.Route("/internal", func(r chi.Router) {
		r.Post("/leads", rt.intake.HandleLeads)
		r.Post("/contact-notes", rt.intake.HandleContactNotes)
		r.Post("/agents/roster", rt.intake.HandleRoster)
	})

	r.Group(func(r chi.Router) {
		r.Use(rt.authenticator.Middleware)

		r.Get("/ws", rt.ws.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.With(auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor, auth.RoleAgent)).
				Get("/agents/summaries", rt.agents.HandleSummaries)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor))

				r.Get("/agents", rt.agents.HandleList)

				r.Route("/courses/{courseId}", func(r chi.Router) {
					r.Get("/leads", rt.leads.HandleList)
					r.Post("/distributions", rt.distributions.HandleDistribute)
					r.Get("/distribution-logs", rt.distributions.HandleLogs)
					r.Get("/distribution-logs/archive", rt.distributions.HandleArchive)
				})

				r.Route("/assignments", func(r chi.Router) {
					r.Post("/", rt.assignments.HandleAssign)
					r.Post("/bulk", rt.assignments.HandleAssignBulk)
					r.Post("/move", rt.assignments.HandleMove)
					r.Post("/move-bulk", rt.assignments.HandleMoveBulk)
					r.Delete("/{assignmentId}", rt.assignments.HandleRemove)
				})
			})
		})
	})

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"%s"}`, serviceName)
}

// readyHandler reports whether the record store answers. A configured
// broker is reported but does not fail readiness.
func readyHandler(store pinger, broker healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ready", "service": serviceName}
		code := http.StatusOK
		if err := store.Ping(ctx); err != nil {
			resp["status"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
		if broker != nil {
			resp["broker"] = "up"
			if !broker.Healthy() {
				resp["broker"] = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
