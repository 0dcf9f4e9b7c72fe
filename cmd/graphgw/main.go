package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	graphgateway "github.com/arbor-labs/graph-gateway"
	"github.com/arbor-labs/graph-gateway/auth"
	"github.com/arbor-labs/graph-gateway/internal/admin"
	"github.com/arbor-labs/graph-gateway/internal/circuitbreaker"
	"github.com/arbor-labs/graph-gateway/internal/graph"
	"github.com/arbor-labs/graph-gateway/internal/logging"
	"github.com/arbor-labs/graph-gateway/internal/requestlog"
	"github.com/arbor-labs/graph-gateway/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	// Load and validate config if GATEWAY_CONFIG is set.
	cfg := graphgateway.DefaultConfig()
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := graphgateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
		log.Printf("Config loaded from %s", cfgPath)
	}

	// Environment overrides for the values that differ per deployment.
	if url := os.Getenv("GRAPH_BACKEND_URL"); url != "" {
		cfg.Backend.URL = url
	}
	if token := os.Getenv("GRAPH_BACKEND_TOKEN"); token != "" {
		cfg.Backend.Token = token
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.Auth.SessionSecret = secret
	}
	if err := graphgateway.ValidateConfig(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	breaker := circuitbreaker.New(
		cfg.Backend.Breaker.FailureThreshold,
		cfg.Backend.Breaker.SuccessThreshold,
		cfg.Backend.Breaker.OpenTimeout(),
	)
	client := graph.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.RequestTimeout(), breaker)

	gw, err := graphgateway.New(cfg, client)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	defer func() { _ = gw.Close() }()

	// The key store backs both caller authentication and the admin key API.
	// Without the admin API there is no way to mint keys, so an empty
	// in-memory store suffices and the gateway serves anonymous and
	// session-token callers only.
	var keyStore admin.Store = admin.NewKeyStore()
	var adminHandlers *admin.Handlers

	if cfg.Admin.Enabled {
		driver := cfg.Admin.StoreDriver()

		var keys *admin.SQLStore
		if driver == "postgres" {
			keys, err = admin.NewPostgresStore(cfg.Admin.KeysDSN)
		} else {
			keys, err = admin.NewSQLiteStore(cfg.Admin.KeysDSN)
		}
		if err != nil {
			log.Fatalf("Failed to open key store: %v", err)
		}
		defer func() { _ = keys.Close() }()
		keyStore = keys

		var logs *requestlog.SQLStore
		if driver == "postgres" {
			logs, err = requestlog.NewPostgresStore(cfg.Admin.RequestLogDSN)
		} else {
			logs, err = requestlog.NewSQLiteStore(cfg.Admin.RequestLogDSN)
		}
		if err != nil {
			log.Fatalf("Failed to open request log store: %v", err)
		}
		defer func() { _ = logs.Close() }()
		gw.AddHook(requestLogHook(logs))

		var configStore admin.ConfigStore
		if dsn := cfg.Admin.ConfigDSN; dsn != "" {
			var cs *admin.SQLConfigStore
			if driver == "postgres" {
				cs, err = admin.NewPostgresConfigStore(dsn)
			} else {
				cs, err = admin.NewSQLiteConfigStore(dsn)
			}
			if err != nil {
				log.Fatalf("Failed to open config store: %v", err)
			}
			defer func() { _ = cs.Close() }()
			configStore = cs
		}
		configs, err := admin.NewPersistentConfigManager(gw, configStore)
		if err != nil {
			log.Fatalf("Failed to restore persisted config: %v", err)
		}

		adminHandlers = &admin.Handlers{
			Keys:     keyStore,
			Caches:   gw,
			Limiter:  gw,
			Backend:  client,
			Configs:  configs,
			Logs:     logs,
			LogAdmin: logs,
		}
		log.Printf("Admin API enabled (driver=%s)", driver)
	}

	authn := auth.New(keyStore, auth.SessionConfig{
		Secret: []byte(cfg.Auth.SessionSecret),
		Issuer: cfg.Auth.SessionIssuer,
	})

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	r := newRouter(gw, authn, adminHandlers, keyStore, corsOrigins)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache sweeps and rate-limiter GC run until shutdown.
	gw.Start(ctx)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("graph-gateway %s listening on %s (backend %s, %d tools)",
		version.Short(), addr, cfg.Backend.URL, len(gw.Tools()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// newRouter builds the HTTP router. adminHandlers may be nil, in which case
// no /admin routes are mounted.
func newRouter(gw *graphgateway.Gateway, authn *auth.Authenticator, adminHandlers *admin.Handlers, keyStore admin.Store, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Get("/tools", listToolsHandler(gw))
		r.Post("/tools/{tool}", callToolHandler(gw))
		r.Post("/query/{operation}", runQueryHandler(gw))
		r.Delete("/query/{operation}", invalidateQueryHandler(gw))
	})

	if adminHandlers != nil {
		r.Route("/admin", func(r chi.Router) {
			// The UI page itself is static and carries no data; it fetches
			// from the authenticated endpoints with the key the operator
			// enters.
			r.Get("/ui", adminUIHandler())
			r.Group(func(r chi.Router) {
				r.Use(admin.AuthMiddleware(keyStore))
				r.Mount("/", adminHandlers.Routes())
			})
		})
	}

	return r
}

// requestLogHook adapts gateway events into persisted audit entries. Write
// failures are logged and dropped; audit trouble never affects serving.
func requestLogHook(w requestlog.Writer) graphgateway.EventHookFunc {
	return func(ctx context.Context, _ string, data map[string]interface{}) {
		entry := requestlog.Entry{
			TraceID:   stringField(data, "trace_id"),
			Kind:      stringField(data, "kind"),
			Operation: stringField(data, "operation"),
			Caller:    stringField(data, "caller"),
			Tier:      stringField(data, "tier"),
			Outcome:   stringField(data, "outcome"),
		}
		if hit, ok := data["cache_hit"].(bool); ok {
			entry.CacheHit = hit
		}
		if ms, ok := data["latency_ms"].(int64); ok {
			entry.DurationMS = ms
		}
		if msg, ok := data["error"].(string); ok {
			entry.ErrorMessage = msg
		}
		if ts, ok := data["timestamp"].(time.Time); ok {
			entry.CreatedAt = ts
		}
		if err := w.Write(ctx, entry); err != nil {
			logging.FromContext(ctx).Error("request log write failed", "error", err.Error())
		}
	}
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}
