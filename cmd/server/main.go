package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"doc-approval/backend/internal/api"
	"doc-approval/backend/internal/auth"
	"doc-approval/backend/internal/config"
	"doc-approval/backend/internal/logging"
	"doc-approval/backend/internal/mcp"
	"doc-approval/backend/internal/registry"
	"doc-approval/backend/internal/repository"
	"doc-approval/backend/internal/services"
	"doc-approval/backend/internal/tls"
	"doc-approval/backend/internal/workflow"
)

const serviceName = "doc-approval"

func main() {
	ctx := context.Background()

	envFile := flag.String("env", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"okta_domain", cfg.Auth.OktaDomain,
		"definition_source", cfg.Workflow.DefinitionSource,
		"quorum_mode", cfg.Workflow.QuorumMode,
		"config_file", *envFile,
	)
	if cfg.DevModeBypass {
		logger.Warn("Authentication bypass is enabled; actors are taken from request headers")
	}

	// Storage
	var (
		store     repository.InstanceStore
		defsStore repository.DefinitionStore
	)
	if cfg.DB.Enable {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := repository.Migrate(ctx, dbPool); err != nil {
			logger.Error("Failed to apply migrations", "error", err)
			os.Exit(1)
		}
		pg := repository.NewPostgresStore(dbPool)
		store, defsStore = pg, pg
		logger.Info("Database connected")
	} else {
		mem := repository.NewMemoryStore()
		store, defsStore = mem, mem
		logger.Warn("Database disabled; instances are kept in memory")
	}

	// Definitions
	catalog, err := newCatalog(cfg, defsStore)
	if err != nil {
		logger.Error("Failed to configure definitions", "error", err)
		os.Exit(1)
	}
	if err := catalog.Reload(ctx); err != nil {
		logger.Error("Failed to load workflow definitions", "error", err)
		os.Exit(1)
	}
	logger.Info("Workflow definitions loaded", "count", len(catalog.List(ctx)))

	mode, err := workflow.ParseQuorumMode(cfg.Workflow.QuorumMode)
	if err != nil {
		logger.Error("Invalid quorum mode", "error", err)
		os.Exit(1)
	}

	svc := services.NewApprovalService(catalog, store,
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithQuorum(workflow.QuorumPolicy{Mode: mode, Minimum: cfg.Workflow.QuorumMinimum}),
	)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Error("request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))

	authz, err := auth.New(ctx, cfg, logger.With("component", "auth"))
	if err != nil {
		logger.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	health := api.NewHandler(svc)
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(health.HandleHealth)))
	e.GET("/ready", echo.WrapHandler(http.HandlerFunc(health.HandleReady)))
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(svc))
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(svc)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		wrote, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- fmt.Errorf("prepare certificate: %w", err)
			return
		}
		if wrote {
			logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Server error", "error", err)
				os.Exit(1)
			}
			return
		case sig := <-signals:
			if sig == syscall.SIGHUP {
				// Published graphs are swapped in whole; running instances keep their version.
				if err := catalog.Reload(ctx); err != nil {
					logger.Error("Definition reload failed", "error", err)
				} else {
					logger.Info("Workflow definitions reloaded", "count", len(catalog.List(ctx)))
				}
				continue
			}
			logger.Info("Shutdown signal received", "signal", sig.String())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", "error", err)
				if err := server.Close(); err != nil {
					logger.Error("Server close error", "error", err)
				}
			}
			cancel()
			logger.Info("Server stopped gracefully")
			return
		}
	}
}

// newCatalog picks the definition sources for the configured mode. Published
// definitions are written to the database whenever one is available.
func newCatalog(cfg *config.Config, defs repository.DefinitionStore) (*registry.Catalog, error) {
	var source registry.Source
	switch cfg.Workflow.DefinitionSource {
	case config.SourceEmbedded:
		source = registry.EmbeddedSource()
	case config.SourceFile:
		source = registry.DirSource(cfg.Workflow.DefinitionsDir)
	case config.SourceDatabase:
		source = registry.StoreSource(defs)
	default:
		return nil, fmt.Errorf("unknown definition source %q", cfg.Workflow.DefinitionSource)
	}
	return registry.New(registry.WithSources(source), registry.WithStore(defs)), nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection", "host", cfg.DB.Host, "name", cfg.DB.Name)

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
