package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/GowaManager/internal/adapter/github"
	gmhttp "github.com/Strob0t/GowaManager/internal/adapter/http"
	gmotel "github.com/Strob0t/GowaManager/internal/adapter/otel"
	"github.com/Strob0t/GowaManager/internal/adapter/proxy"
	"github.com/Strob0t/GowaManager/internal/adapter/sqlite"
	"github.com/Strob0t/GowaManager/internal/config"
	"github.com/Strob0t/GowaManager/internal/logger"
	"github.com/Strob0t/GowaManager/internal/middleware"
	"github.com/Strob0t/GowaManager/internal/resilience"
	"github.com/Strob0t/GowaManager/internal/service"
)

func main() {
	// Temporary bootstrap logger until config is loaded.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			slog.Error("admin command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(nil)
	if err != nil {
		return err
	}
	cfg, err := config.LoadWithCLI(flags)
	if err != nil {
		return err
	}

	// Replace bootstrap logger with configured one.
	log, logClose := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logClose.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"data_dir", cfg.Data.Dir,
		"proxy_prefix", cfg.Server.ProxyPrefix,
	)

	ctx := context.Background()

	otelShutdown, err := gmotel.Init(cfg.OTEL)
	if err != nil {
		return err
	}

	// --- Infrastructure ---

	db, err := sqlite.Open(ctx, cfg.Data.DBPath())
	if err != nil {
		return err
	}
	store, err := sqlite.NewStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return err
	}
	slog.Info("database ready", "path", cfg.Data.DBPath())

	// --- Services ---

	managerPort, _ := strconv.Atoi(cfg.Server.Port)
	allocator := service.NewPortAllocator(store, managerPort)

	breaker := resilience.NewBreaker(5, 5*time.Minute)
	index := github.NewClient(cfg.Releases, breaker)
	versions := service.NewVersionService(cfg.Data, index)

	monitor, err := service.NewResourceMonitor(cfg.Data, cfg.Resources)
	if err != nil {
		return err
	}

	engine := service.NewInstanceService(store, allocator, versions, monitor, cfg.Data, cfg.Server.ProxyPrefix)
	updater := service.NewUpdater(cfg.Updater, index, versions, engine)
	cleanup := service.NewCleanupService(store, cfg.Data, cfg.Cleanup)
	system := service.NewSystemService(engine, allocator, cfg.Data)

	// Re-spawn instances that were running before the last shutdown,
	// before the listener opens.
	engine.StartupRestart(ctx, cfg.Updater.RestartConcurrency)

	updater.Start()
	if err := cleanup.Start(); err != nil {
		return err
	}

	// --- HTTP ---

	handlers := &gmhttp.Handlers{
		Instances: engine,
		Versions:  versions,
		Updater:   updater,
		System:    system,
	}
	auth := middleware.NewAdminAuth(cfg.Admin)
	proxyHandler := proxy.New(store, cfg.Server.ProxyPrefix)

	r := chi.NewRouter()
	r.Use(gmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(gmhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	gmhttp.MountRoutes(r, handlers, auth)
	proxyHandler.Mount(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: gmotel.HTTPMiddleware(cfg.OTEL.Enabled, cfg.OTEL.ServiceName)(r),
		// No write timeout: proxied downloads and WebSocket sessions are
		// long-lived.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done

	// --- Ordered Graceful Shutdown ---
	// Phase 1: stop accepting new requests.
	slog.Info("shutdown phase 1: stopping HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Phase 2: stop the schedulers.
	slog.Info("shutdown phase 2: stopping schedulers")
	updater.Stop()
	cleanup.Stop()

	// Phase 3: close proxied sockets and kill children. Persisted status
	// stays running so the next boot re-establishes them.
	slog.Info("shutdown phase 3: terminating children")
	proxyHandler.CloseAll()
	killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer killCancel()
	engine.Shutdown(killCtx)

	// Phase 4: release caches and close the database last.
	slog.Info("shutdown phase 4: closing database")
	monitor.Close()
	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
