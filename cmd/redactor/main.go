package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/cache"
	"github.com/raaihank/redactor/internal/config"
	"github.com/raaihank/redactor/internal/logger"
	"github.com/raaihank/redactor/internal/markup"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/redaction"
	"github.com/raaihank/redactor/internal/render"
	"github.com/raaihank/redactor/internal/rules"
	"github.com/raaihank/redactor/internal/server"
	"github.com/raaihank/redactor/internal/shortcode"
	"github.com/raaihank/redactor/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL checked by --health-check")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("redactor %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting redactor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)
	server.Version = version

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer app.cleanup()

	if err := config.Watch(log.Logger, func(newConfig *config.Config) {
		app.service.UpdateSettings(newConfig.RedactionSettings())
	}); err != nil {
		log.Warn("Configuration hot reload unavailable", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- app.server.Start()
	}()
	go app.server.RunMaintenance(ctx, time.Minute)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := app.server.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		log.Info("Server shutdown complete")
	}
	cancel()
}

// application holds the wired services
type application struct {
	repo    rules.Repository
	service *redaction.Service
	server  *server.Server
	closers []func() error
	log     *logger.Logger
}

func (a *application) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Cleanup failed", zap.Error(err))
		}
	}
}

// build wires the rule store, cache, engine, hub and HTTP server
func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*application, error) {
	app := &application{log: log}

	registry := pattern.NewRegistry()
	for name, fragment := range cfg.Patterns.Named {
		if err := registry.Register(name, fragment); err != nil {
			return nil, fmt.Errorf("invalid named pattern %q: %w", name, err)
		}
	}
	compiler := pattern.NewCompiler(registry, pattern.WithMatchTimeout(cfg.Redaction.MatchTimeout))

	stripper, err := markup.NewStripper(nil)
	if err != nil {
		return nil, err
	}
	renderer := render.NewRenderer()
	engine := redaction.NewEngine(compiler, renderer, stripper, log.Logger.Named("engine"),
		redaction.WithFailurePolicy(redaction.FailurePolicy(cfg.Redaction.FailurePolicy)),
		redaction.WithDateFormat(cfg.Redaction.DateFormat))

	if cfg.Database.Enabled {
		log.Info("Initializing rule store...")
		store, err := rules.NewPostgresStore(&cfg.Database.Config, log.Logger)
		if err != nil {
			return nil, err
		}
		app.repo = store
	} else {
		log.Warn("Database disabled, rules are kept in memory")
		app.repo = rules.NewMemoryStore()
	}
	app.closers = append(app.closers, app.repo.Close)

	deps := server.Dependencies{
		Rules:    app.repo,
		Compiler: compiler,
		Hits:     storeRecorder{repo: app.repo},
	}
	var activeRules rules.Store = app.repo

	if cfg.Cache.Enabled {
		client, err := cache.NewClient(&cfg.Cache.Config, log.Logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)

		ruleCache := cache.NewRuleCache(client, app.repo, &cfg.Cache.Config, log.Logger)
		counter := cache.NewMatchCounter(client, app.repo, cfg.Cache.KeyPrefix, log.Logger)
		go counter.Run(ctx, cfg.Cache.FlushInterval)

		activeRules = ruleCache
		deps.Cache = ruleCache
		deps.Hits = counter
	}

	shortcodes := shortcode.NewProcessor(renderer, func(s string) ([]string, error) { return rules.ParseRoles(s) })
	app.service = redaction.NewService(engine, activeRules, shortcodes, cfg.RedactionSettings(), log.Logger)
	deps.Service = app.service

	if cfg.WebSocket.Enabled {
		ws := cfg.WebSocket
		hub := websocket.NewHub(&websocket.HubConfig{
			BroadcastRedactions: ws.Events.BroadcastRedactions,
			BroadcastRules:      ws.Events.BroadcastRules,
			BroadcastSystem:     ws.Events.BroadcastSystem,
			Username:            ws.Username,
			Password:            ws.Password,
			MaxConnections:      ws.MaxConnections,
			ReadBufferSize:      ws.ReadBufferSize,
			WriteBufferSize:     ws.WriteBufferSize,
			PingInterval:        ws.PingInterval,
			PongTimeout:         ws.PongTimeout,
			WriteTimeout:        ws.WriteTimeout,
			MaxMessageSize:      ws.MaxMessageSize,
			AllowedOrigins:      ws.AllowedOrigins,
		}, log.Logger)
		go hub.Run(ctx)
		deps.Hub = hub
	}

	app.server, err = server.New(cfg, log, deps)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// storeRecorder writes hit counts straight to the store when Redis is off
type storeRecorder struct {
	repo rules.Repository
}

func (r storeRecorder) Add(ctx context.Context, counts map[int64]int) error {
	converted := make(map[int64]int64, len(counts))
	for id, n := range counts {
		converted[id] = int64(n)
	}
	return r.repo.AddMatchCounts(ctx, converted)
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return logger.New(loggerConfig)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
