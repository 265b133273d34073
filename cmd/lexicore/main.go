package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/lexicore/internal/api"
	"github.com/nidhogg/lexicore/internal/bus"
	"github.com/nidhogg/lexicore/internal/catalog"
	"github.com/nidhogg/lexicore/internal/config"
	"github.com/nidhogg/lexicore/internal/coordinator"
	"github.com/nidhogg/lexicore/internal/gateway"
	"github.com/nidhogg/lexicore/internal/review"
	pgstore "github.com/nidhogg/lexicore/internal/store"
	"github.com/nidhogg/lexicore/internal/synthesis"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/lexicore.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting Lexicore...", zap.String("config", cfgPath))
	ctx := context.Background()

	// Catalog: Neo4j when configured (seeded from the file), else the file
	var cat catalog.Catalog
	var graph *catalog.Neo4jCatalog
	switch {
	case cfg.Database.Neo4j.URI != "":
		g, err := catalog.NewNeo4jCatalog(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err != nil {
			logger.Fatal("failed to create neo4j catalog", zap.Error(err))
		}
		if err := g.Ping(ctx); err != nil {
			logger.Fatal("Neo4j unavailable", zap.Error(err))
		}
		if err := g.EnsureSchema(ctx); err != nil {
			logger.Warn("neo4j schema setup failed", zap.Error(err))
		}
		if cfg.Catalog.File != "" {
			n, err := seedGraph(ctx, g, cfg.Catalog.File)
			if err != nil {
				logger.Fatal("failed to seed catalog", zap.String("file", cfg.Catalog.File), zap.Error(err))
			}
			logger.Info("Catalog seeded", zap.String("file", cfg.Catalog.File), zap.Int("senses", n))
		}
		graph = g
		cat = g
		logger.Info("Catalog backed by Neo4j", zap.String("uri", cfg.Database.Neo4j.URI))
	case cfg.Catalog.File != "":
		mc, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			logger.Fatal("failed to load catalog", zap.String("file", cfg.Catalog.File), zap.Error(err))
		}
		cat = mc
		logger.Info("Catalog loaded from file", zap.String("file", cfg.Catalog.File))
	default:
		logger.Fatal("no catalog configured: set catalog.file or database.neo4j.uri")
	}

	// PostgreSQL persistence
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
		}
	}

	limits, err := cfg.ReviewTimeLimits()
	if err != nil {
		logger.Fatal("invalid review time limits", zap.Error(err))
	}
	opts := coordinator.Options{
		LogSize: cfg.Bus.LogSize,
		Review: review.Config{
			GamesPerSense: cfg.Review.GamesPerSense,
			TimeLimits:    make(map[review.GameType]time.Duration, len(limits)),
			Seed:          cfg.Review.Seed,
		},
		Catalog: cat,
	}
	for name, d := range limits {
		opts.Review.TimeLimits[review.GameType(name)] = d
	}
	if cfg.Synthesis.APIKey != "" {
		opts.Synthesizer = synthesis.NewOpenAISynthesizer(cfg.Synthesis.APIKey, cfg.Synthesis.Model, cat, logger.Named("openai"))
	} else {
		logger.Warn("No synthesis API key, cache misses will be rejected")
	}
	if pgStore != nil {
		opts.Persister = pgStore
	}

	core, err := coordinator.New(opts, logger)
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}
	if err := core.Restore(ctx); err != nil {
		logger.Fatal("failed to restore state", zap.Error(err))
	}

	// Redis stream relay
	var relay *bus.RedisRelay
	if cfg.Database.Redis.URL != "" {
		r, rErr := bus.NewRedisRelay(cfg.Database.Redis.URL, cfg.Bus.RelayStream, logger.Named("relay"))
		if rErr != nil {
			logger.Warn("Redis unavailable, running without event relay", zap.Error(rErr))
		} else {
			r.Attach(core.Bus)
			relay = r
			logger.Info("Event relay attached", zap.String("stream", cfg.Bus.RelayStream))
		}
	}

	// Chat announcements
	gw := gateway.NewGateway(logger.Named("gateway"))
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.Channel, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, cfg.Gateway.Discord.Channel, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	announcer := gateway.NewAnnouncer(gw, cat, logger.Named("announcer"))
	announcer.Attach(core.Bus)
	annCtx, stopAnnouncer := context.WithCancel(ctx)
	go announcer.Run(annCtx)

	handler := api.NewHandler(core, announcer, relay, logger.Named("api"))

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Lexicore listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Lexicore...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopAnnouncer()
	core.Close()
	if relay != nil {
		relay.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	gw.Close()
}

// seedGraph upserts every sense from file into g.
func seedGraph(ctx context.Context, g *catalog.Neo4jCatalog, file string) (int, error) {
	mc, err := catalog.LoadFile(file)
	if err != nil {
		return 0, err
	}
	senses, err := mc.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range senses {
		if err := g.Put(ctx, s); err != nil {
			return 0, fmt.Errorf("seed %s: %w", s.ID, err)
		}
	}
	return len(senses), nil
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		zc := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(level); perr == nil {
			zc.Level = lvl
		}
		logger, err = zc.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
