package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/run"
	"github.com/peterbourgon/debugbar"
	"github.com/peterbourgon/debugbar/dbglog"
	"github.com/peterbourgon/debugbar/dbgsql"
	"github.com/peterbourgon/debugbar/dbgstore"
	"github.com/peterbourgon/debugbar/dbgweb"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type serveConfig struct {
	*rootConfig

	listenAddr    string
	configFile    string
	hostDebug     bool
	backend       string
	badgerPath    string
	cacheBytes    int64
	sweepInterval time.Duration
	prefix        string
	allowRemote   bool
	databaseURL   string
}

func (cfg *serveConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "listen" /*         */, Value: ffval.NewValueDefault(&cfg.listenAddr, "localhost:8080") /*          */, Usage: "listen address, or unix:///path/to.sock", Placeholder: "ADDR"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "config" /*         */, Value: ffval.NewValue(&cfg.configFile) /*                               */, Usage: "debug bar config file (YAML)", Placeholder: "FILE"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "host-debug" /*     */, Value: ffval.NewValueDefault(&cfg.hostDebug, true) /*                    */, Usage: "host debug flag, used when the config doesn't set enabled"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "backend" /*        */, Value: ffval.NewEnum(&cfg.backend, "memory", "badger", "ristretto") /* */, Usage: "dump store backend: memory, badger, ristretto"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "badger-path" /*    */, Value: ffval.NewValue(&cfg.badgerPath) /*                               */, Usage: "badger directory, in-memory if empty", Placeholder: "DIR"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "cache-bytes" /*    */, Value: ffval.NewValueDefault(&cfg.cacheBytes, 64*1024*1024) /*          */, Usage: "ristretto cache capacity in bytes"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "sweep-interval" /* */, Value: ffval.NewValueDefault(&cfg.sweepInterval, time.Minute) /*         */, Usage: "how often expired dumps and late logs are purged"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "prefix" /*         */, Value: ffval.NewValueDefault(&cfg.prefix, "/_debugbar") /*              */, Usage: "path prefix of the debug bar endpoints", Placeholder: "PATH"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "allow-remote" /*   */, Value: ffval.NewValue(&cfg.allowRemote) /*                              */, Usage: "expose the debug bar to non-loopback clients", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "database-url" /*   */, Value: ffval.NewValue(&cfg.databaseURL) /*                              */, Usage: "optional Postgres URL, queried by the demo page", Placeholder: "URL"})
}

func (cfg *serveConfig) Exec(ctx context.Context, args []string) error {
	config, err := cfg.loadConfig()
	if err != nil {
		return err
	}

	logger := cfg.logger

	store, err := cfg.newStore(config)
	if err != nil {
		return fmt.Errorf("create %s store: %w", cfg.backend, err)
	}
	defer store.Close()

	late := dbglog.NewLateLogs(dbglog.LateConfig{
		Capacity: config.LateLogs,
		TTL:      config.TTL(),
	})

	var pool *pgxpool.Pool
	if cfg.databaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.databaseURL)
		if err != nil {
			return fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.ConnConfig.Tracer = dbgsql.Tracer{}

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
	}

	handler := cfg.handler(config, store, late, pool)

	ln, err := listen(cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.String("backend", cfg.backend),
		zap.Bool("enabled", config.IsEnabled(cfg.hostDebug)),
		zap.String("prefix", cfg.prefix),
	)

	var g run.Group

	// HTTP server.
	{
		server := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			return server.Serve(ln)
		}, func(error) {
			server.Close()
		})
	}

	// Expired dumps.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return dbgstore.Sweep(ctx, store, cfg.sweepInterval, logger)
		}, func(error) {
			cancel()
		})
	}

	// Expired late logs.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			ticker := time.NewTicker(cfg.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := late.Purge(); n > 0 {
						logger.Debug("purged late logs", zap.Int("requests", n), zap.Int("remaining", late.Requests()))
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}, func(error) {
			cancel()
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	return g.Run()
}

func (cfg *serveConfig) loadConfig() (debugbar.Config, error) {
	if cfg.configFile == "" {
		return debugbar.DefaultConfig(), nil
	}
	config, err := debugbar.LoadConfig(cfg.configFile)
	if err != nil {
		return debugbar.Config{}, fmt.Errorf("load config: %w", err)
	}
	return config, nil
}

func (cfg *serveConfig) newStore(config debugbar.Config) (dbgstore.Store, error) {
	base := dbgstore.Config{
		PerRequestBytes: config.PerRequestBytes,
		TTL:             config.TTL(),
		Logger:          cfg.logger,
	}

	switch cfg.backend {
	case "badger":
		return dbgstore.NewBadgerStore(dbgstore.BadgerConfig{
			Config:   base,
			Path:     cfg.badgerPath,
			InMemory: cfg.badgerPath == "",
		})
	case "ristretto":
		return dbgstore.NewCacheStore(dbgstore.CacheConfig{
			Config:   base,
			MaxBytes: cfg.cacheBytes,
		})
	default:
		return dbgstore.NewMemoryStore(base), nil
	}
}

// handler routes the debug bar endpoints, the metrics endpoint, and the demo
// application, which is wrapped by the debug bar middleware.
func (cfg *serveConfig) handler(config debugbar.Config, store dbgstore.Store, late *dbglog.LateLogs, pool *pgxpool.Pool) http.Handler {
	validator := dbgweb.AllowLoopback
	if cfg.allowRemote {
		validator = dbgweb.AllowAll
	}

	prefix := "/" + strings.Trim(cfg.prefix, "/")

	middleware := dbgweb.Middleware(dbgweb.MiddlewareConfig{
		Config:    &config,
		HostDebug: cfg.hostDebug,
		Validator: validator,
		Store:     store,
		LateLogs:  late,
		Logger:    cfg.logger,
		AuthFunc:  demoAuth,
	})

	mux := http.NewServeMux()
	mux.Handle(prefix+"/", dbgweb.NewHandler(dbgweb.HandlerConfig{
		Store:            store,
		LateLogs:         late,
		Validator:        validator,
		HideUnauthorized: !cfg.allowRemote,
		Prefix:           prefix,
		Logger:           cfg.logger,
	}))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", middleware(newDemo(pool)))
	return mux
}

func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}
