// Package ratekit assembles the distributed rate-limit decision service: a
// stateless fleet of deciders sharing bucket state in Redis, where every
// mutation runs as one atomic server-side script.
package ratekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhalm/ratekit/algorithm"
	"github.com/nhalm/ratekit/baseline"
	"github.com/nhalm/ratekit/health"
	"github.com/nhalm/ratekit/httpapi"
	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/metrics"
	"github.com/nhalm/ratekit/service"
	"github.com/nhalm/ratekit/store"
)

// App owns the wired components and the HTTP listener.
type App struct {
	cfg     Config
	log     zerolog.Logger
	store   *store.Redis
	configs *limitcfg.Service
	server  *http.Server
}

// NewApp wires the service from a validated configuration.
func NewApp(cfg Config) (*App, error) {
	level := zerolog.InfoLevel
	if cfg.DetailedLogging {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "ratekit").Logger()

	st, err := store.NewRedis(store.RedisConfig{
		Host:           cfg.RedisHost,
		Port:           cfg.RedisPort,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		CommandTimeout: cfg.CommandTimeout,
		PoolSize:       cfg.PoolMaxActive,
		MinIdleConns:   cfg.PoolMinIdle,
		MaxIdleConns:   cfg.PoolMaxIdle,
		PoolTimeout:    cfg.PoolMaxWait,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	registry, err := algorithm.NewDefaultRegistry(st, time.Now)
	if err != nil {
		return nil, fmt.Errorf("algorithm registry: %w", err)
	}

	m := metrics.New(cfg.MetricsEnabled)

	configs := limitcfg.NewService(st, limitcfg.Defaults{
		Capacity:            cfg.DefaultCapacity,
		RefillRate:          cfg.DefaultRefillRate,
		RefillPeriodSeconds: cfg.DefaultRefillPeriodSeconds,
	}, limitcfg.CacheOptions{
		TTL:         time.Duration(cfg.CacheConfigTTLSeconds) * time.Second,
		MaxSize:     cfg.CacheMaxSize,
		EnableStats: cfg.CacheEnableStats,
	}, log)
	configs.SetObserver(m)

	svc := service.New(registry, configs, m, cfg.FailOpen, log)

	handlers := &httpapi.Handlers{
		Service:   svc,
		Configs:   configs,
		Store:     st,
		Checker:   health.NewChecker(st, log),
		Baselines: baseline.NewTracker(st, log),
		Log:       log,
	}
	opts := httpapi.RouterOptions{}
	if cfg.MetricsEnabled {
		opts.MetricsHandler = m.Handler()
	}

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		configs: configs,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           httpapi.NewRouter(handlers, opts),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Start loads the pattern cache and begins serving. It returns as soon as
// the listener goroutine is launched; listener failures are reported on the
// returned channel.
func (a *App) Start(ctx context.Context) (<-chan error, error) {
	if err := a.configs.Load(ctx); err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.ListenAddr).Bool("failOpen", a.cfg.FailOpen).Msg("listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown drains the listener and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info().Msg("shut down")
	return err
}
