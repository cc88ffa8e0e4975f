package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/StubbleTrack/config"
	"github.com/BearBump/StubbleTrack/internal/cache"
	"github.com/BearBump/StubbleTrack/internal/cache/rediscache"
	"github.com/BearBump/StubbleTrack/internal/services/carbon"
	"github.com/BearBump/StubbleTrack/internal/services/loads"
	"github.com/BearBump/StubbleTrack/internal/storage/memload"
	"github.com/BearBump/StubbleTrack/internal/storage/pgload"
)

type loadAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    loadAPIOpts
	svc     *loads.Service
	closers []func()
}

func mustBootstrapLoadAPI() *loadAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.StubbleTrack.SlogLevel()})))

	httpAddr := cfg.StubbleTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	cacheTTL := time.Duration(cfg.StubbleTrack.LoadCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	app := &loadAPIApp{}
	pingers := map[string]pinger{}

	var repo interface {
		loads.Repository
		carbon.CreditStore
	}
	if cfg.Database.Host == "" {
		// без БД: локальный запуск, данные живут до рестарта
		slog.Warn("database host is empty, using in-memory storage")
		repo = memload.New()
	} else {
		st := mustOpenPostgresWithRetry(cfg.Database.DSN(), 60*time.Second)
		app.closers = append(app.closers, st.Close)
		pingers["postgres"] = st
		repo = st
	}

	var (
		bytesCache cache.BytesCache
		limiter    cache.Limiter
	)
	if cfg.Redis.Host != "" {
		rc := rediscache.New(cfg.Redis.Addr())
		app.closers = append(app.closers, func() { _ = rc.Close() })
		pingers["redis"] = rc
		bytesCache = rc
		limiter = rediscache.NewRateLimiterWithClient(rc.Client())
	}

	ledger := carbon.NewLedger(repo,
		carbon.EmissionFactorsOrBuiltin(cfg.StubbleTrack.EmissionFactors, cfg.StubbleTrack.DefaultEmissionFactor),
		cfg.StubbleTrack.PointsPerKg,
	)
	svc := loads.New(repo, ledger, bytesCache, cacheTTL).
		WithNearbySettings(cfg.StubbleTrack.NearbyDefaultRadiusKm, cfg.StubbleTrack.NearbyMaxRadiusKm, cfg.StubbleTrack.NearbyMaxResults)
	if limiter != nil {
		svc = svc.WithRateLimiter(limiter, int64(cfg.StubbleTrack.NearbyRateLimitPerMinute))
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.svc = svc
	app.opts = loadAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: swaggerPath,
		pingers:     pingers,
	}
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgload.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgload.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *loadAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *loadAPIApp) Run() error {
	return runLoadAPI(a.ctx, a.opts, a.svc)
}
