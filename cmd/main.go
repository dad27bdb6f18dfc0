package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/actions"
	"github.com/streamspace/reactive-query-server/internal/cache"
	"github.com/streamspace/reactive-query-server/internal/config"
	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
	"github.com/streamspace/reactive-query-server/internal/janitor"
	"github.com/streamspace/reactive-query-server/internal/logger"
	"github.com/streamspace/reactive-query-server/internal/middleware"
	"github.com/streamspace/reactive-query-server/internal/multiplex"
	"github.com/streamspace/reactive-query-server/internal/notifiers"
	"github.com/streamspace/reactive-query-server/internal/reactive"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Log

	redisCache, err := cache.NewCache(cache.Config{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Enabled:  cfg.Cache.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("cache unavailable, continuing with cache disabled")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	if redisCache.IsEnabled() {
		reactive.SetDistributedCache(redisCache)
	}

	closers, notifierChecks := startNotifiers(cfg, log)

	hub := multiplex.NewHub(actions.Registry, *logger.Multiplex())

	var j *janitor.Janitor
	if cfg.Janitor.Enabled {
		j, err = janitor.New(cfg.Janitor.Schedule, hub.ActiveComputations, hub.EvictExpired, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build janitor")
		}
		j.Start()
	}

	router := newRouter(hub, redisCache, notifierChecks)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("reactive query server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if j != nil {
		j.Stop()
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("error closing notifier adapter")
		}
	}
	if err := redisCache.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing cache")
	}

	log.Info().Msg("shutdown complete")
}

// notifierCheck names one started adapter's reachability probe, consulted
// by /readyz.
type notifierCheck struct {
	name    string
	healthy func() bool
}

// startNotifiers starts every notifier adapter enabled in cfg, registers its
// source as an itemsList dependency, and returns the close functions plus
// reachability checks for the ones it started. A failed adapter is logged
// and skipped rather than aborting startup: the server is still useful on
// its own in-process notifier alone.
func startNotifiers(cfg *config.Config, log zerolog.Logger) ([]func() error, []notifierCheck) {
	var closers []func() error
	var checks []notifierCheck

	if cfg.Notifiers.Postgres.Enabled {
		pn, err := notifiers.NewPostgresNotifier(
			cfg.Notifiers.Postgres.ConnString,
			cfg.Notifiers.Postgres.ReconnectInterval,
			time.Minute,
			*logger.Notifier(),
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to start postgres notifier")
		} else {
			actions.RegisterDependency(pn.NotifierFor(cfg.Notifiers.Postgres.Channel))
			closers = append(closers, pn.Close)
			checks = append(checks, notifierCheck{name: "postgres", healthy: pn.Healthy})
		}
	}

	if cfg.Notifiers.File.Enabled {
		fn, err := notifiers.NewFileNotifier(cfg.Notifiers.File.Paths, *logger.Notifier())
		if err != nil {
			log.Error().Err(err).Msg("failed to start file notifier")
		} else {
			actions.RegisterDependency(fn.Source())
			closers = append(closers, fn.Close)
			checks = append(checks, notifierCheck{name: "file", healthy: fn.Healthy})
		}
	}

	if cfg.Notifiers.NATS.Enabled {
		nb, err := notifiers.NewNATSBridge(cfg.Notifiers.NATS.URL, cfg.Notifiers.NATS.Subject, *logger.Notifier())
		if err != nil {
			log.Error().Err(err).Msg("failed to start nats bridge")
		} else {
			actions.RegisterDependency(nb.Source())
			closers = append(closers, nb.Close)
			checks = append(checks, notifierCheck{name: "nats", healthy: nb.Healthy})
		}
	}

	return closers, checks
}

func newRouter(hub *multiplex.Hub, redisCache *cache.Cache, notifierChecks []notifierCheck) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(apperrors.Recovery())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	timeoutCfg := middleware.DefaultTimeoutConfig()
	timeoutCfg.ExcludedPaths = append(timeoutCfg.ExcludedPaths, "/ws")
	router.Use(middleware.Timeout(timeoutCfg))
	router.Use(middleware.AllowedHTTPMethods())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.NewInputValidator().Middleware())
	router.Use(middleware.RequestSizeLimiter(middleware.MaxRequestBodySize))
	router.Use(apperrors.ErrorHandler())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		stats, _ := redisCache.GetStats(c.Request.Context())

		notifierStatus := make(gin.H, len(notifierChecks))
		allReachable := true
		for _, check := range notifierChecks {
			ok := check.healthy()
			notifierStatus[check.name] = ok
			if !ok {
				allReachable = false
			}
		}

		status := "ok"
		code := http.StatusOK
		if !allReachable {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":      status,
			"connections": hub.ClientCount(),
			"cache":       stats,
			"notifiers":   notifierStatus,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})

	return router
}
