package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"iptracker/internal/anomaly"
	"iptracker/internal/blocklist"
	"iptracker/internal/config"
	"iptracker/internal/database"
	"iptracker/internal/geolite"
	"iptracker/internal/geolocation"
	"iptracker/internal/jobs/runtime"
	"iptracker/internal/ratelimit"
	"iptracker/internal/support"
	"iptracker/internal/tracking"
)

const backendRedis = "redis"

// Services holds the long lived components of one running instance.
type Services struct {
	Store          *database.Store
	Redis          *redis.Client
	Blocklist      *blocklist.Manager
	GeoLite        *geolocation.GeoLiteProvider
	GeoLiteUpdater *geolite.Updater
	Resolver       *geolocation.Resolver
	Interceptor    *tracking.Interceptor
	Limiter        ratelimit.Limiter
	Scanner        *anomaly.Scanner

	memoryLimiter *ratelimit.MemoryLimiter
}

// Setup reads the settings, connects to the stores and builds every
// component. Redis is optional unless REDIS_REQUIRED is set.
func Setup(ctx context.Context) (*Services, error) {
	config.ReadSettings()

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("set up database: %w", err)
	}
	config.SetBetweenTime()

	s := &Services{Store: database.NewStore(db)}

	if support.GetEnvBool("REDIS_ENABLED", true) {
		client, err := support.GetRedisClient()
		switch {
		case err == nil:
			s.Redis = client
			config.EnableRedisSynchronization(ctx, client)
		case support.GetEnvBool("REDIS_REQUIRED", false):
			return nil, fmt.Errorf("connect redis: %w", err)
		default:
			log.Warn("Redis unavailable, running single instance", "error", err)
		}
	}

	cfg := config.GetConfig()

	var blocklistOpts []blocklist.Option
	if s.Redis != nil {
		blocklistOpts = append(blocklistOpts, blocklist.WithRedis(s.Redis))
	}
	s.Blocklist = blocklist.NewManager(s.Store, blocklistOpts...)
	if err := s.Blocklist.LoadCache(ctx); err != nil {
		return nil, fmt.Errorf("load blocklist: %w", err)
	}
	log.Info("Blocklist loaded", "entries", s.Blocklist.Count())

	s.Resolver = s.buildResolver(cfg)

	s.Interceptor = tracking.NewInterceptor(s.Blocklist, s.Resolver, s.Store, tracking.Config{
		ForwardedHeader: cfg.Tracking.ForwardedHeader,
		LogWriteTimeout: cfg.LogWriteTimeout(),
	})

	s.memoryLimiter = ratelimit.NewMemoryLimiter()
	s.Limiter = s.memoryLimiter
	if strings.EqualFold(cfg.RateLimit.Backend, backendRedis) && s.Redis != nil {
		s.Limiter = ratelimit.NewRedisLimiter(s.Redis, s.memoryLimiter)
	}

	s.Scanner = anomaly.NewScanner(s.Store)

	return s, nil
}

func (s *Services) buildResolver(cfg config.Config) *geolocation.Resolver {
	geoLite, err := geolocation.NewGeoLiteProvider(cfg.Geolocation.GeoLitePath)
	if err != nil {
		log.Info("GeoLite database not loaded, using the http provider only", "path", cfg.Geolocation.GeoLitePath, "error", err)
	}
	s.GeoLite = geoLite

	updaterOpts := []geolite.Option{geolite.WithReloader(geoLite)}
	if s.Redis != nil {
		updaterOpts = append(updaterOpts, geolite.WithRedis(s.Redis))
	}
	s.GeoLiteUpdater = geolite.NewUpdater(cfg.Geolocation.GeoLitePath, updaterOpts...)

	httpProvider := geolocation.NewHTTPProvider(geolocation.HTTPProviderConfig{
		URLTemplate:       cfg.Geolocation.ProviderURL,
		APIKey:            support.GetEnv("IPGEOLOCATION_API_KEY", ""),
		RequestsPerSecond: cfg.Geolocation.RequestsPerSecond,
	})

	var cache geolocation.Cache
	if strings.EqualFold(cfg.Geolocation.CacheBackend, backendRedis) && s.Redis != nil {
		cache = geolocation.NewRedisCache(s.Redis)
	} else {
		cache = geolocation.NewMemoryCache(cfg.Geolocation.CacheSize)
	}

	return geolocation.NewResolver(
		cache,
		geolocation.ChainProvider{geoLite, httpProvider},
		geolocation.WithTimeout(cfg.GeolocationTimeout()),
		geolocation.WithTTL(cfg.GeoCacheTTL()),
	)
}

// StartRoutines launches the background loops on g. They all stop when ctx
// ends.
func (s *Services) StartRoutines(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		s.Blocklist.StartRefreshRoutine(ctx)
		return nil
	})
	g.Go(func() error {
		runtime.StartAnomalyScanRoutine(ctx, s.Redis, s.Scanner)
		return nil
	})
	g.Go(func() error {
		runtime.StartGeoLiteUpdateRoutine(ctx, s.Redis, s.GeoLiteUpdater)
		return nil
	})

	if s.Redis == nil {
		return
	}
	g.Go(func() error {
		s.Blocklist.Subscribe(ctx)
		return nil
	})
	g.Go(func() error {
		s.GeoLiteUpdater.Subscribe(ctx)
		return nil
	})
	g.Go(func() error {
		runtime.StartInstanceHeartbeat(ctx, s.Redis, runtime.DefaultHeartbeatInterval, runtime.DefaultHeartbeatTTL)
		return nil
	})
}

// Close releases connections in reverse order of Setup.
func (s *Services) Close() error {
	var errs []error

	if s.memoryLimiter != nil {
		s.memoryLimiter.Close()
	}
	if s.GeoLite != nil {
		if err := s.GeoLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close geolite: %w", err))
		}
	}
	if s.Redis != nil {
		config.DisableRedisSynchronization()
		if err := support.CloseRedisClient(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := database.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}

	return errors.Join(errs...)
}
