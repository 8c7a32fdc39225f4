package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vasudvy/billfrog/internal/archive"
	"github.com/vasudvy/billfrog/internal/config"
	"github.com/vasudvy/billfrog/internal/notify"
	"github.com/vasudvy/billfrog/internal/policy"
	"github.com/vasudvy/billfrog/internal/pricing"
	"github.com/vasudvy/billfrog/internal/providers"
	"github.com/vasudvy/billfrog/internal/quality"
	"github.com/vasudvy/billfrog/internal/queue"
	"github.com/vasudvy/billfrog/internal/storage"
	"github.com/vasudvy/billfrog/internal/tracking"
	"github.com/vasudvy/billfrog/internal/utils"
)

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("httpapi")

	// Initialize database
	db, err := storage.NewDB(storage.DBConfig{
		DSN:              cfg.Database.URL,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		PricingCacheSize: cfg.Cache.PricingCacheSize,
		PricingCacheTTL:  cfg.Cache.PricingCacheTTL,
		FilterCacheSize:  cfg.Cache.FilterCacheSize,
		FilterCacheTTL:   cfg.Cache.FilterCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	// Initialize repositories
	usageRepo := storage.NewUsageRepository(db)
	pricingRepo := storage.NewPricingRepository(db)
	filterRepo := storage.NewFilterRepository(db)
	operatorRepo := storage.NewOperatorRepository(db)

	pricingService := pricing.NewService(pricingRepo, db.PricingCache())
	policyEngine := policy.NewEngine(filterRepo, usageRepo, utils.NewLogger("policy"))
	registry := providers.DefaultRegistry(providers.Config{
		RequestTimeout: cfg.Provider.RequestTimeout,
	})

	classifier, err := quality.NewClassifier(quality.Config{
		LengthRatio:         cfg.Quality.LengthRatio,
		FabricatedSpecifics: cfg.Quality.FabricatedSpecifics,
		RepetitionCount:     cfg.Quality.RepetitionCount,
		DisallowedPatterns:  cfg.Quality.DisallowedPatterns,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize quality classifier: %w", err)
	}

	// Persist retry queue. Redis when configured, in-memory otherwise.
	useRedis := cfg.Redis.Address != ""

	persistCfg := queue.DefaultConfig("persist")
	persistCfg.BatchSize = cfg.Queue.BatchSize
	persistCfg.BatchTimeout = cfg.Queue.BatchTimeout
	persistCfg.MaxRetries = cfg.Queue.MaxRetries
	persistCfg.RetryBackoff = cfg.Queue.RetryBackoff
	persistCfg.UseRedis = useRedis

	var persistQueue queue.Queue
	var persistDLQ queue.DeadLetterQueue
	if useRedis {
		persistCfg.RedisAddr = cfg.Redis.Address
		persistCfg.RedisPassword = cfg.Redis.Password
		persistCfg.RedisDB = cfg.Redis.DB
		persistQueue, err = queue.NewRedisQueue(persistCfg)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to create persist queue: %w", err)
		}
		persistDLQ, err = queue.NewRedisDeadLetterQueue(persistCfg)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to create persist DLQ: %w", err)
		}
	} else {
		persistQueue = queue.NewMemoryQueue(persistCfg)
		persistDLQ = queue.NewMemoryDeadLetterQueue()
	}

	persistWorker := storage.NewPersistWorker(persistQueue, persistDLQ, usageRepo, persistCfg)
	persistWorker.Start(context.Background())

	// Record notifications. Redis pub/sub when configured, in-process
	// broadcast otherwise.
	var notifier notify.Notifier
	if useRedis {
		notifier, err = notify.NewRedisPublisher(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Notify.Channel,
			utils.NewLogger("notify"),
		)
		if err != nil {
			persistWorker.Stop()
			db.Close()
			return nil, nil, fmt.Errorf("failed to create record publisher: %w", err)
		}
	} else {
		notifier = notify.NewBroadcaster(0)
	}

	// Long-term archive, off unless a bucket is configured
	var sink archive.Sink = archive.NewNoopSink()
	if cfg.Archive.Enabled {
		writer, err := archive.NewS3Writer(
			context.Background(),
			cfg.Archive.S3Bucket,
			cfg.Archive.S3Region,
			cfg.Archive.S3Prefix,
			cfg.Archive.PodName,
		)
		if err != nil {
			notifier.Close()
			persistWorker.Stop()
			db.Close()
			return nil, nil, fmt.Errorf("failed to create archive writer: %w", err)
		}
		sink = archive.NewBufferedSink(writer, cfg.Archive.FlushSize, cfg.Archive.FlushInterval, utils.NewLogger("archive"))
	}

	orchestrator := tracking.NewOrchestrator(
		usageRepo,
		persistWorker,
		policyEngine,
		pricingService,
		registry,
		classifier,
		notifier,
		sink,
		utils.NewLogger("tracking"),
	)

	deps := &Dependencies{
		Tracker:   orchestrator,
		Usage:     usageRepo,
		Pricing:   pricingService,
		Filters:   filterRepo,
		Operators: operatorRepo,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
		Health:    db.Health,
		closers: []func() error{
			db.Close,
			persistWorker.Stop,
			notifier.Close,
			sink.Close,
		},
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	operatorJWT := OperatorJWTMiddleware(cfg.JWTSecret)

	// Metering endpoints. Provider credentials travel per request, so
	// these need no stored authentication of their own.
	mux.HandleFunc("/v1/track", deps.handleTrack)
	mux.HandleFunc("/v1/credentials/test", deps.handleTestCredential)
	mux.HandleFunc("/v1/logs", deps.handleLogs)
	mux.HandleFunc("/v1/summary", deps.handleSummary)

	// Operator configuration surfaces
	mux.HandleFunc("/v1/operators/login", deps.handleOperatorLogin)
	mux.Handle("/v1/pricing", operatorJWT(http.HandlerFunc(deps.handlePricing)))
	mux.Handle("/v1/filters", operatorJWT(http.HandlerFunc(deps.handleFilters)))

	mux.HandleFunc("/healthz", deps.handleHealth)
}
