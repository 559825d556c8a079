package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"news-bundler/internal/adapters/repo"
	"news-bundler/internal/adapters/sources"
	"news-bundler/internal/domain"
	"news-bundler/internal/infra/cache"
	"news-bundler/internal/infra/config"
	"news-bundler/internal/infra/db"
	applog "news-bundler/internal/infra/log"
	"news-bundler/internal/infra/metrics"
	"news-bundler/internal/infra/queue"
	healthusecase "news-bundler/internal/usecase/health"
	refreshusecase "news-bundler/internal/usecase/refresh"
	"news-bundler/internal/usecase/storycache"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("refresher: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("refresher: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	lock := cache.NewRedis(redisClient)
	refreshQueue := queue.NewRedisRefreshQueue(redisClient, cfg.Queues.Refresh)

	caches := storycache.NewService(repoAdapter, logger.With().Str("component", "storycache").Logger())
	healthService := healthusecase.NewService(repoAdapter, healthusecase.Policy{
		DeadErrorThreshold: cfg.Health.DeadErrorThreshold,
		DeadAfter:          cfg.Health.DeadAfter,
		DeleteBatchSize:    cfg.Health.DeleteBatchSize,
	}, logger.With().Str("component", "health").Logger())

	adapters := map[domain.SourceType]domain.SourceAdapter{
		domain.SourceRSS:        sources.NewRSS(cfg.Refresh.AdapterTimeout),
		domain.SourceYouTube:    sources.NewYouTube(cfg.Refresh.AdapterTimeout),
		domain.SourceGoogleNews: sources.NewGoogleNews(cfg.Refresh.AdapterTimeout),
		domain.SourceTwitter:    sources.NewTwitter(cfg.Twitter.BearerToken, cfg.Twitter.BaseURL, cfg.Twitter.Timeout),
	}

	refreshService := refreshusecase.NewService(caches, repoAdapter, healthService, adapters,
		cfg.Refresh.StaleAfter, cfg.Refresh.AdapterTimeout, logger.With().Str("component", "refresh").Logger())

	worker := &refreshWorker{
		log:     logger.With().Str("component", "refresher").Logger(),
		caches:  caches,
		service: refreshService,
		lock:    lock,
		lockTTL: cfg.Refresh.LockTTL,
	}

	if cfg.RabbitURL != "" {
		invalidations, err := queue.NewRabbitInvalidations(cfg.RabbitURL, cfg.Queues.Invalidation)
		if err != nil {
			logger.Fatal().Err(err).Msg("refresher: не удалось подключиться к RabbitMQ")
		}
		defer invalidations.Close()
		go worker.consumeInvalidations(ctx, invalidations)
	}

	go worker.consumeJobs(ctx, refreshQueue)

	logger.Info().Dur("interval", cfg.Refresh.ScanInterval).Msg("refresher: запуск")
	worker.runScanner(ctx, cfg.Refresh.ScanInterval)
	logger.Info().Msg("refresher: остановлен")
}

type refreshWorker struct {
	log     zerolog.Logger
	caches  *storycache.Service
	service *refreshusecase.Service
	lock    domain.Cache
	lockTTL time.Duration
}

// runScanner по таймеру находит устаревшие бандлы и обновляет их. Обход
// прекращается при отмене контекста: снятие владеющего контекста отменяет
// автообновление.
func (w *refreshWorker) runScanner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce(ctx)
		}
	}
}

func (w *refreshWorker) scanOnce(ctx context.Context) {
	ids, err := w.caches.StaleBundles(ctx, w.service.StaleAfter())
	if err != nil {
		w.log.Error().Err(err).Msg("refresher: выборка устаревших бандлов")
		return
	}
	for _, bundleID := range ids {
		if ctx.Err() != nil {
			return
		}
		w.refreshBundle(ctx, bundleID, domain.RefreshCauseAuto)
	}
}

// refreshBundle обновляет один бандл под межпроцессной блокировкой: если
// обновление уже идёт в другом процессе, Once молча пропускает вызов.
func (w *refreshWorker) refreshBundle(ctx context.Context, bundleID string, cause domain.RefreshCause) {
	err := w.lock.Once(ctx, "refresh:"+bundleID, w.lockTTL, func() error {
		cacheState, err := w.caches.GetOrCreate(ctx, bundleID)
		if err != nil {
			return err
		}
		if len(cacheState.Metadata.SelectedFeedIDs) == 0 {
			w.log.Debug().Str("bundle", bundleID).Msg("refresher: у бандла нет сохранённой конфигурации")
			return nil
		}
		cfg := domain.RefreshConfig{
			SearchTerms:     cacheState.Metadata.SearchTerms,
			SelectedFeedIDs: cacheState.Metadata.SelectedFeedIDs,
			Deduplication:   cacheState.Settings.DeduplicationMethod,
		}
		_, err = w.service.Refresh(ctx, bundleID, cfg, cause)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.log.Error().Err(err).Str("bundle", bundleID).Msg("refresher: обновление не удалось")
	}
}

// consumeJobs обрабатывает задачи из очереди обновлений.
func (w *refreshWorker) consumeJobs(ctx context.Context, jobs domain.RefreshQueue) {
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("refresher: чтение очереди")
			continue
		}
		err = w.lock.Once(ctx, "refresh:"+job.BundleID, w.lockTTL, func() error {
			_, err := w.service.Refresh(ctx, job.BundleID, job.Config, job.Cause)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Str("bundle", job.BundleID).Str("job", job.ID).Msg("refresher: задача не выполнена")
		}
	}
}

// consumeInvalidations помечает кэш устаревшим по событиям внешних систем.
// Следующий проход сканера подхватит бандл как устаревший.
func (w *refreshWorker) consumeInvalidations(ctx context.Context, invalidations domain.InvalidationConsumer) {
	err := invalidations.Consume(ctx, func(bundleID string) error {
		w.log.Info().Str("bundle", bundleID).Msg("refresher: получена инвалидация")
		return w.caches.Invalidate(ctx, bundleID)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.log.Error().Err(err).Msg("refresher: консьюмер инвалидаций остановлен")
	}
}
