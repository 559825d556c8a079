package storycache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"news-bundler/internal/domain"
)

// Service реализует хранилище кэшей новостей поверх репозитория.
type Service struct {
	repo domain.StoryCacheRepo
	log  zerolog.Logger
}

// NewService создаёт сервис кэшей.
func NewService(repo domain.StoryCacheRepo, logger zerolog.Logger) *Service {
	return &Service{repo: repo, log: logger}
}

// GetOrCreate возвращает кэш бандла, создавая пустой при первом обращении.
func (s *Service) GetOrCreate(ctx context.Context, bundleID string) (domain.BundleStoryCache, error) {
	if bundleID == "" {
		return domain.BundleStoryCache{}, domain.ErrBundleIDEmpty
	}
	return s.repo.GetOrCreate(ctx, bundleID)
}

// Merge вливает кандидатов в кэш бандла. Дубликаты схлопываются по
// нормализованному URL, статистика и счётчики пересчитываются, время
// обновления сдвигается. Запись атомарна: при ошибке хранилища прежнее
// состояние кэша остаётся нетронутым.
func (s *Service) Merge(ctx context.Context, bundleID string, incoming []domain.CachedStory, cfg domain.RefreshConfig) (domain.BundleStoryCache, error) {
	if bundleID == "" {
		return domain.BundleStoryCache{}, domain.ErrBundleIDEmpty
	}

	dedup := cfg.Deduplication
	if dedup == "" {
		dedup = domain.DedupByURL
	}

	return s.repo.Rewrite(ctx, bundleID, func(cache domain.BundleStoryCache) (domain.BundleStoryCache, error) {
		cache.Stories = MergeStories(cache.Stories, incoming)
		cache.Metadata = domain.CacheMetadata{
			TotalStoryCount: len(cache.Stories),
			SearchTerms:     cfg.SearchTerms,
			SelectedFeedIDs: cfg.SelectedFeedIDs,
		}
		cache.Settings.DeduplicationMethod = dedup
		cache.Summary = BuildSummary(cache.Stories)
		cache.LastRefreshTime = time.Now().UTC()
		cache.CacheInvalidatedAt = nil
		return cache, nil
	})
}

// Clear опустошает кэш бандла, не удаляя саму запись: бандл с очищенным
// кэшем отличается от никогда не инициализированного только фактом
// существования строки.
func (s *Service) Clear(ctx context.Context, bundleID string) error {
	if bundleID == "" {
		return domain.ErrBundleIDEmpty
	}
	_, err := s.repo.Rewrite(ctx, bundleID, func(cache domain.BundleStoryCache) (domain.BundleStoryCache, error) {
		cache.Stories = nil
		cache.Metadata = domain.CacheMetadata{}
		cache.Summary = domain.CacheSummary{}
		cache.LastRefreshTime = time.Now().UTC()
		cache.CacheInvalidatedAt = nil
		return cache, nil
	})
	if err != nil {
		return err
	}
	s.log.Debug().Str("bundle", bundleID).Msg("кэш бандла очищен")
	return nil
}

// StaleBundles возвращает бандлы, чей кэш старше окна устаревания или
// помечен внешней инвалидацией.
func (s *Service) StaleBundles(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	return s.repo.ListStale(ctx, time.Now().UTC().Add(-staleAfter))
}

// Invalidate помечает кэш устаревшим по сигналу извне.
func (s *Service) Invalidate(ctx context.Context, bundleID string) error {
	if bundleID == "" {
		return domain.ErrBundleIDEmpty
	}
	return s.repo.Invalidate(ctx, bundleID, time.Now().UTC())
}
