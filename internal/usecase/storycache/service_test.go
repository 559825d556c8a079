package storycache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-bundler/internal/domain"
)

type memCacheRepo struct {
	mu     sync.Mutex
	caches map[string]domain.BundleStoryCache
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{caches: map[string]domain.BundleStoryCache{}}
}

func (m *memCacheRepo) getOrCreateLocked(bundleID string) domain.BundleStoryCache {
	cache, ok := m.caches[bundleID]
	if !ok {
		cache = domain.BundleStoryCache{BundleID: bundleID, LastRefreshTime: time.Now().UTC()}
		m.caches[bundleID] = cache
	}
	return cache
}

func (m *memCacheRepo) GetOrCreate(_ context.Context, bundleID string) (domain.BundleStoryCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(bundleID), nil
}

func (m *memCacheRepo) Rewrite(_ context.Context, bundleID string, fn func(domain.BundleStoryCache) (domain.BundleStoryCache, error)) (domain.BundleStoryCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated, err := fn(m.getOrCreateLocked(bundleID))
	if err != nil {
		return domain.BundleStoryCache{}, err
	}
	m.caches[bundleID] = updated
	return updated, nil
}

func (m *memCacheRepo) Invalidate(_ context.Context, bundleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cache := m.getOrCreateLocked(bundleID)
	ts := at
	cache.CacheInvalidatedAt = &ts
	m.caches[bundleID] = cache
	return nil
}

func (m *memCacheRepo) ListStale(_ context.Context, olderThan time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, cache := range m.caches {
		invalidated := cache.CacheInvalidatedAt != nil && cache.CacheInvalidatedAt.After(cache.LastRefreshTime)
		if invalidated || cache.LastRefreshTime.Before(olderThan) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func newTestService() (*Service, *memCacheRepo) {
	repo := newMemCacheRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func TestGetOrCreateRequiresBundleID(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.GetOrCreate(context.Background(), ""); err != domain.ErrBundleIDEmpty {
		t.Fatalf("ожидали ErrBundleIDEmpty, получили %v", err)
	}
}

func TestMergeFillsMetadataAndSummary(t *testing.T) {
	svc, _ := newTestService()
	cfg := domain.RefreshConfig{SearchTerms: []string{"go"}, SelectedFeedIDs: []int64{1, 2}}
	incoming := []domain.CachedStory{
		{URL: "https://a.example/1", SourceName: "BBC"},
		{URL: "https://b.example/2", SourceName: "Reuters"},
	}

	cache, err := svc.Merge(context.Background(), "b1", incoming, cfg)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cache.Metadata.TotalStoryCount != 2 {
		t.Fatalf("ожидали TotalStoryCount=2, получили %d", cache.Metadata.TotalStoryCount)
	}
	if cache.Settings.DeduplicationMethod != domain.DedupByURL {
		t.Fatalf("пустой метод дедупликации должен заменяться на %q", domain.DedupByURL)
	}
	if cache.Summary.SourceDistribution["BBC"] != 1 {
		t.Fatalf("статистика источников не пересчитана: %+v", cache.Summary)
	}
	if len(cache.Metadata.SelectedFeedIDs) != 2 {
		t.Fatalf("конфигурация обновления должна сохраняться в метаданных")
	}
}

func TestMergeResetsInvalidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Merge(ctx, "b1", nil, domain.RefreshConfig{}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.Invalidate(ctx, "b1"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	stale, err := svc.StaleBundles(ctx, time.Hour)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(stale) != 1 || stale[0] != "b1" {
		t.Fatalf("инвалидированный бандл должен считаться устаревшим, получили %v", stale)
	}

	cache, err := svc.Merge(ctx, "b1", nil, domain.RefreshConfig{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if cache.CacheInvalidatedAt != nil {
		t.Fatalf("слияние должно сбрасывать отметку инвалидации")
	}
	stale, _ = svc.StaleBundles(ctx, time.Hour)
	if len(stale) != 0 {
		t.Fatalf("после обновления бандл не должен числиться устаревшим, получили %v", stale)
	}
}

func TestClearKeepsRecord(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	before, err := svc.Merge(ctx, "b1", []domain.CachedStory{{URL: "https://a.example/1"}}, domain.RefreshConfig{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if err := svc.Clear(ctx, "b1"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	cache, err := svc.GetOrCreate(ctx, "b1")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(cache.Stories) != 0 || cache.Metadata.TotalStoryCount != 0 {
		t.Fatalf("после очистки кэш должен быть пуст, получили %d новостей", len(cache.Stories))
	}
	if cache.LastRefreshTime.Before(before.LastRefreshTime) {
		t.Fatalf("очистка должна сдвигать время обновления")
	}
	if _, ok := repo.caches["b1"]; !ok {
		t.Fatalf("очистка не должна удалять запись бандла")
	}
}

func TestStaleBundles(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	repo.caches["old"] = domain.BundleStoryCache{BundleID: "old", LastRefreshTime: time.Now().UTC().Add(-2 * time.Hour)}
	repo.caches["fresh"] = domain.BundleStoryCache{BundleID: "fresh", LastRefreshTime: time.Now().UTC()}

	stale, err := svc.StaleBundles(ctx, time.Hour)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(stale) != 1 || stale[0] != "old" {
		t.Fatalf("ожидали только old, получили %v", stale)
	}
}
