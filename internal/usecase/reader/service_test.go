package reader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-bundler/internal/domain"
	"news-bundler/internal/usecase/storycache"
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

func (m *memCacheRepo) ListStale(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

func seededService(t *testing.T, stories []domain.CachedStory, defaultLimit, maxLimit int) *Service {
	t.Helper()
	repo := newMemCacheRepo()
	repo.caches["b1"] = domain.BundleStoryCache{BundleID: "b1", Stories: stories, LastRefreshTime: time.Now().UTC()}
	caches := storycache.NewService(repo, zerolog.Nop())
	return NewService(caches, defaultLimit, maxLimit)
}

func datedStories(n int) []domain.CachedStory {
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	stories := make([]domain.CachedStory, n)
	for i := range stories {
		ts := base.Add(-time.Duration(i) * time.Hour)
		stories[i] = domain.CachedStory{
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Title:       fmt.Sprintf("новость %d", i),
			SourceName:  "Лента",
			PublishedAt: &ts,
		}
	}
	return stories
}

func TestReadPaginates(t *testing.T) {
	svc := seededService(t, datedStories(120), 50, 200)
	ctx := context.Background()

	page, err := svc.Read(ctx, "b1", ReadOptions{Limit: 50})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(page.Stories) != 50 || !page.HasMore || page.Total != 120 {
		t.Fatalf("ожидали 50 новостей и has_more, получили %d/%v/%d", len(page.Stories), page.HasMore, page.Total)
	}

	page, err = svc.Read(ctx, "b1", ReadOptions{Limit: 50, Offset: 100})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(page.Stories) != 20 || page.HasMore {
		t.Fatalf("последняя страница: ожидали 20 новостей без has_more, получили %d/%v", len(page.Stories), page.HasMore)
	}
}

func TestReadDefaultAndMaxLimit(t *testing.T) {
	svc := seededService(t, datedStories(120), 50, 60)
	ctx := context.Background()

	page, err := svc.Read(ctx, "b1", ReadOptions{})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(page.Stories) != 50 {
		t.Fatalf("нулевой лимит должен заменяться на лимит по умолчанию, получили %d", len(page.Stories))
	}

	page, err = svc.Read(ctx, "b1", ReadOptions{Limit: 1000})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(page.Stories) != 60 {
		t.Fatalf("лимит должен урезаться до максимума, получили %d", len(page.Stories))
	}
}

func TestReadRequiresBundleID(t *testing.T) {
	svc := seededService(t, nil, 50, 200)
	if _, err := svc.Read(context.Background(), "", ReadOptions{}); err != domain.ErrBundleIDEmpty {
		t.Fatalf("ожидали ErrBundleIDEmpty, получили %v", err)
	}
}

func TestPaginateSortsNewestFirst(t *testing.T) {
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := old.Add(24 * time.Hour)
	stories := []domain.CachedStory{
		{URL: "https://a/1", Title: "старая", PublishedAt: &old},
		{URL: "https://a/2", Title: "свежая", PublishedAt: &fresh},
		{URL: "https://a/3", Title: "без даты"},
	}

	page := Paginate(stories, ReadOptions{}, 10)
	if page.Stories[0].Title != "без даты" {
		t.Fatalf("новость без даты считается самой свежей, получили %q", page.Stories[0].Title)
	}
	if page.Stories[1].Title != "свежая" || page.Stories[2].Title != "старая" {
		t.Fatalf("неверный порядок: %q, %q", page.Stories[1].Title, page.Stories[2].Title)
	}
}

func TestPaginateOffsetBeyondEnd(t *testing.T) {
	page := Paginate(datedStories(5), ReadOptions{Offset: 50}, 10)
	if len(page.Stories) != 0 || page.HasMore || page.Total != 5 {
		t.Fatalf("смещение за концом даёт пустую страницу, получили %d/%v/%d", len(page.Stories), page.HasMore, page.Total)
	}
}

func TestFilterBySource(t *testing.T) {
	stories := []domain.CachedStory{
		{URL: "https://a/1", SourceName: "BBC"},
		{URL: "https://a/2", SourceName: "Reuters"},
		{URL: "https://a/3", SourceName: "BBC"},
	}
	out := Filter(stories, StoryFilter{Source: "BBC"})
	if len(out) != 2 {
		t.Fatalf("ожидали 2 новости BBC, получили %d", len(out))
	}
}

func TestFilterByDateRange(t *testing.T) {
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	stories := []domain.CachedStory{
		{URL: "https://a/1", Title: "январь", PublishedAt: &jan},
		{URL: "https://a/2", Title: "март", PublishedAt: &mar},
		{URL: "https://a/3", Title: "без даты"},
	}

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := Filter(stories, StoryFilter{From: &from})
	if len(out) != 2 {
		t.Fatalf("ожидали март и новость без даты, получили %d", len(out))
	}

	to := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	out = Filter(stories, StoryFilter{From: nil, To: &to})
	if len(out) != 1 || out[0].Title != "январь" {
		t.Fatalf("ожидали только январь, получили %d", len(out))
	}

	out = Filter(stories, StoryFilter{From: &jan, To: &jan})
	if len(out) != 1 || out[0].Title != "январь" {
		t.Fatalf("границы диапазона включительны, получили %d", len(out))
	}
}
