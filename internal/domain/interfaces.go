package domain

import (
	"context"
	"time"
)

// StoryCacheRepo управляет персистентными кэшами бандлов.
type StoryCacheRepo interface {
	// GetOrCreate возвращает кэш бандла, создавая пустой при отсутствии.
	GetOrCreate(ctx context.Context, bundleID string) (BundleStoryCache, error)
	// Rewrite выполняет атомарную перезапись кэша: строка блокируется,
	// fn получает текущее состояние и возвращает новое.
	Rewrite(ctx context.Context, bundleID string, fn func(BundleStoryCache) (BundleStoryCache, error)) (BundleStoryCache, error)
	// Invalidate помечает кэш устаревшим извне.
	Invalidate(ctx context.Context, bundleID string, at time.Time) error
	// ListStale возвращает идентификаторы бандлов, требующих обновления.
	ListStale(ctx context.Context, olderThan time.Time) ([]string, error)
}

// SourceRepo управляет источниками и их историей ошибок.
type SourceRepo interface {
	GetByID(ctx context.Context, id int64) (Source, error)
	ListByIDs(ctx context.Context, ids []int64) ([]Source, error)
	List(ctx context.Context) ([]Source, error)
	MarkFetchSuccess(ctx context.Context, id int64, at time.Time) error
	MarkFetchError(ctx context.Context, id int64, message string, at time.Time) error
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
	UpdateType(ctx context.Context, id int64, newType SourceType, channelID string) (Source, error)
}

// SourceAdapter получает список новостей из одного источника.
// Пустой результат не является ошибкой; ошибка означает сбой запроса
// или разбора ответа.
type SourceAdapter interface {
	Fetch(ctx context.Context, src Source, searchTerms []string) ([]CachedStory, error)
}

// Cache используется для простых TTL-хранилищ и межпроцессных блокировок.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RefreshQueue — очередь задач на обновление кэша.
type RefreshQueue interface {
	Enqueue(ctx context.Context, job RefreshJob) error
	Pop(ctx context.Context) (RefreshJob, error)
}

// InvalidationConsumer доставляет события инвалидации кэша от внешних систем.
type InvalidationConsumer interface {
	Consume(ctx context.Context, fn func(bundleID string) error) error
}
