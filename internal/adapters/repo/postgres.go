package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.StoryCacheRepo = (*Postgres)(nil)
	_ domain.SourceRepo     = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func storageErr(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err}
}

type cacheRow struct {
	storiesJSON     []byte
	summaryJSON     []byte
	searchTerms     []string
	selectedFeedIDs []int64
	dedupMethod     string
	totalCount      int
	lastRefresh     time.Time
	invalidatedAt   sql.NullTime
}

func (r cacheRow) toDomain(bundleID string) (domain.BundleStoryCache, error) {
	cache := domain.BundleStoryCache{
		BundleID: bundleID,
		Metadata: domain.CacheMetadata{
			TotalStoryCount: r.totalCount,
			SearchTerms:     r.searchTerms,
			SelectedFeedIDs: r.selectedFeedIDs,
		},
		Settings:        domain.CacheSettings{DeduplicationMethod: r.dedupMethod},
		LastRefreshTime: r.lastRefresh,
	}
	if len(r.storiesJSON) > 0 {
		if err := json.Unmarshal(r.storiesJSON, &cache.Stories); err != nil {
			return domain.BundleStoryCache{}, fmt.Errorf("decode stories: %w", err)
		}
	}
	if len(r.summaryJSON) > 0 {
		if err := json.Unmarshal(r.summaryJSON, &cache.Summary); err != nil {
			return domain.BundleStoryCache{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	if r.invalidatedAt.Valid {
		ts := r.invalidatedAt.Time
		cache.CacheInvalidatedAt = &ts
	}
	return cache, nil
}

const cacheColumns = `stories, summary, search_terms, selected_feed_ids, dedup_method, total_story_count, last_refresh_time, cache_invalidated_at`

// GetOrCreate возвращает кэш бандла, создавая пустую запись при отсутствии.
func (p *Postgres) GetOrCreate(ctx context.Context, bundleID string) (domain.BundleStoryCache, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var row cacheRow
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO bundle_story_caches (bundle_id, dedup_method, last_refresh_time)
VALUES ($1, $2, now())
ON CONFLICT (bundle_id) DO UPDATE SET bundle_id = EXCLUDED.bundle_id
RETURNING `+cacheColumns+`
`, bundleID, domain.DedupByURL).Scan(&row.storiesJSON, &row.summaryJSON, &row.searchTerms, &row.selectedFeedIDs, &row.dedupMethod, &row.totalCount, &row.lastRefresh, &row.invalidatedAt)
	metrics.ObserveNetworkRequest("postgres", "caches_get_or_create", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("get_or_create", err)
	}
	cache, err := row.toDomain(bundleID)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("get_or_create", err)
	}
	return cache, nil
}

// Rewrite атомарно перезаписывает кэш бандла: строка блокируется FOR UPDATE,
// fn получает текущее состояние и возвращает новое. При ошибке транзакция
// откатывается и прежнее состояние остаётся нетронутым.
func (p *Postgres) Rewrite(ctx context.Context, bundleID string, fn func(domain.BundleStoryCache) (domain.BundleStoryCache, error)) (domain.BundleStoryCache, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO bundle_story_caches (bundle_id, dedup_method, last_refresh_time)
VALUES ($1, $2, now())
ON CONFLICT (bundle_id) DO NOTHING
`, bundleID, domain.DedupByURL)
	metrics.ObserveNetworkRequest("postgres", "caches_ensure", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("ensure", err)
	}

	var row cacheRow
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT `+cacheColumns+` FROM bundle_story_caches WHERE bundle_id=$1 FOR UPDATE
`, bundleID).Scan(&row.storiesJSON, &row.summaryJSON, &row.searchTerms, &row.selectedFeedIDs, &row.dedupMethod, &row.totalCount, &row.lastRefresh, &row.invalidatedAt)
	metrics.ObserveNetworkRequest("postgres", "caches_lock", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("lock", err)
	}

	current, err := row.toDomain(bundleID)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("decode", err)
	}

	updated, err := fn(current)
	if err != nil {
		return domain.BundleStoryCache{}, err
	}

	storiesJSON, err := json.Marshal(updated.Stories)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("encode_stories", err)
	}
	summaryJSON, err := json.Marshal(updated.Summary)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("encode_summary", err)
	}

	var invalidatedAt any
	if updated.CacheInvalidatedAt != nil {
		invalidatedAt = *updated.CacheInvalidatedAt
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE bundle_story_caches
SET stories=$2, summary=$3, search_terms=$4, selected_feed_ids=$5, dedup_method=$6,
    total_story_count=$7, last_refresh_time=$8, cache_invalidated_at=$9
WHERE bundle_id=$1
`, bundleID, storiesJSON, summaryJSON, updated.Metadata.SearchTerms, updated.Metadata.SelectedFeedIDs,
		updated.Settings.DeduplicationMethod, updated.Metadata.TotalStoryCount, updated.LastRefreshTime, invalidatedAt)
	metrics.ObserveNetworkRequest("postgres", "caches_rewrite", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("rewrite", err)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "bundle_story_caches", start, err)
	if err != nil {
		return domain.BundleStoryCache{}, storageErr("commit", err)
	}
	return updated, nil
}

// Invalidate помечает кэш устаревшим, создавая запись при необходимости.
func (p *Postgres) Invalidate(ctx context.Context, bundleID string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO bundle_story_caches (bundle_id, dedup_method, last_refresh_time, cache_invalidated_at)
VALUES ($1, $2, now(), $3)
ON CONFLICT (bundle_id) DO UPDATE SET cache_invalidated_at = EXCLUDED.cache_invalidated_at
`, bundleID, domain.DedupByURL, at)
	metrics.ObserveNetworkRequest("postgres", "caches_invalidate", "bundle_story_caches", start, err)
	if err != nil {
		return storageErr("invalidate", err)
	}
	return nil
}

// ListStale возвращает идентификаторы бандлов с устаревшим кэшем.
func (p *Postgres) ListStale(ctx context.Context, olderThan time.Time) ([]string, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT bundle_id FROM bundle_story_caches
WHERE (cache_invalidated_at IS NOT NULL AND cache_invalidated_at > last_refresh_time)
   OR last_refresh_time < $1
ORDER BY last_refresh_time
`, olderThan)
	metrics.ObserveNetworkRequest("postgres", "caches_list_stale", "bundle_story_caches", start, err)
	if err != nil {
		return nil, storageErr("list_stale", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("list_stale", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_stale", err)
	}
	return ids, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
