package repo

import (
	"context"
	"database/sql"
	"time"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

const sourceColumns = `id, title, url, type, channel_id, error_count, last_error, last_fetched, last_successful_fetch, created_at`

func scanSource(scan func(...any) error) (domain.Source, error) {
	var (
		src         domain.Source
		channelID   sql.NullString
		lastError   sql.NullString
		lastFetched sql.NullTime
		lastSuccess sql.NullTime
	)
	err := scan(&src.ID, &src.Title, &src.URL, &src.Type, &channelID, &src.ErrorCount, &lastError, &lastFetched, &lastSuccess, &src.CreatedAt)
	if err != nil {
		return domain.Source{}, err
	}
	if channelID.Valid {
		src.ChannelID = channelID.String
	}
	if lastError.Valid {
		src.LastError = lastError.String
	}
	if lastFetched.Valid {
		ts := lastFetched.Time
		src.LastFetched = &ts
	}
	if lastSuccess.Valid {
		ts := lastSuccess.Time
		src.LastSuccessfulFetch = &ts
	}
	return src, nil
}

// GetByID возвращает источник по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id=$1`, id)
	src, err := scanSource(row.Scan)
	metrics.ObserveNetworkRequest("postgres", "sources_get", "sources", start, err)
	if isNoRows(err) {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	if err != nil {
		return domain.Source{}, storageErr("sources_get", err)
	}
	return src, nil
}

// ListByIDs возвращает источники по списку идентификаторов, сохраняя
// порядок запрошенных id.
func (p *Postgres) ListByIDs(ctx context.Context, ids []int64) ([]domain.Source, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ANY($1)`, ids)
	metrics.ObserveNetworkRequest("postgres", "sources_list_by_ids", "sources", start, err)
	if err != nil {
		return nil, storageErr("sources_list_by_ids", err)
	}
	defer rows.Close()

	byID := make(map[int64]domain.Source, len(ids))
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, storageErr("sources_list_by_ids", err)
		}
		byID[src.ID] = src
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sources_list_by_ids", err)
	}

	out := make([]domain.Source, 0, len(byID))
	for _, id := range ids {
		if src, ok := byID[id]; ok {
			out = append(out, src)
		}
	}
	return out, nil
}

// List возвращает все источники.
func (p *Postgres) List(ctx context.Context) ([]domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "sources_list", "sources", start, err)
	if err != nil {
		return nil, storageErr("sources_list", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, storageErr("sources_list", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("sources_list", err)
	}
	return out, nil
}

// MarkFetchSuccess сбрасывает счётчик ошибок и фиксирует успешный запрос.
func (p *Postgres) MarkFetchSuccess(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE sources
SET error_count=0, last_error=NULL, last_fetched=$2, last_successful_fetch=$2
WHERE id=$1
`, id, at)
	metrics.ObserveNetworkRequest("postgres", "sources_mark_success", "sources", start, err)
	if err != nil {
		return storageErr("sources_mark_success", err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// MarkFetchError наращивает счётчик последовательных ошибок.
func (p *Postgres) MarkFetchError(ctx context.Context, id int64, message string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE sources
SET error_count=error_count+1, last_error=$2, last_fetched=$3
WHERE id=$1
`, id, message, at)
	metrics.ObserveNetworkRequest("postgres", "sources_mark_error", "sources", start, err)
	if err != nil {
		return storageErr("sources_mark_error", err)
	}
	if res.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// DeleteBatch удаляет источники одной транзакцией и возвращает число
// удалённых строк. Ограничение размера пачки — забота вызывающего.
func (p *Postgres) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM sources WHERE id = ANY($1)`, ids)
	metrics.ObserveNetworkRequest("postgres", "sources_delete_batch", "sources", start, err)
	if err != nil {
		return 0, storageErr("sources_delete_batch", err)
	}
	return res.RowsAffected(), nil
}

// UpdateType переписывает тип источника, производные поля и сбрасывает
// счётчик ошибок.
func (p *Postgres) UpdateType(ctx context.Context, id int64, newType domain.SourceType, channelID string) (domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE sources
SET type=$2, channel_id=NULLIF($3,''), error_count=0, last_error=NULL
WHERE id=$1
RETURNING `+sourceColumns+`
`, id, newType, channelID)
	src, err := scanSource(row.Scan)
	metrics.ObserveNetworkRequest("postgres", "sources_update_type", "sources", start, err)
	if isNoRows(err) {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	if err != nil {
		return domain.Source{}, storageErr("sources_update_type", err)
	}
	return src, nil
}
