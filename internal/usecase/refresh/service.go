package refresh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
	"news-bundler/internal/usecase/health"
	"news-bundler/internal/usecase/storycache"
)

// DefaultStaleAfter — окно устаревания кэша по умолчанию.
const DefaultStaleAfter = time.Hour

// SourceResult описывает итог обращения к одному источнику.
type SourceResult struct {
	SourceID    int64  `json:"source_id"`
	SourceTitle string `json:"source_title"`
	Stories     int    `json:"stories"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report — итог обновления кэша бандла.
type Report struct {
	Cache   domain.BundleStoryCache `json:"-"`
	Sources []SourceResult          `json:"sources"`
}

// Service решает, когда и как обновлять кэш бандла, и выполняет слияние.
type Service struct {
	caches     *storycache.Service
	sources    domain.SourceRepo
	health     *health.Service
	adapters   map[domain.SourceType]domain.SourceAdapter
	group      singleflight.Group
	staleAfter time.Duration
	timeout    time.Duration
	log        zerolog.Logger
}

// NewService создаёт оркестратор обновлений.
func NewService(caches *storycache.Service, sources domain.SourceRepo, healthSvc *health.Service, adapters map[domain.SourceType]domain.SourceAdapter, staleAfter, adapterTimeout time.Duration, logger zerolog.Logger) *Service {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if adapterTimeout <= 0 {
		adapterTimeout = 20 * time.Second
	}
	return &Service{
		caches:     caches,
		sources:    sources,
		health:     healthSvc,
		adapters:   adapters,
		staleAfter: staleAfter,
		timeout:    adapterTimeout,
		log:        logger,
	}
}

// StaleAt сообщает, устарел ли кэш на момент now. Предикат чистый: его можно
// дёргать по таймеру без какой-либо сетевой активности.
func StaleAt(cache domain.BundleStoryCache, now time.Time, staleAfter time.Duration) bool {
	if cache.CacheInvalidatedAt != nil && cache.CacheInvalidatedAt.After(cache.LastRefreshTime) {
		return true
	}
	return now.Sub(cache.LastRefreshTime) > staleAfter
}

// StaleAfter возвращает настроенное окно устаревания.
func (s *Service) StaleAfter() time.Duration {
	return s.staleAfter
}

// IsStale проверяет устаревание кэша с настроенным окном сервиса.
func (s *Service) IsStale(cache domain.BundleStoryCache) bool {
	return StaleAt(cache, time.Now().UTC(), s.staleAfter)
}

// Refresh обновляет кэш бандла. Повторный вызов для того же бандла во время
// выполняющегося обновления не порождает дубликатов запросов к источникам:
// второй вызов дожидается первого и получает его результат.
func (s *Service) Refresh(ctx context.Context, bundleID string, cfg domain.RefreshConfig, cause domain.RefreshCause) (Report, error) {
	if bundleID == "" {
		return Report{}, domain.ErrBundleIDEmpty
	}
	if len(cfg.SelectedFeedIDs) == 0 {
		return Report{}, domain.ErrNoSourcesSelected
	}

	start := time.Now()
	v, err, shared := s.group.Do(bundleID, func() (any, error) {
		return s.refresh(ctx, bundleID, cfg)
	})
	metrics.ObserveRefresh(string(cause), start, err)
	if err != nil {
		return Report{}, err
	}
	if shared {
		s.log.Debug().Str("bundle", bundleID).Msg("refresh: запрос склеен с выполняющимся")
	}
	return v.(Report), nil
}

func (s *Service) refresh(ctx context.Context, bundleID string, cfg domain.RefreshConfig) (Report, error) {
	sources, err := s.sources.ListByIDs(ctx, cfg.SelectedFeedIDs)
	if err != nil {
		return Report{}, fmt.Errorf("список источников: %w", err)
	}

	now := time.Now().UTC()
	results := make([]SourceResult, len(sources))
	storiesBySource := make([][]domain.CachedStory, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		results[i] = SourceResult{SourceID: src.ID, SourceTitle: src.Title}

		state := s.health.Evaluate(src, now)
		if state.IsDead {
			results[i].Skipped = true
			results[i].Error = deadSourceMessage(src, state.Reason)
			metrics.DeadSourcesSkippedTotal.Inc()
			continue
		}

		adapter, ok := s.adapters[src.Type]
		if !ok {
			results[i].Error = domain.ErrUnsupportedSourceType.Error()
			continue
		}

		wg.Add(1)
		go func(i int, src domain.Source, adapter domain.SourceAdapter) {
			defer wg.Done()
			stories, fetchErr := s.fetchOne(ctx, adapter, src, cfg.SearchTerms)
			if fetchErr != nil {
				adapterErr := &domain.AdapterError{SourceID: src.ID, SourceTitle: src.Title, Err: fetchErr}
				results[i].Error = adapterErr.Error()
				metrics.AdapterErrorsTotal.WithLabelValues(string(src.Type)).Inc()
				s.health.MarkFeedError(ctx, src.ID, fetchErr.Error())
				s.log.Warn().Err(fetchErr).Int64("source", src.ID).Msg("refresh: источник не ответил")
				return
			}
			results[i].Stories = len(stories)
			storiesBySource[i] = stories
			s.health.MarkFeedSuccess(ctx, src.ID)
		}(i, src, adapter)
	}
	wg.Wait()

	var candidates []domain.CachedStory
	for _, stories := range storiesBySource {
		candidates = append(candidates, stories...)
	}
	metrics.StoriesMergedTotal.Add(float64(len(candidates)))

	cache, err := s.caches.Merge(ctx, bundleID, candidates, cfg)
	if err != nil {
		return Report{}, err
	}
	return Report{Cache: cache, Sources: results}, nil
}

// fetchOne опрашивает один источник со своим таймаутом. Зависший адаптер не
// блокирует остальных: истечение таймаута считается сбоем этого источника.
func (s *Service) fetchOne(ctx context.Context, adapter domain.SourceAdapter, src domain.Source, terms []string) ([]domain.CachedStory, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stories, err := adapter.Fetch(fetchCtx, src, terms)
	if err != nil {
		return nil, err
	}

	// Для типов без серверного поиска условия применяются клиентски.
	if len(terms) > 0 && !supportsServerSearch(src.Type) {
		stories = filterBySearchTerms(stories, terms)
	}

	now := time.Now().UTC()
	for i := range stories {
		if stories[i].FetchedAt.IsZero() {
			stories[i].FetchedAt = now
		}
		if stories[i].SourceType == "" {
			stories[i].SourceType = src.Type
		}
		if stories[i].SourceName == "" {
			stories[i].SourceName = src.Title
		}
		if stories[i].ID == "" {
			stories[i].ID = string(stories[i].SourceType) + ":" + storycache.StoryKey(stories[i])
		}
	}
	return stories, nil
}

func supportsServerSearch(t domain.SourceType) bool {
	return t == domain.SourceGoogleNews || t == domain.SourceTwitter
}

func filterBySearchTerms(stories []domain.CachedStory, terms []string) []domain.CachedStory {
	filtered := make([]domain.CachedStory, 0, len(stories))
	for _, story := range stories {
		haystack := strings.ToLower(story.Title + " " + story.Description)
		for _, term := range terms {
			if term == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(term)) {
				filtered = append(filtered, story)
				break
			}
		}
	}
	return filtered
}

func deadSourceMessage(src domain.Source, reason string) string {
	if src.LastError != "" {
		return fmt.Sprintf("источник отключён: %s (последняя ошибка: %s)", reason, src.LastError)
	}
	return "источник отключён: " + reason
}
