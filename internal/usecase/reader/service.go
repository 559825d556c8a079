package reader

import (
	"context"
	"sort"
	"time"

	"news-bundler/internal/domain"
	"news-bundler/internal/usecase/storycache"
)

// ReadOptions задаёт параметры страницы.
type ReadOptions struct {
	Limit  int
	Offset int
	SortBy string
}

// Page — страница новостей бандла.
type Page struct {
	Stories []domain.CachedStory `json:"stories"`
	HasMore bool                 `json:"has_more"`
	Total   int                  `json:"total"`
}

// StoryFilter — клиентские фильтры поверх кэша.
type StoryFilter struct {
	Source string
	From   *time.Time
	To     *time.Time
}

// Service отдаёт ограниченные, упорядоченные и фильтруемые срезы кэша,
// не изменяя его. Чтение берёт снимок списка на момент вызова и не блокируется
// идущим обновлением.
type Service struct {
	caches       *storycache.Service
	defaultLimit int
	maxLimit     int
}

// NewService создаёт читатель кэша.
func NewService(caches *storycache.Service, defaultLimit, maxLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &Service{caches: caches, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Read возвращает страницу новостей бандла. Сортировка по дате — по убыванию
// publishedAt; новости без даты считаются самыми свежими.
func (s *Service) Read(ctx context.Context, bundleID string, opts ReadOptions) (Page, error) {
	cache, err := s.caches.GetOrCreate(ctx, bundleID)
	if err != nil {
		return Page{}, err
	}
	return Paginate(cache.Stories, opts, s.clampLimit(opts.Limit)), nil
}

// ReadFiltered возвращает страницу с применёнными клиентскими фильтрами.
func (s *Service) ReadFiltered(ctx context.Context, bundleID string, opts ReadOptions, filter StoryFilter) (Page, error) {
	cache, err := s.caches.GetOrCreate(ctx, bundleID)
	if err != nil {
		return Page{}, err
	}
	return Paginate(Filter(cache.Stories, filter), opts, s.clampLimit(opts.Limit)), nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// Paginate сортирует снимок и вырезает страницу. HasMore истинно, когда за
// пределами offset+len остаются ещё записи.
func Paginate(stories []domain.CachedStory, opts ReadOptions, limit int) Page {
	snapshot := append([]domain.CachedStory(nil), stories...)
	now := time.Now().UTC()

	if opts.SortBy == "" || opts.SortBy == "date" {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return snapshot[i].EffectivePublishedAt(now).After(snapshot[j].EffectivePublishedAt(now))
		})
	}

	total := len(snapshot)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := snapshot[offset:end]
	return Page{Stories: page, HasMore: offset+len(page) < total, Total: total}
}

// Filter применяет клиентские предикаты: точное совпадение имени источника
// и попадание publishedAt в границы включительно. Новость без даты попадает
// в любой диапазон, включающий «сейчас».
func Filter(stories []domain.CachedStory, f StoryFilter) []domain.CachedStory {
	if f.Source == "" && f.From == nil && f.To == nil {
		return stories
	}
	now := time.Now().UTC()
	out := make([]domain.CachedStory, 0, len(stories))
	for _, story := range stories {
		if f.Source != "" && story.SourceName != f.Source {
			continue
		}
		published := story.EffectivePublishedAt(now)
		if f.From != nil && published.Before(*f.From) {
			continue
		}
		if f.To != nil && published.After(*f.To) {
			continue
		}
		out = append(out, story)
	}
	return out
}
