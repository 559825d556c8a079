package domain

import "time"

// DedupByURL — единственный поддерживаемый метод дедупликации.
const DedupByURL = "url"

// CacheMetadata хранит конфигурацию последнего наполнения кэша.
// Она нужна автообновлению, чтобы не запрашивать конфигурацию заново.
type CacheMetadata struct {
	TotalStoryCount int      `json:"total_story_count"`
	SearchTerms     []string `json:"search_terms,omitempty"`
	SelectedFeedIDs []int64  `json:"selected_feed_ids,omitempty"`
}

// CacheSettings описывает настройки кэша бандла.
type CacheSettings struct {
	DeduplicationMethod string `json:"deduplication_method"`
}

// SourceCount — пара «источник, количество новостей».
type SourceCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CacheSummary — производная статистика, пересчитывается при каждой записи.
type CacheSummary struct {
	SourceDistribution map[string]int `json:"source_distribution"`
	TopSources         []SourceCount  `json:"top_sources"`
}

// BundleStoryCache — кэш новостей одного бандла.
type BundleStoryCache struct {
	BundleID           string
	Stories            []CachedStory
	Metadata           CacheMetadata
	Settings           CacheSettings
	Summary            CacheSummary
	LastRefreshTime    time.Time
	CacheInvalidatedAt *time.Time
}

// RefreshConfig описывает параметры обновления кэша бандла.
type RefreshConfig struct {
	SearchTerms     []string `json:"search_terms,omitempty"`
	SelectedFeedIDs []int64  `json:"selected_feed_ids"`
	Deduplication   string   `json:"deduplication,omitempty"`
}
