package domain

import (
	"encoding/json"
	"time"
)

// SourceType обозначает тип источника новостей.
type SourceType string

const (
	SourceRSS        SourceType = "rss"
	SourceYouTube    SourceType = "youtube"
	SourceTwitter    SourceType = "twitter"
	SourceGoogleNews SourceType = "googlenews"
)

// CachedStory описывает нормализованную новость в кэше бандла.
// RawMetaJSON хранит типоспецифичные поля источника как есть и при слиянии
// заменяется целиком, без пофазного объединения.
type CachedStory struct {
	ID             string          `json:"id"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	SourceName     string          `json:"source_name"`
	SourceType     SourceType      `json:"source_type"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
	RawMetaJSON    json.RawMessage `json:"metadata,omitempty"`
	RelevanceScore *float64        `json:"relevance_score,omitempty"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// EffectivePublishedAt возвращает время публикации для сортировки.
// Отсутствующая дата трактуется как «сейчас»: недатированные новости
// считаются самыми свежими, а не самыми старыми.
func (s CachedStory) EffectivePublishedAt(now time.Time) time.Time {
	if s.PublishedAt == nil {
		return now
	}
	return *s.PublishedAt
}
