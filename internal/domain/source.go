package domain

import "time"

// Source описывает сконфигурированный источник новостей.
// Для источников без URL (например, аккаунт Twitter) поле URL хранит
// идентификатор провайдера.
type Source struct {
	ID                  int64
	Title               string
	URL                 string
	Type                SourceType
	ChannelID           string
	ErrorCount          int
	LastError           string
	LastFetched         *time.Time
	LastSuccessfulFetch *time.Time
	CreatedAt           time.Time
}

// TypeSuggestion — результат определения типа источника по форме URL.
type TypeSuggestion struct {
	SuggestedType    SourceType `json:"suggested_type"`
	DetectedPlatform string     `json:"detected_platform"`
}

// SourceHealth описывает состояние одного источника.
type SourceHealth struct {
	Source     Source          `json:"source"`
	IsDead     bool            `json:"is_dead"`
	Reason     string          `json:"reason,omitempty"`
	Suggestion *TypeSuggestion `json:"suggestion,omitempty"`
}

// HealthReport — разбиение источников по состоянию.
type HealthReport struct {
	Healthy     []SourceHealth `json:"healthy"`
	Problematic []SourceHealth `json:"problematic"`
	Dead        []SourceHealth `json:"dead"`
}
