package domain

import "time"

// RefreshCause описывает источник запроса на обновление кэша.
type RefreshCause string

const (
	// RefreshCauseManual — обновление запрошено через API.
	RefreshCauseManual RefreshCause = "manual"
	// RefreshCauseAuto — обновление запущено по таймеру устаревания.
	RefreshCauseAuto RefreshCause = "auto"
	// RefreshCauseInvalidation — обновление вызвано внешней инвалидацией.
	RefreshCauseInvalidation RefreshCause = "invalidation"
)

// RefreshJob содержит информацию о задаче обновления кэша бандла.
type RefreshJob struct {
	ID          string        `json:"job_id,omitempty"`
	BundleID    string        `json:"bundle_id"`
	Config      RefreshConfig `json:"config"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       RefreshCause  `json:"cause"`
}
