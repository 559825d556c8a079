package health

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"news-bundler/internal/domain"
)

// Policy задаёт пороги признания источника мёртвым. Пороги настраиваются
// через конфигурацию, а не зашиты в код.
type Policy struct {
	DeadErrorThreshold int
	DeadAfter          time.Duration
	DeleteBatchSize    int
}

// DefaultPolicy возвращает пороги по умолчанию: 5 ошибок подряд или 30 дней
// без успешного запроса.
func DefaultPolicy() Policy {
	return Policy{
		DeadErrorThreshold: 5,
		DeadAfter:          30 * 24 * time.Hour,
		DeleteBatchSize:    100,
	}
}

// Service ведёт учёт надёжности источников.
type Service struct {
	sources domain.SourceRepo
	policy  Policy
	log     zerolog.Logger
}

// NewService создаёт трекер здоровья источников.
func NewService(sources domain.SourceRepo, policy Policy, logger zerolog.Logger) *Service {
	if policy.DeadErrorThreshold <= 0 {
		policy.DeadErrorThreshold = DefaultPolicy().DeadErrorThreshold
	}
	if policy.DeadAfter <= 0 {
		policy.DeadAfter = DefaultPolicy().DeadAfter
	}
	if policy.DeleteBatchSize <= 0 || policy.DeleteBatchSize > 100 {
		policy.DeleteBatchSize = DefaultPolicy().DeleteBatchSize
	}
	return &Service{sources: sources, policy: policy, log: logger}
}

// Evaluate классифицирует один источник. Причина смерти по счётчику ошибок
// имеет приоритет над причинами по давности.
func (s *Service) Evaluate(src domain.Source, now time.Time) domain.SourceHealth {
	result := domain.SourceHealth{Source: src}

	switch {
	case src.ErrorCount >= s.policy.DeadErrorThreshold:
		result.IsDead = true
		result.Reason = fmt.Sprintf("%d ошибок подряд (порог %d)", src.ErrorCount, s.policy.DeadErrorThreshold)
	case src.LastSuccessfulFetch != nil && now.Sub(*src.LastSuccessfulFetch) > s.policy.DeadAfter:
		result.IsDead = true
		result.Reason = fmt.Sprintf("нет успешных запросов с %s", src.LastSuccessfulFetch.Format("2006-01-02"))
	case src.LastSuccessfulFetch == nil && !src.CreatedAt.IsZero() && now.Sub(src.CreatedAt) > s.policy.DeadAfter:
		result.IsDead = true
		result.Reason = fmt.Sprintf("ни одного успешного запроса с момента добавления %s", src.CreatedAt.Format("2006-01-02"))
	}

	if suggestion := DetectFeedType(src.URL); suggestion.SuggestedType != "" && suggestion.SuggestedType != src.Type {
		result.Suggestion = &suggestion
	}
	return result
}

// CheckHealth сканирует все источники и разбивает их на здоровые,
// проблемные и мёртвые.
func (s *Service) CheckHealth(ctx context.Context) (domain.HealthReport, error) {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("список источников: %w", err)
	}

	now := time.Now().UTC()
	var report domain.HealthReport
	for _, src := range sources {
		state := s.Evaluate(src, now)
		switch {
		case state.IsDead:
			report.Dead = append(report.Dead, state)
		case src.ErrorCount > 0:
			report.Problematic = append(report.Problematic, state)
		default:
			report.Healthy = append(report.Healthy, state)
		}
	}
	return report, nil
}

// MarkFeedSuccess фиксирует успешный запрос к источнику. Ошибка учёта
// логируется и глотается: учёт здоровья не должен превращать успешный
// запрос контента в ошибку для пользователя.
func (s *Service) MarkFeedSuccess(ctx context.Context, id int64) {
	if err := s.sources.MarkFetchSuccess(ctx, id, time.Now().UTC()); err != nil {
		s.log.Warn().Err(err).Int64("source", id).Msg("health: не удалось записать успех")
	}
}

// MarkFeedError фиксирует сбой запроса к источнику. Так же best-effort.
func (s *Service) MarkFeedError(ctx context.Context, id int64, message string) {
	if err := s.sources.MarkFetchError(ctx, id, message, time.Now().UTC()); err != nil {
		s.log.Warn().Err(err).Int64("source", id).Msg("health: не удалось записать ошибку")
	}
}

// RemoveDeadFeeds удаляет источники пачками не больше DeleteBatchSize за
// одну транзакцию хранилища и возвращает число фактически удалённых.
func (s *Service) RemoveDeadFeeds(ctx context.Context, ids []int64) (int64, error) {
	var deleted int64
	for len(ids) > 0 {
		batch := ids
		if len(batch) > s.policy.DeleteBatchSize {
			batch = batch[:s.policy.DeleteBatchSize]
		}
		ids = ids[len(batch):]

		n, err := s.sources.DeleteBatch(ctx, batch)
		if err != nil {
			return deleted, fmt.Errorf("удаление источников: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

// ConvertFeedType переписывает тип источника и производные поля. Для
// youtube извлекается идентификатор канала из URL. Счётчик ошибок
// сбрасывается: источник начинает с чистого листа.
func (s *Service) ConvertFeedType(ctx context.Context, id int64, newType domain.SourceType) (domain.Source, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return domain.Source{}, fmt.Errorf("получение источника: %w", err)
	}

	var channelID string
	if newType == domain.SourceYouTube {
		channelID = ExtractYouTubeChannelID(src.URL)
	}

	updated, err := s.sources.UpdateType(ctx, id, newType, channelID)
	if err != nil {
		return domain.Source{}, fmt.Errorf("смена типа источника: %w", err)
	}
	s.log.Info().Int64("source", id).Str("type", string(newType)).Msg("health: тип источника изменён")
	return updated, nil
}
