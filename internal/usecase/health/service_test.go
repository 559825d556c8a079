package health

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-bundler/internal/domain"
)

type stubSourceRepo struct {
	sources   map[int64]domain.Source
	batches   [][]int64
	successes []int64
	failures  []int64
	markErr   error
	updated   []domain.Source
}

func newStubSourceRepo(sources ...domain.Source) *stubSourceRepo {
	repo := &stubSourceRepo{sources: map[int64]domain.Source{}}
	for _, src := range sources {
		repo.sources[src.ID] = src
	}
	return repo
}

func (r *stubSourceRepo) GetByID(_ context.Context, id int64) (domain.Source, error) {
	src, ok := r.sources[id]
	if !ok {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	return src, nil
}

func (r *stubSourceRepo) ListByIDs(_ context.Context, ids []int64) ([]domain.Source, error) {
	out := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		if src, ok := r.sources[id]; ok {
			out = append(out, src)
		}
	}
	return out, nil
}

func (r *stubSourceRepo) List(_ context.Context) ([]domain.Source, error) {
	out := make([]domain.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	return out, nil
}

func (r *stubSourceRepo) MarkFetchSuccess(_ context.Context, id int64, _ time.Time) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.successes = append(r.successes, id)
	return nil
}

func (r *stubSourceRepo) MarkFetchError(_ context.Context, id int64, _ string, _ time.Time) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.failures = append(r.failures, id)
	return nil
}

func (r *stubSourceRepo) DeleteBatch(_ context.Context, ids []int64) (int64, error) {
	r.batches = append(r.batches, ids)
	return int64(len(ids)), nil
}

func (r *stubSourceRepo) UpdateType(_ context.Context, id int64, newType domain.SourceType, channelID string) (domain.Source, error) {
	src, ok := r.sources[id]
	if !ok {
		return domain.Source{}, domain.ErrSourceNotFound
	}
	src.Type = newType
	src.ChannelID = channelID
	src.ErrorCount = 0
	r.sources[id] = src
	r.updated = append(r.updated, src)
	return src, nil
}

func TestEvaluateErrorCountHasPriority(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{}, zerolog.Nop())
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)

	state := svc.Evaluate(domain.Source{ID: 1, ErrorCount: 5, LastSuccessfulFetch: &recent}, now)
	if !state.IsDead {
		t.Fatalf("5 ошибок подряд должны означать смерть источника")
	}
	if !strings.Contains(state.Reason, "ошибок подряд") {
		t.Fatalf("причина должна объясняться счётчиком ошибок, получили %q", state.Reason)
	}
}

func TestEvaluateStaleLastSuccess(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{}, zerolog.Nop())
	now := time.Now().UTC()
	longAgo := now.Add(-40 * 24 * time.Hour)

	state := svc.Evaluate(domain.Source{ID: 1, ErrorCount: 1, LastSuccessfulFetch: &longAgo}, now)
	if !state.IsDead {
		t.Fatalf("40 дней без успеха должны означать смерть источника")
	}
}

func TestEvaluateNeverFetched(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{}, zerolog.Nop())
	now := time.Now().UTC()

	old := domain.Source{ID: 1, CreatedAt: now.Add(-40 * 24 * time.Hour)}
	if !svc.Evaluate(old, now).IsDead {
		t.Fatalf("давно добавленный источник без единого успеха мёртв")
	}

	young := domain.Source{ID: 2, CreatedAt: now.Add(-time.Hour)}
	if svc.Evaluate(young, now).IsDead {
		t.Fatalf("свежедобавленный источник ещё не мёртв")
	}
}

func TestEvaluateAttachesTypeSuggestion(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{}, zerolog.Nop())
	src := domain.Source{ID: 1, Type: domain.SourceRSS, URL: "https://www.youtube.com/feeds/videos.xml?channel_id=UC123"}

	state := svc.Evaluate(src, time.Now().UTC())
	if state.Suggestion == nil || state.Suggestion.SuggestedType != domain.SourceYouTube {
		t.Fatalf("ожидали подсказку смены типа на youtube, получили %+v", state.Suggestion)
	}
}

func TestCheckHealthPartitions(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)
	repo := newStubSourceRepo(
		domain.Source{ID: 1, LastSuccessfulFetch: &recent},
		domain.Source{ID: 2, ErrorCount: 2, LastSuccessfulFetch: &recent},
		domain.Source{ID: 3, ErrorCount: 7},
	)
	svc := NewService(repo, Policy{}, zerolog.Nop())

	report, err := svc.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(report.Healthy) != 1 || len(report.Problematic) != 1 || len(report.Dead) != 1 {
		t.Fatalf("неверное разбиение: healthy=%d problematic=%d dead=%d",
			len(report.Healthy), len(report.Problematic), len(report.Dead))
	}
}

func TestMarkersSwallowStorageErrors(t *testing.T) {
	repo := newStubSourceRepo()
	repo.markErr = errors.New("connection lost")
	svc := NewService(repo, Policy{}, zerolog.Nop())

	svc.MarkFeedSuccess(context.Background(), 1)
	svc.MarkFeedError(context.Background(), 1, "timeout")
}

func TestRemoveDeadFeedsBatches(t *testing.T) {
	repo := newStubSourceRepo()
	svc := NewService(repo, Policy{}, zerolog.Nop())

	ids := make([]int64, 250)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	deleted, err := svc.RemoveDeadFeeds(context.Background(), ids)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if deleted != 250 {
		t.Fatalf("ожидали 250 удалённых, получили %d", deleted)
	}
	if len(repo.batches) != 3 {
		t.Fatalf("ожидали 3 пачки, получили %d", len(repo.batches))
	}
	if len(repo.batches[0]) != 100 || len(repo.batches[1]) != 100 || len(repo.batches[2]) != 50 {
		t.Fatalf("неверные размеры пачек: %d/%d/%d", len(repo.batches[0]), len(repo.batches[1]), len(repo.batches[2]))
	}
}

func TestConvertFeedTypeExtractsChannelID(t *testing.T) {
	repo := newStubSourceRepo(domain.Source{
		ID:         7,
		Type:       domain.SourceRSS,
		URL:        "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc",
		ErrorCount: 3,
	})
	svc := NewService(repo, Policy{}, zerolog.Nop())

	src, err := svc.ConvertFeedType(context.Background(), 7, domain.SourceYouTube)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if src.Type != domain.SourceYouTube || src.ChannelID != "UCabc" {
		t.Fatalf("ожидали youtube/UCabc, получили %s/%s", src.Type, src.ChannelID)
	}
	if src.ErrorCount != 0 {
		t.Fatalf("смена типа должна сбрасывать счётчик ошибок")
	}
}

func TestConvertFeedTypeUnknownSource(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{}, zerolog.Nop())
	if _, err := svc.ConvertFeedType(context.Background(), 404, domain.SourceRSS); !errors.Is(err, domain.ErrSourceNotFound) {
		t.Fatalf("ожидали ErrSourceNotFound, получили %v", err)
	}
}

func TestNewServiceClampsBatchSize(t *testing.T) {
	svc := NewService(newStubSourceRepo(), Policy{DeleteBatchSize: 500}, zerolog.Nop())
	if svc.policy.DeleteBatchSize != 100 {
		t.Fatalf("размер пачки выше 100 должен урезаться, получили %d", svc.policy.DeleteBatchSize)
	}
}
