package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"news-bundler/internal/adapters/repo"
	"news-bundler/internal/adapters/sources"
	"news-bundler/internal/domain"
	"news-bundler/internal/infra/config"
	"news-bundler/internal/infra/db"
	httpinfra "news-bundler/internal/infra/http"
	applog "news-bundler/internal/infra/log"
	"news-bundler/internal/infra/metrics"
	"news-bundler/internal/infra/queue"
	healthusecase "news-bundler/internal/usecase/health"
	readerusecase "news-bundler/internal/usecase/reader"
	refreshusecase "news-bundler/internal/usecase/refresh"
	"news-bundler/internal/usecase/storycache"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	caches := storycache.NewService(repoAdapter, logger.With().Str("component", "storycache").Logger())
	healthService := healthusecase.NewService(repoAdapter, healthusecase.Policy{
		DeadErrorThreshold: cfg.Health.DeadErrorThreshold,
		DeadAfter:          cfg.Health.DeadAfter,
		DeleteBatchSize:    cfg.Health.DeleteBatchSize,
	}, logger.With().Str("component", "health").Logger())

	adapters := map[domain.SourceType]domain.SourceAdapter{
		domain.SourceRSS:        sources.NewRSS(cfg.Refresh.AdapterTimeout),
		domain.SourceYouTube:    sources.NewYouTube(cfg.Refresh.AdapterTimeout),
		domain.SourceGoogleNews: sources.NewGoogleNews(cfg.Refresh.AdapterTimeout),
		domain.SourceTwitter:    sources.NewTwitter(cfg.Twitter.BearerToken, cfg.Twitter.BaseURL, cfg.Twitter.Timeout),
	}

	refreshService := refreshusecase.NewService(caches, repoAdapter, healthService, adapters,
		cfg.Refresh.StaleAfter, cfg.Refresh.AdapterTimeout, logger.With().Str("component", "refresh").Logger())
	readerService := readerusecase.NewService(caches, cfg.Reader.DefaultLimit, cfg.Reader.MaxLimit)

	var refreshQueue domain.RefreshQueue
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		refreshQueue = queue.NewRedisRefreshQueue(redisClient, cfg.Queues.Refresh)
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	api := &apiHandlers{
		caches:  caches,
		refresh: refreshService,
		reader:  readerService,
		health:  healthService,
		queue:   refreshQueue,
	}
	api.mount(srv.Router)

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type apiHandlers struct {
	caches  *storycache.Service
	refresh *refreshusecase.Service
	reader  *readerusecase.Service
	health  *healthusecase.Service
	queue   domain.RefreshQueue
}

func (h *apiHandlers) mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/bundles/{bundleID}/refresh", h.refreshBundle)
		r.Get("/bundles/{bundleID}/stories", h.readStories)
		r.Delete("/bundles/{bundleID}/cache", h.clearCache)
		r.Post("/bundles/{bundleID}/invalidate", h.invalidate)
		r.Get("/sources/health", h.sourcesHealth)
		r.Post("/sources/{sourceID}/convert", h.convertSource)
		r.Delete("/sources/dead", h.removeDead)
	})
}

func (h *apiHandlers) refreshBundle(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	defer r.Body.Close()

	var cfg domain.RefreshConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.queue == nil {
			writeError(w, http.StatusServiceUnavailable, "очередь обновлений не настроена")
			return
		}
		job := domain.RefreshJob{
			ID:          uuid.NewString(),
			BundleID:    bundleID,
			Config:      cfg,
			RequestedAt: time.Now().UTC(),
			Cause:       domain.RefreshCauseManual,
		}
		if err := h.queue.Enqueue(r.Context(), job); err != nil {
			writeError(w, http.StatusInternalServerError, "не удалось поставить задачу")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"job_id": job.ID})
		return
	}

	report, err := h.refresh.Refresh(r.Context(), bundleID, cfg, domain.RefreshCauseManual)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"sources":           report.Sources,
		"total_story_count": report.Cache.Metadata.TotalStoryCount,
		"summary":           report.Cache.Summary,
		"last_refresh_time": report.Cache.LastRefreshTime,
	})
}

func (h *apiHandlers) readStories(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	q := r.URL.Query()

	opts := readerusecase.ReadOptions{
		Limit:  parseIntParam(q.Get("limit")),
		Offset: parseIntParam(q.Get("offset")),
		SortBy: q.Get("sort"),
	}
	filter := readerusecase.StoryFilter{Source: q.Get("source")}
	if from, ok := parseTimeParam(q.Get("from")); ok {
		filter.From = &from
	}
	if to, ok := parseTimeParam(q.Get("to")); ok {
		filter.To = &to
	}

	page, err := h.reader.ReadFiltered(r.Context(), bundleID, opts, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cache, err := h.caches.GetOrCreate(r.Context(), bundleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"stories":           page.Stories,
		"has_more":          page.HasMore,
		"total":             page.Total,
		"is_stale":          h.refresh.IsStale(cache),
		"last_refresh_time": cache.LastRefreshTime,
	})
}

func (h *apiHandlers) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.caches.Clear(r.Context(), chi.URLParam(r, "bundleID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	if err := h.caches.Invalidate(r.Context(), chi.URLParam(r, "bundleID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *apiHandlers) sourcesHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.CheckHealth(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, report)
}

func (h *apiHandlers) convertSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор источника")
		return
	}
	defer r.Body.Close()
	var req struct {
		Type domain.SourceType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "не указан новый тип источника")
		return
	}
	src, err := h.health.ConvertFeedType(r.Context(), id, req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"id":         src.ID,
		"type":       src.Type,
		"channel_id": src.ChannelID,
	})
}

func (h *apiHandlers) removeDead(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "не указаны источники для удаления")
		return
	}
	deleted, err := h.health.RemoveDeadFeeds(r.Context(), req.IDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"deleted": deleted})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var storageErr *domain.StorageError
	switch {
	case errors.Is(err, domain.ErrBundleIDEmpty), errors.Is(err, domain.ErrNoSourcesSelected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &storageErr):
		writeError(w, http.StatusInternalServerError, "ошибка хранилища")
	default:
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func parseIntParam(raw string) int {
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseTimeParam(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
