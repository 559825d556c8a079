package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RefreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bundle_refresh_seconds",
		Help:    "Время обновления кэша бандла",
		Buckets: prometheus.DefBuckets,
	})
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bundle_refresh_total",
		Help: "Количество обновлений кэша по причинам",
	}, []string{"cause", "status"})
	StoriesMergedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bundle_stories_merged_total",
		Help: "Количество новостей, переданных в слияние",
	})
	AdapterErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "source_adapter_errors_total",
		Help: "Ошибки адаптеров источников",
	}, []string{"source_type"})
	DeadSourcesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dead_sources_skipped_total",
		Help: "Количество пропусков мёртвых источников при обновлении",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RefreshDuration,
		RefreshTotal,
		StoriesMergedTotal,
		AdapterErrorsTotal,
		DeadSourcesSkippedTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRefresh записывает итог обновления кэша бандла.
func ObserveRefresh(cause string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RefreshDuration.Observe(time.Since(start).Seconds())
	RefreshTotal.WithLabelValues(cause, status).Inc()
}
