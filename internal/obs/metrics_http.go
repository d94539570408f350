package obs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 500 * time.Millisecond

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(context.Context) error

// BootstrapMetricsServer serves /metrics and /healthz on addr in the
// background. The caller owns shutdown.
func BootstrapMetricsServer(addr string, checks map[string]HealthCheck, l *zap.Logger) *http.Server {
	l = Component(l, "metrics")
	ms := &http.Server{
		Addr:              addr,
		Handler:           MetricsMux(checks),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server", zap.Error(err))
		}
	}()
	return ms
}

// MetricsMux exposes Prometheus metrics and a health endpoint. /healthz runs
// every check and answers 503 with the failing names when any of them fails.
func MetricsMux(checks map[string]HealthCheck) *http.ServeMux {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := make(map[string]string, len(names))
		code := http.StatusOK
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				status[n] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[n] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}
