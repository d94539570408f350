package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/alert"
	"github.com/NordCoder/Sentinel/internal/domain/endpoint"
	"github.com/NordCoder/Sentinel/internal/domain/metric"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/NordCoder/Sentinel/internal/obs"
	"github.com/NordCoder/Sentinel/internal/services/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scheduler is the part of the scheduler core exposed to operators.
type Scheduler interface {
	ReconcileAll(ctx context.Context) (scheduler.Report, error)
	CheckNow(ctx context.Context, endpointID uuid.UUID) (task.Handle, error)
	Activate(ctx context.Context, endpointID uuid.UUID) (task.Handle, error)
	Deactivate(ctx context.Context, endpointID uuid.UUID) error
	Ping(ctx context.Context) error
}

type Handler struct {
	log     *zap.Logger
	sched   Scheduler
	metrics metric.Repo
	alerts  alert.Repo
}

func NewHandler(log *zap.Logger, sched Scheduler, metrics metric.Repo, alerts alert.Repo) *Handler {
	return &Handler{log: obs.Component(log, "admin"), sched: sched, metrics: metrics, alerts: alerts}
}

type scheduledResponse struct {
	EndpointID uuid.UUID   `json:"endpoint_id"`
	Handle     task.Handle `json:"handle"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.sched.ReconcileAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) checkNow(w http.ResponseWriter, r *http.Request) {
	h.scheduleOp(w, r, h.sched.CheckNow)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.scheduleOp(w, r, h.sched.Activate)
}

func (h *Handler) scheduleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (task.Handle, error)) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	hd, err := op(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scheduledResponse{EndpointID: id, Handle: hd})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	if err := h.sched.Deactivate(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var f metric.Filter
	var err error
	if f.Limit, err = queryLimit(q.Get("limit"), metric.MaxLimit); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if v := q.Get("up"); v != "" {
		up, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "up: "+err.Error())
			return
		}
		f.Up = &up
	}
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "since: "+err.Error())
			return
		}
	}
	rows, err := h.metrics.ListByEndpoint(r.Context(), id, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []*metric.Metric{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := endpointID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r.URL.Query().Get("limit"), alert.MaxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	rows, err := h.alerts.ListByEndpoint(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []*alert.Alert{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := h.sched.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy: substrate")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var serr *scheduler.SchedulingError
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, endpoint.ErrInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &serr):
		obs.WithTrace(r.Context(), h.log).Error("admin schedule failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		obs.WithTrace(r.Context(), h.log).Error("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func endpointID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit parses an optional page size in [1, upper]. Absent means the
// repository default.
func queryLimit(v string, upper int) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > upper {
		return 0, fmt.Errorf("must be between 1 and %d", upper)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
