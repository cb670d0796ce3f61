// Package api exposes schedule management and device commands over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/dispatcher"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/schedule"
)

// Schedules is implemented by schedule.Service.
type Schedules interface {
	Create(ctx context.Context, req schedule.CreateRequest) (domain.ScheduleRecord, error)
	Get(ctx context.Context, id string) (domain.ScheduleRecord, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.ScheduleRecord, error)
	Update(ctx context.Context, id string, req schedule.UpdateRequest) (domain.ScheduleRecord, error)
	Delete(ctx context.Context, id string) (schedule.DeleteResult, error)
	RunFor(ctx context.Context, req schedule.RunForRequest) (schedule.RunForResult, error)
}

// Commands is implemented by dispatcher.Dispatcher.
type Commands interface {
	Dispatch(ctx context.Context, deviceID string, cmd domain.Command) (dispatcher.Ack, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	schedules Schedules
	commands  Commands
	db        HealthChecker
	logger    *zap.Logger
}

func NewHandler(schedules Schedules, commands Commands, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{schedules: schedules, commands: commands, logger: logger.Named("api")}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case strings.HasPrefix(path, "/schedules/"):
		id, ok := pathID(path, "schedules")
		if !ok {
			writeError(w, http.StatusNotFound, "not found", "")
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getSchedule(w, r, id)
		case http.MethodPut:
			h.updateSchedule(w, r, id)
		case http.MethodDelete:
			h.deleteSchedule(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		}

	case path == "/commands" && r.Method == http.MethodPost:
		h.sendCommand(w, r)

	case path == "/commands/oneshot" && r.Method == http.MethodPost:
		h.runFor(w, r)

	case path == "/triggers/fire" && r.Method == http.MethodPost:
		h.fire(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found", "")
	}
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{Status: "ok", Components: make(map[string]string)}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	status := http.StatusOK
	if resp.Status == "degraded" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req schedule.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, "create schedule", err)
		return
	}

	rec, err := h.schedules.Create(r.Context(), req)
	if err != nil {
		h.fail(w, "create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleResponse(rec))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.fail(w, "list schedules", err)
		return
	}

	recs, err := h.schedules.ListByDevice(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		h.fail(w, "list schedules", err)
		return
	}

	recs = page(recs, limit, offset)
	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, len(recs))}
	for i, rec := range recs {
		resp.Schedules[i] = toScheduleResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(rec))
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request, id string) {
	var req schedule.UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, "update schedule", err)
		return
	}

	rec, err := h.schedules.Update(r.Context(), id, req)
	if err != nil && rec.ID == "" {
		h.fail(w, "update schedule", err)
		return
	}

	resp := toScheduleResponse(rec)
	status := http.StatusOK
	if err != nil {
		// updated, but an old trigger could not be removed
		h.logger.Warn("update schedule partially failed", zap.String("schedule_id", id), zap.Error(err))
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request, id string) {
	res, err := h.schedules.Delete(r.Context(), id)
	if err != nil && res.ScheduleID == "" {
		h.fail(w, "delete schedule", err)
		return
	}

	resp := DeleteScheduleResponse{DeleteResult: res}
	status := http.StatusOK
	if err != nil {
		h.logger.Warn("delete schedule partially failed", zap.String("schedule_id", id), zap.Error(err))
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, "send command", err)
		return
	}
	cmd, err := validateCommand(req)
	if err != nil {
		h.fail(w, "send command", err)
		return
	}
	h.dispatch(w, r, req.DeviceID, cmd)
}

// fire handles the payload a fired trigger delivers to its target action.
func (h *Handler) fire(w http.ResponseWriter, r *http.Request) {
	var req FireRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, "fire trigger", err)
		return
	}
	action, err := validateFire(req)
	if err != nil {
		h.fail(w, "fire trigger", err)
		return
	}
	h.dispatch(w, r, req.DeviceID, action.Command())
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, deviceID string, cmd domain.Command) {
	ack, err := h.commands.Dispatch(r.Context(), deviceID, cmd)
	if err != nil && ack.DeviceID == "" {
		h.fail(w, "dispatch", err)
		return
	}

	resp := toCommandResponse(ack)
	status := http.StatusOK
	if err != nil {
		// published, but the observation was not recorded
		h.logger.Warn("dispatch partially failed", zap.String("device_id", deviceID), zap.Error(err))
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) runFor(w http.ResponseWriter, r *http.Request) {
	var req schedule.RunForRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, "one-shot", err)
		return
	}

	res, err := h.schedules.RunFor(r.Context(), req)
	if err != nil && res.Ack.DeviceID == "" {
		h.fail(w, "one-shot", err)
		return
	}

	resp := OneShotResponse{
		CommandResponse: toCommandResponse(res.Ack),
		OffTrigger:      res.OffTriggerName,
		OffExpression:   res.OffExpression,
		OffAt:           formatTime(res.OffAt),
	}
	status := http.StatusOK
	if err != nil {
		h.logger.Warn("one-shot partially failed", zap.String("device_id", req.DeviceID), zap.Error(err))
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	} else {
		h.logger.Debug(op+" rejected", zap.Error(err))
	}
	writeError(w, status, err.Error(), errorKind(err))
}

// pathID extracts {id} from /<resource>/{id}.
func pathID(path, resource string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != resource || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}
