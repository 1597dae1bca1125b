package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"lms-course-sync/internal/coursesync"
)

var validate = validator.New()

const maxBodyBytes = 1 << 20

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type courseIDsRequest struct {
	CourseIDs []int64 `json:"course_ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type scheduleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.log.Error().Err(err).Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.log.Debug().Err(err).Msg("write response")
	}
}

func (h *Handler) ok(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

// fail writes a display-safe error. Only *coursesync.Error messages reach
// the client.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "An unexpected error occurred."
	var serr *coursesync.Error
	if errors.As(err, &serr) {
		msg = serr.Message
		if errors.Is(err, coursesync.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
	}
	h.writeJSON(w, status, response{Success: false, Message: msg})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: msg})
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ops.Ping(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("health check failed")
		h.writeJSON(w, http.StatusServiceUnavailable, response{Success: false, Message: "storage unavailable"})
		return
	}
	h.ok(w, map[string]string{"status": "ok"})
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	res, err := h.ops.TestConnection(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

// GetCourses accepts ?refresh=1 to bypass the cached catalog.
func (h *Handler) GetCourses(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	res, err := h.ops.GetCourses(r.Context(), refresh)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) SyncCourses(w http.ResponseWriter, r *http.Request) {
	var req courseIDsRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, "Request must list positive course_ids.")
		return
	}
	sum, err := h.ops.SyncCourses(r.Context(), req.CourseIDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, sum)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	h.ok(w, h.ops.GetSyncStatus(r.Context()))
}

func (h *Handler) OmitCourses(w http.ResponseWriter, r *http.Request) {
	var req courseIDsRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, "Request must list positive course_ids.")
		return
	}
	res, err := h.ops.OmitCourses(r.Context(), req.CourseIDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) RestoreOmitted(w http.ResponseWriter, r *http.Request) {
	res, err := h.ops.RestoreOmitted(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) CleanupOrphaned(w http.ResponseWriter, r *http.Request) {
	res, err := h.ops.CleanupOrphaned(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) RunScheduledSync(w http.ResponseWriter, r *http.Request) {
	if !h.ops.RunScheduledSync(r.Context()) {
		h.writeJSON(w, http.StatusOK, response{Success: false, Message: "Scheduled sync failed. Check the sync log for details."})
		return
	}
	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "Scheduled sync completed."})
}

func (h *Handler) SetAutoSync(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, `Request must set "enabled" to true or false.`)
		return
	}
	res, err := h.ops.SetAutoSync(r.Context(), *req.Enabled)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res)
}

func (h *Handler) RecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.badRequest(w, "limit must be between 1 and 500.")
			return
		}
		limit = n
	}
	lines, err := h.ops.RecentLogs(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, lines)
}
