package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"medtrack/internal/medication"
	"medtrack/internal/notifier"
	"medtrack/internal/reminder"
	"medtrack/internal/storage"
	logx "medtrack/pkg/logx"
)

const maxScheduleCount = 100

type medicationResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Dosage               string     `json:"dosage"`
	Frequency            string     `json:"frequency"`
	StartAt              *time.Time `json:"start_datetime"`
	Email                string     `json:"email"`
	Quantity             *int       `json:"quantity"`
	QuantityLeft         int        `json:"quantity_left"`
	Notes                string     `json:"notes"`
	TakenToday           bool       `json:"taken_today"`
	LastTaken            *time.Time `json:"last_taken"`
	LastNotificationSent *time.Time `json:"last_notification_sent"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toMedicationResponse(m medication.Medication) medicationResponse {
	return medicationResponse{
		ID:                   m.ID,
		Name:                 m.Name,
		Dosage:               m.Dosage,
		Frequency:            m.Frequency,
		StartAt:              m.StartAt,
		Email:                m.Email,
		Quantity:             m.Quantity,
		QuantityLeft:         m.QuantityLeft,
		Notes:                m.Notes,
		TakenToday:           m.TakenToday,
		LastTaken:            m.LastTakenAt,
		LastNotificationSent: m.LastNotificationSentAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

type createMedicationRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	StartAt      string `json:"start_datetime"`
	Email        string `json:"email"`
	Quantity     *int   `json:"quantity"`
	QuantityLeft *int   `json:"quantity_left"`
	Notes        string `json:"notes"`
}

// updateMedicationRequest replaces every editable field. An absent
// quantity_left keeps the stored supply.
type updateMedicationRequest struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	StartAt      string `json:"start_datetime"`
	Email        string `json:"email"`
	Quantity     *int   `json:"quantity"`
	QuantityLeft *int   `json:"quantity_left"`
	Notes        string `json:"notes"`
}

type quantityRequest struct {
	QuantityLeft *int `json:"quantity_left"`
}

type takenRequest struct {
	Taken *bool `json:"taken"`
}

type scheduleResponse struct {
	NextDoses     []time.Time `json:"next_doses"`
	IntervalMS    int64       `json:"interval_ms"`
	IntervalHours float64     `json:"interval_hours"`
}

type notificationStatusResponse struct {
	reminder.Status
	SchedulerActive bool `json:"scheduler_active"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"time":   h.now(),
	}
	if h.sched != nil {
		body["scheduler"] = h.sched.Snapshot()
	}
	if h.rt != nil {
		body["runtime"] = h.rt()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) healthDB(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrDisabled.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "database": "disconnected", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": "connected"})
}

func (h *handlers) listMedications(w http.ResponseWriter, r *http.Request) {
	meds, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]medicationResponse, 0, len(meds))
	for _, m := range meds {
		out = append(out, toMedicationResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createMedication(w http.ResponseWriter, r *http.Request) {
	var req createMedicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m := medication.Medication{
		ID:           strings.TrimSpace(req.ID),
		Name:         strings.TrimSpace(req.Name),
		Dosage:       req.Dosage,
		Frequency:    strings.TrimSpace(req.Frequency),
		Email:        strings.TrimSpace(req.Email),
		Quantity:     req.Quantity,
		QuantityLeft: medication.InitialQuantityLeft(req.QuantityLeft, req.Quantity),
		Notes:        req.Notes,
	}
	start, err := h.parseStart(req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.StartAt = start
	created, err := h.store.Create(r.Context(), m)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMedicationResponse(created))
}

func (h *handlers) parseStart(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	start, err := medication.ParseStart(raw, h.loc)
	if err != nil {
		return nil, err
	}
	return &start, nil
}

func (h *handlers) updateMedication(w http.ResponseWriter, r *http.Request) {
	var req updateMedicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	start, err := h.parseStart(req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), storage.Edit{
		Name:         strings.TrimSpace(req.Name),
		Dosage:       req.Dosage,
		Frequency:    strings.TrimSpace(req.Frequency),
		StartAt:      start,
		Email:        strings.TrimSpace(req.Email),
		Quantity:     req.Quantity,
		QuantityLeft: req.QuantityLeft,
		Notes:        req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationResponse(m))
}

// setQuantity is the refill endpoint.
func (h *handlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil || req.QuantityLeft == nil || *req.QuantityLeft < 0 {
		writeError(w, http.StatusBadRequest, `body must be {"quantity_left": n} with n >= 0`)
		return
	}
	m, err := h.store.SetQuantityLeft(r.Context(), chi.URLParam(r, "id"), *req.QuantityLeft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationResponse(m))
}

func (h *handlers) load(w http.ResponseWriter, r *http.Request) (medication.Medication, bool) {
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return medication.Medication{}, false
	}
	return m, true
}

func (h *handlers) getMedication(w http.ResponseWriter, r *http.Request) {
	if m, ok := h.load(w, r); ok {
		writeJSON(w, http.StatusOK, toMedicationResponse(m))
	}
}

func (h *handlers) deleteMedication(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) schedule(w http.ResponseWriter, r *http.Request) {
	count := medication.DefaultPreviewCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxScheduleCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 100")
			return
		}
		count = n
	}
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	interval := m.Interval()
	writeJSON(w, http.StatusOK, scheduleResponse{
		NextDoses:     reminder.PreviewNextDoses(m, h.now(), count),
		IntervalMS:    interval.Milliseconds(),
		IntervalHours: interval.Hours(),
	})
}

func (h *handlers) notificationStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, notificationStatusResponse{
		Status:          reminder.NotificationStatus(m, h.now()),
		SchedulerActive: h.sched != nil && h.sched.Active(),
	})
}

func (h *handlers) markTaken(w http.ResponseWriter, r *http.Request) {
	var req takenRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Taken == nil {
		writeError(w, http.StatusBadRequest, `body must be {"taken": true|false}`)
		return
	}
	m, err := h.store.MarkTaken(r.Context(), chi.URLParam(r, "id"), *req.Taken, h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationResponse(m))
}

// testNotification sends a reminder right away. Inventory and the
// scheduler timestamp stay untouched.
func (h *handlers) testNotification(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, notifier.ErrDisabled.Error())
		return
	}
	if m.Email == "" {
		writeError(w, http.StatusBadRequest, "medication has no delivery target")
		return
	}
	now := h.now()
	if err := h.sender.Send(r.Context(), m.Email, notifier.Reminder{Medication: m, DueAt: now, SentAt: now, Test: true}); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Test notification sent", "target": m.Email})
}

func (h *handlers) doseLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.store.RecentDoseLog(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []storage.DoseLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) schedulerSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		writeJSON(w, http.StatusOK, reminder.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, h.sched.Snapshot())
}

func (h *handlers) schedulerTick(w http.ResponseWriter, r *http.Request) {
	if h.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	rep, err := h.sched.RunOnce(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// fail maps domain errors onto status codes.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, notifier.ErrUnsupportedTarget):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, reminder.ErrTickInProgress):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrDisabled), errors.Is(err, notifier.ErrDisabled), errors.Is(err, reminder.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		h.log.Warn("request failed", logx.String("path", r.URL.Path), logx.Err(err))
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
