package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/gely25/cronograma/internal/pkg/httputil"
	"github.com/gely25/cronograma/internal/roster"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEntryNotFound, Status: http.StatusNotFound, Message: "queue entry not found"},
	{Error: ErrPolicyNotFound, Status: http.StatusNotFound, Message: "notification policy not found"},
	{Error: ErrEntryTerminal, Status: http.StatusConflict, Message: "queue entry is in a terminal state"},
	{Error: ErrNoShift, Status: http.StatusConflict, Message: "queue entry has no associated shift"},
	{Error: ErrRunInProgress, Status: http.StatusConflict, Message: "a delivery run is already in progress"},
	{Error: ErrEmptySelection, Status: http.StatusBadRequest, Message: "no items selected"},
	{Error: roster.ErrShiftNotFound, Status: http.StatusNotFound, Message: "shift not found"},
	{Error: roster.ErrAssigneeNotFound, Status: http.StatusNotFound, Message: "assignee not found"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/policy", h.GetPolicy)
		r.Patch("/policy", h.UpdatePolicy)

		r.Post("/sync", h.Sync)
		r.Get("/projection", h.GetProjection)
		r.Post("/projection/preview", h.PreviewProjection)
		r.Post("/render/preview", h.RenderPreview)
		r.Post("/forecast/generate", h.GenerateFromForecast)

		r.Post("/run", h.Run)
		r.Get("/run/stream", h.RunStream)

		r.Get("/queue", h.ListQueue)
		r.Get("/queue/{id}", h.GetEntry)
		r.Post("/queue/{id}/resend", h.Resend)
		r.Post("/queue/{id}/cancel", h.Cancel)
		r.Patch("/queue/{id}", h.CorrectEmail)
		r.Post("/queue/bulk", h.Bulk)

		r.Post("/manual", h.SendManual)

		r.Get("/attempts", h.ListAttempts)
		r.Get("/stats", h.GetStats)
	})
}

// UpdatePolicyRequest represents a partial policy update.
type UpdatePolicyRequest struct {
	AdvanceEnabled      *bool   `json:"advance_enabled"`
	AdvanceLeadDays     *int    `json:"advance_lead_days" validate:"omitempty,min=0,max=30"`
	DayOfEnabled        *bool   `json:"day_of_enabled"`
	DayOfLeadMinutes    *int    `json:"day_of_lead_minutes" validate:"omitempty,min=0,max=1440"`
	SubjectTemplate     *string `json:"subject_template" validate:"omitempty,min=1,max=500"`
	BodyTemplate        *string `json:"body_template" validate:"omitempty,min=1"`
	BCCEmail            *string `json:"bcc_email" validate:"omitempty,email"`
	DefaultActivity     *string `json:"default_activity" validate:"omitempty,max=200"`
	SlotDurationMinutes *int    `json:"slot_duration_minutes" validate:"omitempty,min=1,max=480"`
}

func (r UpdatePolicyRequest) patch() domain.PolicyPatch {
	return domain.PolicyPatch{
		AdvanceEnabled:      r.AdvanceEnabled,
		AdvanceLeadDays:     r.AdvanceLeadDays,
		DayOfEnabled:        r.DayOfEnabled,
		DayOfLeadMinutes:    r.DayOfLeadMinutes,
		SubjectTemplate:     r.SubjectTemplate,
		BodyTemplate:        r.BodyTemplate,
		BCCEmail:            r.BCCEmail,
		DefaultActivity:     r.DefaultActivity,
		SlotDurationMinutes: r.SlotDurationMinutes,
	}
}

// PreviewProjectionRequest represents a what-if projection query.
type PreviewProjectionRequest struct {
	WindowDays int                  `json:"window_days" validate:"omitempty,min=1,max=90"`
	OffsetDays int                  `json:"offset_days" validate:"omitempty,min=-30,max=90"`
	Overrides  *UpdatePolicyRequest `json:"overrides"`
}

// RenderPreviewRequest names the shift and reminder kind to render.
type RenderPreviewRequest struct {
	ShiftID uuid.UUID `json:"shift_id" validate:"required"`
	Kind    string    `json:"kind" validate:"omitempty,oneof=advance day_of manual"`
}

// CorrectEmailRequest represents an assignee email correction.
type CorrectEmailRequest struct {
	Email     string `json:"email" validate:"required,email"`
	AutoRetry bool   `json:"auto_retry"`
	Actor     string `json:"actor" validate:"omitempty,max=100"`
}

// BulkRequest represents a bulk queue operation.
type BulkRequest struct {
	Action string      `json:"action" validate:"required,oneof=resend cancel"`
	IDs    []uuid.UUID `json:"ids" validate:"required,min=1"`
	Actor  string      `json:"actor" validate:"omitempty,max=100"`
}

// SendManualRequest represents a manual send for selected assignees.
type SendManualRequest struct {
	AssigneeIDs []uuid.UUID `json:"assignee_ids" validate:"required,min=1"`
	Actor       string      `json:"actor" validate:"omitempty,max=100"`
}

// GenerateFromForecastRequest represents projection rows picked for
// immediate delivery.
type GenerateFromForecastRequest struct {
	Selections []struct {
		ShiftID uuid.UUID `json:"shift_id" validate:"required"`
		Kind    string    `json:"kind" validate:"required,oneof=advance day_of manual"`
	} `json:"selections" validate:"required,min=1,dive"`
	Actor string `json:"actor" validate:"omitempty,max=100"`
}

// ActorRequest carries just the acting operator's name.
type ActorRequest struct {
	Actor string `json:"actor" validate:"omitempty,max=100"`
}

// GetPolicy handles GET /notifications/policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.Rules().Get(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, policy)
}

// UpdatePolicy handles PATCH /notifications/policy.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	policy, err := h.service.Rules().Update(r.Context(), req.patch())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, policy)
}

// Sync handles POST /notifications/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	created, err := h.service.Sync(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]int{"created": created})
}

// GetProjection handles GET /notifications/projection.
func (h *Handler) GetProjection(w http.ResponseWriter, r *http.Request) {
	query := ProjectionQuery{
		WindowDays: queryInt(r, "window_days", 7),
		OffsetDays: queryInt(r, "offset_days", 0),
	}

	events, err := h.service.Project(r.Context(), query)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

// PreviewProjection handles POST /notifications/projection/preview. The
// override patch is applied in memory only; nothing is persisted.
func (h *Handler) PreviewProjection(w http.ResponseWriter, r *http.Request) {
	var req PreviewProjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	query := ProjectionQuery{
		WindowDays: req.WindowDays,
		OffsetDays: req.OffsetDays,
	}
	if req.Overrides != nil {
		patch := req.Overrides.patch()
		query.Overrides = &patch
	}

	events, err := h.service.Project(r.Context(), query)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, events)
}

// RenderPreview handles POST /notifications/render/preview. The shift's
// reminder is rendered with the current policy; nothing is queued or sent.
func (h *Handler) RenderPreview(w http.ResponseWriter, r *http.Request) {
	var req RenderPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	kind := ReminderKind(req.Kind)
	if kind == "" {
		kind = KindAdvance
	}

	preview, err := h.service.RenderPreview(r.Context(), req.ShiftID, kind)
	if err != nil {
		var tmplErr *TemplateError
		if errors.As(err, &tmplErr) {
			httputil.Error(w, http.StatusUnprocessableEntity, tmplErr.Error())
			return
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, preview)
}

// Run handles POST /notifications/run. Blocks until the run finishes.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Run(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// RunStream handles GET /notifications/run/stream as server-sent events.
// A final progress report is always emitted, even for an empty run.
func (h *Handler) RunStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	progress, err := h.service.RunStream(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for pr := range progress {
		payload, err := json.Marshal(pr)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// ListQueue handles GET /notifications/queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	filter := QueueFilter{
		Kind:  ReminderKind(r.URL.Query().Get("kind")),
		Limit: queryInt(r, "limit", 100),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, QueueStatus(strings.TrimSpace(s)))
		}
	}

	entries, err := h.service.ListQueue(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, entries)
}

// GetEntry handles GET /notifications/queue/{id}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	details, err := h.service.EntryDetails(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, details)
}

// Resend handles POST /notifications/queue/{id}/resend.
func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	var req ActorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	result, err := h.service.Resend(r.Context(), id, req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// Cancel handles POST /notifications/queue/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	var req ActorRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Cancel(r.Context(), id, req.Actor); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CorrectEmail handles PATCH /notifications/queue/{id}.
func (h *Handler) CorrectEmail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	var req CorrectEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.CorrectEmail(r.Context(), id, req.Email, req.AutoRetry, req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// Bulk handles POST /notifications/queue/bulk.
func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	var (
		result *BulkResult
		err    error
	)
	switch req.Action {
	case "resend":
		result, err = h.service.BulkResend(r.Context(), req.IDs, req.Actor)
	case "cancel":
		result, err = h.service.BulkCancel(r.Context(), req.IDs, req.Actor)
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// SendManual handles POST /notifications/manual.
func (h *Handler) SendManual(w http.ResponseWriter, r *http.Request) {
	var req SendManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, noShift, err := h.service.SendManual(r.Context(), req.AssigneeIDs, req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"run":               result,
		"no_upcoming_shift": noShift,
	})
}

// GenerateFromForecast handles POST /notifications/forecast/generate.
func (h *Handler) GenerateFromForecast(w http.ResponseWriter, r *http.Request) {
	var req GenerateFromForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	selections := make([]Selection, 0, len(req.Selections))
	for _, sel := range req.Selections {
		selections = append(selections, Selection{ShiftID: sel.ShiftID, Kind: ReminderKind(sel.Kind)})
	}

	result, err := h.service.GenerateFromForecast(r.Context(), selections, req.Actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, result)
}

// ListAttempts handles GET /notifications/attempts.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	filter := AttemptFilter{
		Outcome: AttemptOutcome(r.URL.Query().Get("outcome")),
		Search:  r.URL.Query().Get("q"),
		Limit:   queryInt(r, "limit", 100),
	}
	if from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to")); err == nil {
		filter.To = &to
	}

	attempts, err := h.service.ListAttempts(r.Context(), filter)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, attempts)
}

// GetStats handles GET /notifications/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
