package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gely25/cronograma/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(repo *mockRepository, rosterMock *mockRoster, transport *mockTransport) http.Handler {
	h := NewHandler(newTestService(repo, rosterMock, transport))
	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_GetPolicy(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodGet, "/notifications/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			AdvanceEnabled  bool `json:"advance_enabled"`
			AdvanceLeadDays int  `json:"advance_lead_days"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.AdvanceEnabled)
	assert.Equal(t, 1, resp.Data.AdvanceLeadDays)
}

func TestHandler_UpdatePolicy(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo, newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodPatch, "/notifications/policy",
		map[string]any{"advance_lead_days": 3})
	require.Equal(t, http.StatusOK, rec.Code)

	policy, err := repo.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, policy.AdvanceLeadDays)
}

func TestHandler_UpdatePolicy_ValidationError(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodPatch, "/notifications/policy",
		map[string]any{"advance_lead_days": 99})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation error")
}

func TestHandler_Cancel(t *testing.T) {
	repo := newMockRepository()
	handler := newTestHandler(repo, newMockRoster(), &mockTransport{})
	ctx := context.Background()

	entry := pendingEntry(uuid.New(), KindAdvance, testNow)
	require.NoError(t, repo.CreateEntry(ctx, entry))

	rec := doRequest(t, handler, http.MethodPost, "/notifications/queue/"+entry.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Second cancel hits a terminal entry
	rec = doRequest(t, handler, http.MethodPost, "/notifications/queue/"+entry.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown id
	rec = doRequest(t, handler, http.MethodPost, "/notifications/queue/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed id
	rec = doRequest(t, handler, http.MethodPost, "/notifications/queue/not-a-uuid/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Bulk_RejectsUnknownAction(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodPost, "/notifications/queue/bulk",
		map[string]any{"action": "explode", "ids": []string{uuid.NewString()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Run(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	transport := &mockTransport{}

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)
	entry := pendingEntry(shift.ID, KindAdvance, testNow.Add(-time.Hour))
	require.NoError(t, repo.CreateEntry(context.Background(), entry))

	handler := newTestHandler(repo, rosterMock, transport)
	rec := doRequest(t, handler, http.MethodPost, "/notifications/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Sent)
}

func TestHandler_RunStream(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodGet, "/notifications/run/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `data: `)
	assert.Contains(t, rec.Body.String(), `"final":true`)
}

func TestHandler_GetProjection(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()
	rosterMock.addShift(shiftOn(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), "maria@example.com"))

	handler := newTestHandler(repo, rosterMock, &mockTransport{})
	rec := doRequest(t, handler, http.MethodGet, "/notifications/projection?window_days=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []ProjectedEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, KindAdvance, resp.Data[0].Kind)
}

func TestHandler_RenderPreview(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)

	handler := newTestHandler(repo, rosterMock, &mockTransport{})
	rec := doRequest(t, handler, http.MethodPost, "/notifications/render/preview",
		map[string]any{"shift_id": shift.ID.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data RenderedPreview `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data.Subject, "preventive hardware maintenance")
	assert.Contains(t, resp.Data.Body, "10 February 2026")
	assert.Equal(t, "maria@example.com", resp.Data.Recipient)
}

func TestHandler_RenderPreview_TemplateError(t *testing.T) {
	repo := newMockRepository()
	rosterMock := newMockRoster()

	policy := domain.DefaultPolicy()
	policy.SubjectTemplate = "Hello {nonexistent}"
	require.NoError(t, repo.SavePolicy(context.Background(), policy))

	shift := testShift("maria@example.com")
	rosterMock.addShift(shift)

	handler := newTestHandler(repo, rosterMock, &mockTransport{})
	rec := doRequest(t, handler, http.MethodPost, "/notifications/render/preview",
		map[string]any{"shift_id": shift.ID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "nonexistent")
}

func TestHandler_RenderPreview_UnknownShift(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodPost, "/notifications/render/preview",
		map[string]any{"shift_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_SendManual_EmptySelection(t *testing.T) {
	handler := newTestHandler(newMockRepository(), newMockRoster(), &mockTransport{})

	rec := doRequest(t, handler, http.MethodPost, "/notifications/manual",
		map[string]any{"assignee_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
