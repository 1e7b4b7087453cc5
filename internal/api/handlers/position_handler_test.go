package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/models"
)

// newUserRequest создает запрос с user id в context, минуя UserAuth
func newUserRequest(t *testing.T, method, target string, body interface{}, userID int) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return middleware.WithUserID(req, userID)
}

// withPathID навешивает mux route variables на запрос
func withPathID(r *http.Request, id string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"id": id})
}

// ============ PositionHandler Tests ============

func TestPositionHandler_Open(t *testing.T) {
	t.Run("successfully starts open job", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		body := map[string]interface{}{
			"asset":    "SOL",
			"size_usd": "1000",
			"leverage": "3",
		}
		req := newUserRequest(t, http.MethodPost, "/api/v1/positions", body, 7)
		w := httptest.NewRecorder()

		handler.Open(w, req)

		if w.Code != http.StatusAccepted {
			t.Errorf("expected status %d, got %d", http.StatusAccepted, w.Code)
		}

		var response JobAcceptedResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.JobID != "job-open-1" {
			t.Errorf("expected job id job-open-1, got %q", response.JobID)
		}

		// user_id в теле игнорируется: принадлежность из заголовка
		if mockSvc.lastOpen == nil || mockSvc.lastOpen.UserID != 7 {
			t.Error("request should carry user id from auth context")
		}
	})

	t.Run("returns 400 on invalid JSON", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/positions", bytes.NewReader([]byte("{broken")))
		req = middleware.WithUserID(req, 7)
		w := httptest.NewRecorder()

		handler.Open(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("returns 401 without user context", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/positions", bytes.NewReader([]byte("{}")))
		w := httptest.NewRecorder()

		handler.Open(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}
	})

	t.Run("maps engine validation error to 400 with code", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.SetError("open", &models.EngineError{
			Kind:  models.ErrKindValidation,
			Stage: models.StagePreflight,
			Msg:   "leverage must be greater than 1",
		})

		body := map[string]interface{}{"asset": "SOL", "size_usd": "1000", "leverage": "0.5"}
		req := newUserRequest(t, http.MethodPost, "/api/v1/positions", body, 7)
		w := httptest.NewRecorder()

		handler.Open(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var response ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Code != models.ErrKindValidation {
			t.Errorf("expected code %s, got %s", models.ErrKindValidation, response.Code)
		}
		if response.Stage != models.StagePreflight {
			t.Errorf("expected stage %s, got %s", models.StagePreflight, response.Stage)
		}
	})

	t.Run("maps insufficient funds to 422", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.SetError("open", &models.EngineError{
			Kind:  models.ErrKindInsufficientFunds,
			Stage: models.StagePreflight,
			Msg:   "free collateral too low",
		})

		body := map[string]interface{}{"asset": "SOL", "size_usd": "1000000", "leverage": "3"}
		req := newUserRequest(t, http.MethodPost, "/api/v1/positions", body, 7)
		w := httptest.NewRecorder()

		handler.Open(w, req)

		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}
	})
}

func TestPositionHandler_Close(t *testing.T) {
	t.Run("successfully starts close job", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := newUserRequest(t, http.MethodPost, "/api/v1/positions/42/close", nil, 7)
		req = withPathID(req, "42")
		w := httptest.NewRecorder()

		handler.Close(w, req)

		if w.Code != http.StatusAccepted {
			t.Errorf("expected status %d, got %d", http.StatusAccepted, w.Code)
		}
		if mockSvc.lastClose != 42 {
			t.Errorf("expected close of position 42, got %d", mockSvc.lastClose)
		}
	})

	t.Run("returns 400 on non-numeric id", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := newUserRequest(t, http.MethodPost, "/api/v1/positions/abc/close", nil, 7)
		req = withPathID(req, "abc")
		w := httptest.NewRecorder()

		handler.Close(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestPositionHandler_Get(t *testing.T) {
	t.Run("returns own position", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.positions[42] = &models.Position{
			ID:       42,
			UserID:   7,
			Asset:    "SOL",
			Leverage: decimal.NewFromInt(3),
			Status:   models.PositionStatusOpen,
			OpenedAt: time.Now(),
		}

		req := newUserRequest(t, http.MethodGet, "/api/v1/positions/42", nil, 7)
		req = withPathID(req, "42")
		w := httptest.NewRecorder()

		handler.Get(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response models.Position
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.ID != 42 || response.Asset != "SOL" {
			t.Errorf("unexpected position in response: %+v", response)
		}
	})

	t.Run("returns 403 for foreign position", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.positions[42] = &models.Position{ID: 42, UserID: 99, Status: models.PositionStatusOpen}

		req := newUserRequest(t, http.MethodGet, "/api/v1/positions/42", nil, 7)
		req = withPathID(req, "42")
		w := httptest.NewRecorder()

		handler.Get(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
		}
	})

	t.Run("returns 404 for missing position", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := newUserRequest(t, http.MethodGet, "/api/v1/positions/42", nil, 7)
		req = withPathID(req, "42")
		w := httptest.NewRecorder()

		handler.Get(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestPositionHandler_List(t *testing.T) {
	t.Run("returns only open positions of the user", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.positions[1] = &models.Position{ID: 1, UserID: 7, Status: models.PositionStatusOpen}
		mockSvc.positions[2] = &models.Position{ID: 2, UserID: 7, Status: models.PositionStatusClosed}
		mockSvc.positions[3] = &models.Position{ID: 3, UserID: 99, Status: models.PositionStatusOpen}

		req := newUserRequest(t, http.MethodGet, "/api/v1/positions", nil, 7)
		w := httptest.NewRecorder()

		handler.List(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response []*models.Position
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response) != 1 || response[0].ID != 1 {
			t.Errorf("expected one open position with id 1, got %+v", response)
		}
	})

	t.Run("returns 500 on service error", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.SetError("list", ErrMockDatabase)

		req := newUserRequest(t, http.MethodGet, "/api/v1/positions", nil, 7)
		w := httptest.NewRecorder()

		handler.List(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestPositionHandler_JobStatus(t *testing.T) {
	t.Run("returns own job", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.jobs["job-open-1"] = &models.Job{
			ID:     "job-open-1",
			UserID: 7,
			Kind:   models.JobKindOpen,
			Status: models.JobStatusRunning,
		}

		req := newUserRequest(t, http.MethodGet, "/api/v1/jobs/job-open-1", nil, 7)
		req = withPathID(req, "job-open-1")
		w := httptest.NewRecorder()

		handler.JobStatus(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response models.Job
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Status != models.JobStatusRunning {
			t.Errorf("expected running job, got %q", response.Status)
		}
	})

	t.Run("returns 403 for foreign job", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		mockSvc.jobs["job-open-1"] = &models.Job{ID: "job-open-1", UserID: 99}

		req := newUserRequest(t, http.MethodGet, "/api/v1/jobs/job-open-1", nil, 7)
		req = withPathID(req, "job-open-1")
		w := httptest.NewRecorder()

		handler.JobStatus(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
		}
	})

	t.Run("returns 404 for unknown job", func(t *testing.T) {
		mockSvc := NewMockPositionService()
		handler := NewPositionHandler(mockSvc)

		req := newUserRequest(t, http.MethodGet, "/api/v1/jobs/missing", nil, 7)
		req = withPathID(req, "missing")
		w := httptest.NewRecorder()

		handler.JobStatus(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}
