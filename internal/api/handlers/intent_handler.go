package handlers

import (
	"encoding/json"
	"net/http"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// IntentHandler отвечает за управление интентами - отложенными
// заявками "открыть позицию, когда условия выполнятся"
//
// Endpoints:
// - POST /api/v1/intents         - создание интента
// - GET /api/v1/intents          - список интентов пользователя
// - GET /api/v1/intents/{id}     - получение конкретного интента
// - DELETE /api/v1/intents/{id}  - отмена интента
type IntentHandler struct {
	intents service.IntentServiceInterface
}

// NewIntentHandler создает новый IntentHandler с внедрением зависимостей
func NewIntentHandler(intents service.IntentServiceInterface) *IntentHandler {
	return &IntentHandler{intents: intents}
}

// Create создает новый интент
// POST /api/v1/intents
//
// Request Body:
//
//	{
//	  "asset": "SOL",
//	  "leverage": "3",
//	  "size_usd": "1000",
//	  "min_funding_rate": "-0.001",
//	  "max_funding_volatility": "0.0005",
//	  "max_entry_price": "150",
//	  "expires_at": "2026-09-01T00:00:00Z"
//	}
//
// Критерии опциональны: пропущенный критерий не ограничивает исполнение.
//
// Response:
// - 201 Created: интент создан
// - 400 Bad Request: невалидные параметры или критерии
// - 409 Conflict: активный интент на этот актив уже существует
func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	var req service.CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = userID

	intent, err := h.intents.Create(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, intent)
}

// List возвращает интенты пользователя
// GET /api/v1/intents?limit=50
func (h *IntentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	intents, err := h.intents.List(r.Context(), userID, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, intents)
}

// Get возвращает конкретный интент
// GET /api/v1/intents/{id}
func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	intentID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid intent id")
		return
	}

	intent, err := h.intents.Get(r.Context(), userID, intentID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, intent)
}

// Cancel отменяет интент
// DELETE /api/v1/intents/{id}
//
// Response:
// - 200 OK: интент отменен
// - 404 Not Found: интент не найден, чужой или уже в терминальном статусе
func (h *IntentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	intentID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid intent id")
		return
	}

	if err := h.intents.Cancel(r.Context(), userID, intentID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "intent cancelled"})
}
