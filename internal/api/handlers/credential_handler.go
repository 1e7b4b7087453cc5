package handlers

import (
	"encoding/json"
	"net/http"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// CredentialHandler отвечает за ключи пользователя к торговым венью.
// Секреты принимаются только на запись: обратно API их не отдает.
//
// Endpoints:
// - PUT /api/v1/credentials  - сохранение ключей для венью
// - GET /api/v1/credentials  - статус подключения по каждому венью
type CredentialHandler struct {
	credentials service.CredentialServiceInterface
}

// NewCredentialHandler создает новый CredentialHandler с внедрением зависимостей
func NewCredentialHandler(credentials service.CredentialServiceInterface) *CredentialHandler {
	return &CredentialHandler{credentials: credentials}
}

// Store сохраняет ключи венью (шифруются перед записью в БД)
// PUT /api/v1/credentials
//
// Request Body:
//
//	{
//	  "venue": "lending",
//	  "secret_key": "...",
//	  "wallet": "..."
//	}
//
// Для venue "perp" требуются api_key и secret_key.
//
// Response:
// - 200 OK: ключи сохранены
// - 400 Bad Request: неизвестное венью или пустые обязательные поля
func (h *CredentialHandler) Store(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	var req service.StoreCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = userID

	if err := h.credentials.Store(r.Context(), &req); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "credentials stored"})
}

// Status возвращает статус подключения по каждому венью без секретов
// GET /api/v1/credentials
func (h *CredentialHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	statuses, err := h.credentials.Status(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, statuses)
}
