package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// PositionHandler отвечает за управление дельта-нейтральными позициями
//
// Endpoints:
// - POST /api/v1/positions             - открытие позиции (асинхронно, возвращает job id)
// - GET /api/v1/positions              - список открытых позиций пользователя
// - GET /api/v1/positions/history      - история позиций пользователя
// - GET /api/v1/positions/stats        - агрегированная статистика
// - GET /api/v1/positions/{id}         - получение конкретной позиции
// - POST /api/v1/positions/{id}/close  - закрытие позиции (асинхронно, возвращает job id)
// - GET /api/v1/jobs/{id}              - статус асинхронной операции
type PositionHandler struct {
	positions service.PositionServiceInterface
}

// NewPositionHandler создает новый PositionHandler с внедрением зависимостей
func NewPositionHandler(positions service.PositionServiceInterface) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// JobAcceptedResponse ответ на асинхронную операцию: клиент опрашивает /jobs/{id}
type JobAcceptedResponse struct {
	JobID string `json:"job_id"`
}

// Open запускает открытие позиции
// POST /api/v1/positions
//
// Request Body:
//
//	{
//	  "asset": "SOL",
//	  "size_usd": "1000",
//	  "leverage": "3"
//	}
//
// Response:
// - 202 Accepted: операция запущена, в теле job_id
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: у пользователя уже выполняется операция
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	var req service.OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// user_id из тела игнорируется, принадлежность определяет заголовок
	req.UserID = userID

	jobID, err := h.positions.Open(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, &JobAcceptedResponse{JobID: jobID})
}

// Close запускает закрытие позиции
// POST /api/v1/positions/{id}/close
//
// Response:
// - 202 Accepted: операция запущена, в теле job_id
// - 403 Forbidden: позиция принадлежит другому пользователю
// - 404 Not Found: позиция не найдена
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	positionID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	jobID, err := h.positions.Close(r.Context(), userID, positionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, &JobAcceptedResponse{JobID: jobID})
}

// List возвращает открытые позиции пользователя
// GET /api/v1/positions
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	positions, err := h.positions.ListOpen(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, positions)
}

// History возвращает историю позиций пользователя
// GET /api/v1/positions/history?limit=50
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	positions, err := h.positions.History(r.Context(), userID, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, positions)
}

// Stats возвращает агрегированную статистику пользователя
// GET /api/v1/positions/stats
func (h *PositionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	stats, err := h.positions.Stats(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// Get возвращает конкретную позицию
// GET /api/v1/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	positionID, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	position, err := h.positions.Get(r.Context(), userID, positionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, position)
}

// JobStatus возвращает статус асинхронной операции
// GET /api/v1/jobs/{id}
func (h *PositionHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	jobID := mux.Vars(r)["id"]
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.positions.JobStatus(r.Context(), userID, jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// pathID извлекает числовой {id} из пути запроса
func pathID(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["id"])
}

// queryLimit читает ?limit= из запроса, 0 означает лимит по умолчанию
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
