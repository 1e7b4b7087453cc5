package handlers

import (
	"encoding/json"
	"net/http"

	"deltahedge/internal/service"
)

// PauseHandler отвечает за административное управление глобальной
// паузой и circuit breaker'ами. Все endpoints защищены admin-токеном.
//
// Endpoints:
// - GET /api/v1/admin/pause                   - текущее состояние паузы
// - POST /api/v1/admin/pause                  - включение паузы (scope: ALL/ENTRY/EXIT/VENUE_*)
// - POST /api/v1/admin/resume                 - снятие паузы
// - GET /api/v1/admin/breakers                - активные circuit breaker'ы
// - GET /api/v1/admin/breakers/history        - история срабатываний
// - POST /api/v1/admin/breakers/trigger       - ручное срабатывание breaker'а
// - POST /api/v1/admin/breakers/{id}/resolve  - разрешение breaker'а
type PauseHandler struct {
	pause service.PauseServiceInterface
}

// NewPauseHandler создает новый PauseHandler с внедрением зависимостей
func NewPauseHandler(pause service.PauseServiceInterface) *PauseHandler {
	return &PauseHandler{pause: pause}
}

// PauseRequest тело запроса на включение паузы
type PauseRequest struct {
	Scope  string `json:"scope"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// TriggerBreakerRequest тело запроса ручного срабатывания breaker'а
type TriggerBreakerRequest struct {
	BreakerType string `json:"breaker_type"`
	Reason      string `json:"reason"`
}

// ResolveBreakerRequest тело запроса разрешения breaker'а
type ResolveBreakerRequest struct {
	Actor string `json:"actor"`
}

// State возвращает текущее состояние глобальной паузы
// GET /api/v1/admin/pause
func (h *PauseHandler) State(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pause.State())
}

// Pause включает глобальную паузу
// POST /api/v1/admin/pause
//
// Request Body:
//
//	{
//	  "scope": "ENTRY",
//	  "reason": "upstream venue maintenance",
//	  "actor": "ops"
//	}
//
// Пустой scope трактуется как ALL.
func (h *PauseHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	state, err := h.pause.Pause(req.Scope, req.Reason, req.Actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Resume снимает глобальную паузу
// POST /api/v1/admin/resume
func (h *PauseHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req ResolveBreakerRequest
	// тело опционально, при пустом actor останется неизвестным
	_ = json.NewDecoder(r.Body).Decode(&req)

	respondJSON(w, http.StatusOK, h.pause.Resume(req.Actor))
}

// ActiveBreakers возвращает неразрешенные circuit breaker'ы
// GET /api/v1/admin/breakers
func (h *PauseHandler) ActiveBreakers(w http.ResponseWriter, r *http.Request) {
	breakers, err := h.pause.ActiveBreakers(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, breakers)
}

// BreakerHistory возвращает историю срабатываний
// GET /api/v1/admin/breakers/history?limit=50
func (h *PauseHandler) BreakerHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.pause.BreakerHistory(r.Context(), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}

// TriggerBreaker вручную активирует circuit breaker
// POST /api/v1/admin/breakers/trigger
func (h *PauseHandler) TriggerBreaker(w http.ResponseWriter, r *http.Request) {
	var req TriggerBreakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := h.pause.TriggerBreaker(r.Context(), req.BreakerType, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, ev)
}

// ResolveBreaker разрешает сработавший breaker
// POST /api/v1/admin/breakers/{id}/resolve
func (h *PauseHandler) ResolveBreaker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid breaker id")
		return
	}

	var req ResolveBreakerRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.pause.ResolveBreaker(r.Context(), id, req.Actor); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "breaker resolved"})
}
