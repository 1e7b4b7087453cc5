package handlers

import (
	"encoding/json"
	"net/http"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// StrategyHandler отвечает за конфигурацию автономной стратегии пользователя
//
// Endpoints:
// - GET /api/v1/strategy    - текущая конфигурация (дефолтная, если не настроена)
// - PATCH /api/v1/strategy  - частичное обновление конфигурации
type StrategyHandler struct {
	strategy service.StrategyServiceInterface
}

// NewStrategyHandler создает новый StrategyHandler с внедрением зависимостей
func NewStrategyHandler(strategy service.StrategyServiceInterface) *StrategyHandler {
	return &StrategyHandler{strategy: strategy}
}

// Get возвращает конфигурацию стратегии пользователя
// GET /api/v1/strategy
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	cfg, err := h.strategy.Get(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cfg)
}

// Update частично обновляет конфигурацию стратегии
// PATCH /api/v1/strategy
//
// Request Body (все поля опциональны):
//
//	{
//	  "enabled": true,
//	  "min_carry_apy": "8",
//	  "size_pct_of_balance": "15",
//	  "max_leverage": "3",
//	  "cooldown_minutes": 120
//	}
//
// Значения сверх жестких потолков молча приводятся к потолку.
//
// Response:
// - 200 OK: обновленная конфигурация после clamp
// - 400 Bad Request: невалидные значения
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	var req service.UpdateStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := h.strategy.Update(r.Context(), userID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cfg)
}
