package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// RiskHandler отвечает за защитный контур пользователя: хай-вотермарк
// баланса, учет депозитов/выводов и выход из авто-паузы
//
// Endpoints:
// - GET /api/v1/risk              - текущее состояние контура
// - POST /api/v1/risk/deposit     - учет депозита (сдвигает baseline)
// - POST /api/v1/risk/withdrawal  - учет вывода средств
// - POST /api/v1/risk/resume      - явный выход из авто-паузы
type RiskHandler struct {
	risk service.RiskServiceInterface
}

// NewRiskHandler создает новый RiskHandler с внедрением зависимостей
func NewRiskHandler(risk service.RiskServiceInterface) *RiskHandler {
	return &RiskHandler{risk: risk}
}

// AmountRequest тело запроса для операций с суммой
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Status возвращает состояние защитного контура пользователя
// GET /api/v1/risk
func (h *RiskHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	status, err := h.risk.Status(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// RecordDeposit учитывает депозит: baseline просадки сдвигается,
// чтобы пополнение не маскировало убытки
// POST /api/v1/risk/deposit
func (h *RiskHandler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	h.recordFlow(w, r, h.risk.RecordDeposit)
}

// RecordWithdrawal учитывает вывод средств
// POST /api/v1/risk/withdrawal
func (h *RiskHandler) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.recordFlow(w, r, h.risk.RecordWithdrawal)
}

// Resume явно выводит пользователя из авто-паузы после просадки
// POST /api/v1/risk/resume
func (h *RiskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	if err := h.risk.Resume(r.Context(), userID); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "user resumed"})
}

func (h *RiskHandler) recordFlow(w http.ResponseWriter, r *http.Request, record func(ctx context.Context, userID int, amount decimal.Decimal) error) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := record(r.Context(), userID, req.Amount); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &SuccessResponse{Message: "recorded"})
}
