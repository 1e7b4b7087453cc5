package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"deltahedge/internal/bot"
	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/service"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Stage string `json:"stage,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &ErrorResponse{Error: message})
}

// respondServiceError переводит ошибку сервисного слоя в HTTP статус.
// EngineError несёт kind и stage, остальные ошибки мапятся по sentinel.
func respondServiceError(w http.ResponseWriter, err error) {
	var engineErr *models.EngineError
	if errors.As(err, &engineErr) {
		respondJSON(w, engineStatus(engineErr.Kind), &ErrorResponse{
			Error: engineErr.Msg,
			Code:  engineErr.Kind,
			Stage: engineErr.Stage,
		})
		return
	}

	switch {
	case errors.Is(err, repository.ErrPositionNotFound),
		errors.Is(err, repository.ErrIntentNotFound),
		errors.Is(err, repository.ErrJobNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPositionAccessDenied),
		errors.Is(err, service.ErrIntentAccessDenied),
		errors.Is(err, service.ErrJobAccessDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrIntentExists),
		errors.Is(err, bot.ErrOperationInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case isValidationError(err):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// isValidationError собирает sentinel-ошибки валидации входных данных из сервисов.
func isValidationError(err error) bool {
	validationErrs := []error{
		service.ErrPositionNotOpen,
		service.ErrFundingThresholdInvalid,
		service.ErrVolatilityInvalid,
		service.ErrEntryPriceInvalid,
		service.ErrExpiryInPast,
		service.ErrNegativeThreshold,
		service.ErrInvalidSizePct,
		service.ErrInvalidLeverage,
		service.ErrInvalidCooldown,
		service.ErrUnknownVenue,
		service.ErrEmptySecretKey,
		service.ErrEmptyWallet,
		service.ErrEmptyAPIKey,
		service.ErrUnknownScope,
		service.ErrEmptyReason,
		service.ErrInvalidAmount,
	}
	for _, target := range validationErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func engineStatus(kind string) int {
	switch kind {
	case models.ErrKindValidation:
		return http.StatusBadRequest
	case models.ErrKindPositionNotFound:
		return http.StatusNotFound
	case models.ErrKindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case models.ErrKindRiskRejected:
		return http.StatusConflict
	case models.ErrKindRateLimit:
		return http.StatusTooManyRequests
	case models.ErrKindVenueAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
