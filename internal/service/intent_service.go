package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/pkg/utils"
)

// Ошибки сервиса интентов
var (
	ErrIntentAccessDenied      = errors.New("intent belongs to another user")
	ErrFundingThresholdInvalid = errors.New("min_funding_rate must be negative")
	ErrVolatilityInvalid       = errors.New("max_funding_volatility must be positive")
	ErrEntryPriceInvalid       = errors.New("max_entry_price must be positive")
	ErrExpiryInPast            = errors.New("expires_at must be in the future")
)

// CreateIntentRequest - запрос на создание интента.
// Критерии-указатели опциональны: nil означает "не проверять".
type CreateIntentRequest struct {
	UserID               int              `json:"user_id"`
	Asset                string           `json:"asset"`
	Leverage             decimal.Decimal  `json:"leverage"`
	SizeUSD              decimal.Decimal  `json:"size_usd"`
	MinFundingRate       *decimal.Decimal `json:"min_funding_rate,omitempty"`
	MaxFundingVolatility *decimal.Decimal `json:"max_funding_volatility,omitempty"`
	MaxEntryPrice        *decimal.Decimal `json:"max_entry_price,omitempty"`
	ExpiresAt            *time.Time       `json:"expires_at,omitempty"`
}

// IntentService предоставляет бизнес-логику для управления интентами
// ("открой позицию когда условия выполнятся").
type IntentService struct {
	intents IntentRepositoryInterface
}

// NewIntentService создает новый экземпляр IntentService
func NewIntentService(intents IntentRepositoryInterface) *IntentService {
	return &IntentService{intents: intents}
}

// Create валидирует и создаёт интент в статусе pending.
// Дубликат pending/active интента на (user, asset) отклоняется
// репозиторием (repository.ErrIntentExists).
func (s *IntentService) Create(ctx context.Context, req *CreateIntentRequest) (*models.Intent, error) {
	if err := utils.ValidateAsset(req.Asset); err != nil {
		return nil, err
	}
	if err := utils.ValidateLeverage(req.Leverage, models.HardMaxLeverage); err != nil {
		return nil, err
	}
	if err := utils.ValidateSizeUSD(req.SizeUSD); err != nil {
		return nil, err
	}
	if req.MinFundingRate != nil && !req.MinFundingRate.IsNegative() {
		return nil, ErrFundingThresholdInvalid
	}
	if req.MaxFundingVolatility != nil && !req.MaxFundingVolatility.IsPositive() {
		return nil, ErrVolatilityInvalid
	}
	if req.MaxEntryPrice != nil && !req.MaxEntryPrice.IsPositive() {
		return nil, ErrEntryPriceInvalid
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, ErrExpiryInPast
	}

	intent := &models.Intent{
		UserID:               req.UserID,
		Asset:                req.Asset,
		Leverage:             req.Leverage,
		SizeUSD:              req.SizeUSD,
		MinFundingRate:       req.MinFundingRate,
		MaxFundingVolatility: req.MaxFundingVolatility,
		MaxEntryPrice:        req.MaxEntryPrice,
		ExpiresAt:            req.ExpiresAt,
		Status:               models.IntentStatusPending,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Get возвращает интент с проверкой принадлежности
func (s *IntentService) Get(ctx context.Context, userID, intentID int) (*models.Intent, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.UserID != userID {
		return nil, ErrIntentAccessDenied
	}
	return intent, nil
}

// List возвращает интенты пользователя (новые первыми)
func (s *IntentService) List(ctx context.Context, userID, limit int) ([]*models.Intent, error) {
	return s.intents.ListByUser(ctx, userID, clampLimit(limit))
}

// Cancel отменяет pending/active интент пользователя.
// Терминальный или чужой интент даёт repository.ErrIntentNotFound.
func (s *IntentService) Cancel(ctx context.Context, userID, intentID int) error {
	return s.intents.Cancel(ctx, intentID, userID)
}
