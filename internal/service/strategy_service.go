package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// Ошибки сервиса конфигурации стратегии
var (
	ErrNegativeThreshold = errors.New("strategy thresholds must be non-negative")
	ErrInvalidSizePct    = errors.New("size_pct_of_balance must be between 0 and 100")
	ErrInvalidLeverage   = errors.New("max_leverage must be greater than 1")
	ErrInvalidCooldown   = errors.New("cooldown_minutes must be positive")
)

// UpdateStrategyRequest - частичное обновление конфигурации.
// nil-поля не меняются.
type UpdateStrategyRequest struct {
	Enabled                *bool            `json:"enabled,omitempty"`
	MinCarryAPY            *decimal.Decimal `json:"min_carry_apy,omitempty"`
	MinFundingRate         *decimal.Decimal `json:"min_funding_rate,omitempty"`
	MaxFundingVolatility   *decimal.Decimal `json:"max_funding_volatility,omitempty"`
	SizePctOfBalance       *decimal.Decimal `json:"size_pct_of_balance,omitempty"`
	MaxConcurrentPositions *int             `json:"max_concurrent_positions,omitempty"`
	MaxLeverage            *decimal.Decimal `json:"max_leverage,omitempty"`
	ExitCarryAPY           *decimal.Decimal `json:"exit_carry_apy,omitempty"`
	CooldownMinutes        *int             `json:"cooldown_minutes,omitempty"`
}

// StrategyService предоставляет бизнес-логику для конфигурации
// автономной стратегии пользователя.
type StrategyService struct {
	strategies StrategyRepositoryInterface
}

// NewStrategyService создает новый экземпляр StrategyService
func NewStrategyService(strategies StrategyRepositoryInterface) *StrategyService {
	return &StrategyService{strategies: strategies}
}

// Get возвращает конфигурацию пользователя.
// Если строки ещё нет - выключенные значения по умолчанию.
func (s *StrategyService) Get(ctx context.Context, userID int) (*models.StrategyConfig, error) {
	cfg, err := s.strategies.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrStrategyNotFound) {
			return models.DefaultStrategyConfig(userID), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Update применяет частичное обновление, валидирует и обрезает значения
// до процессных лимитов, затем сохраняет.
func (s *StrategyService) Update(ctx context.Context, userID int, req *UpdateStrategyRequest) (*models.StrategyConfig, error) {
	cfg, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.MinCarryAPY != nil {
		cfg.MinCarryAPY = *req.MinCarryAPY
	}
	if req.MinFundingRate != nil {
		cfg.MinFundingRate = *req.MinFundingRate
	}
	if req.MaxFundingVolatility != nil {
		cfg.MaxFundingVolatility = *req.MaxFundingVolatility
	}
	if req.SizePctOfBalance != nil {
		cfg.SizePctOfBalance = *req.SizePctOfBalance
	}
	if req.MaxConcurrentPositions != nil {
		cfg.MaxConcurrentPositions = *req.MaxConcurrentPositions
	}
	if req.MaxLeverage != nil {
		cfg.MaxLeverage = *req.MaxLeverage
	}
	if req.ExitCarryAPY != nil {
		cfg.ExitCarryAPY = *req.ExitCarryAPY
	}
	if req.CooldownMinutes != nil {
		cfg.CooldownMinutes = *req.CooldownMinutes
	}

	if err := validateStrategy(cfg); err != nil {
		return nil, err
	}
	cfg.Clamp()
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.strategies.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateStrategy(cfg *models.StrategyConfig) error {
	// MinFundingRate хранится как величина по модулю, знак задаёт сканер
	if cfg.MinCarryAPY.IsNegative() || cfg.MinFundingRate.IsNegative() ||
		cfg.MaxFundingVolatility.IsNegative() || cfg.ExitCarryAPY.IsNegative() {
		return ErrNegativeThreshold
	}
	if cfg.SizePctOfBalance.LessThanOrEqual(decimal.Zero) ||
		cfg.SizePctOfBalance.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidSizePct
	}
	if cfg.MaxLeverage.LessThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidLeverage
	}
	if cfg.CooldownMinutes <= 0 {
		return ErrInvalidCooldown
	}
	if cfg.MaxConcurrentPositions < 1 {
		cfg.MaxConcurrentPositions = 1
	}
	return nil
}
