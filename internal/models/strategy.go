package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig - параметры автономной торговли для одного пользователя.
//
// CooldownAtClose - значение cooldown, зафиксированное в момент последнего
// закрытия позиции. Анти-обход: пользователь не может сократить уже идущий
// cooldown, отредактировав конфигурацию после закрытия.
type StrategyConfig struct {
	UserID                 int             `json:"user_id" db:"user_id"`
	Enabled                bool            `json:"enabled" db:"enabled"`
	MinCarryAPY            decimal.Decimal `json:"min_carry_apy" db:"min_carry_apy"`       // % годовых
	MinFundingRate         decimal.Decimal `json:"min_funding_rate" db:"min_funding_rate"` // минимальная величина (по модулю) отрицательного funding
	MaxFundingVolatility   decimal.Decimal `json:"max_funding_volatility" db:"max_funding_volatility"`
	SizePctOfBalance       decimal.Decimal `json:"size_pct_of_balance" db:"size_pct_of_balance"`
	MaxConcurrentPositions int             `json:"max_concurrent_positions" db:"max_concurrent_positions"`
	MaxLeverage            decimal.Decimal `json:"max_leverage" db:"max_leverage"`
	ExitCarryAPY           decimal.Decimal `json:"exit_carry_apy" db:"exit_carry_apy"` // порог выхода
	CooldownMinutes        int             `json:"cooldown_minutes" db:"cooldown_minutes"`
	CooldownAtClose        int             `json:"cooldown_at_close" db:"cooldown_at_close"` // снапшот на момент закрытия
	LastCloseAt            *time.Time      `json:"last_close_at,omitempty" db:"last_close_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// Жёсткие процессные лимиты. Пользовательские значения всегда
// обрезаются до этих пределов независимо от конфигурации.
var (
	HardMaxLeverage    = decimal.NewFromInt(5)
	HardMaxSizePct     = decimal.NewFromInt(50) // % от баланса
	HardMaxConcurrent  = 10
	HardMinCooldownMin = 5
)

// DefaultStrategyConfig возвращает выключенную конфигурацию с консервативными
// параметрами. Используется когда у пользователя ещё нет строки в БД.
func DefaultStrategyConfig(userID int) *StrategyConfig {
	return &StrategyConfig{
		UserID:                 userID,
		Enabled:                false,
		MinCarryAPY:            decimal.NewFromInt(5),
		MinFundingRate:         decimal.NewFromFloat(0.0005),
		MaxFundingVolatility:   decimal.NewFromFloat(0.0005),
		SizePctOfBalance:       decimal.NewFromInt(10),
		MaxConcurrentPositions: 1,
		MaxLeverage:            decimal.NewFromInt(2),
		ExitCarryAPY:           decimal.Zero,
		CooldownMinutes:        60,
	}
}

// Clamp обрезает пользовательские параметры до процессных лимитов
func (c *StrategyConfig) Clamp() {
	if c.MaxLeverage.GreaterThan(HardMaxLeverage) {
		c.MaxLeverage = HardMaxLeverage
	}
	if c.SizePctOfBalance.GreaterThan(HardMaxSizePct) {
		c.SizePctOfBalance = HardMaxSizePct
	}
	if c.MaxConcurrentPositions > HardMaxConcurrent {
		c.MaxConcurrentPositions = HardMaxConcurrent
	}
	if c.CooldownMinutes < HardMinCooldownMin {
		c.CooldownMinutes = HardMinCooldownMin
	}
	if c.CooldownAtClose != 0 && c.CooldownAtClose < HardMinCooldownMin {
		c.CooldownAtClose = HardMinCooldownMin
	}
}

// CooldownElapsed проверяет истёк ли cooldown с момента последнего закрытия.
// Использует CooldownAtClose, а не живое значение CooldownMinutes.
func (c *StrategyConfig) CooldownElapsed(now time.Time) bool {
	if c.LastCloseAt == nil {
		return true
	}
	cooldown := c.CooldownAtClose
	if cooldown <= 0 {
		cooldown = c.CooldownMinutes
	}
	return now.Sub(*c.LastCloseAt) >= time.Duration(cooldown)*time.Minute
}
