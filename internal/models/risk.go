package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskTracking - риск-состояние одного пользователя.
// Мутируется каждой попыткой/исходом сделки и явными корректировками
// депозитов/выводов (они не должны читаться как убыток/прибыль).
type RiskTracking struct {
	UserID              int             `json:"user_id" db:"user_id"`
	PeakBalanceUSD      decimal.Decimal `json:"peak_balance_usd" db:"peak_balance_usd"` // high-water mark
	CurrentBalanceUSD   decimal.Decimal `json:"current_balance_usd" db:"current_balance_usd"`
	HasPeak             bool            `json:"has_peak" db:"has_peak"` // false до первого наблюдения баланса
	DailyTradeCount     int             `json:"daily_trade_count" db:"daily_trade_count"`
	DailyTradeDate      string          `json:"daily_trade_date" db:"daily_trade_date"` // YYYY-MM-DD, сброс при смене даты
	ConsecutiveFailures int             `json:"consecutive_failures" db:"consecutive_failures"`
	LastFailureReason   string          `json:"last_failure_reason,omitempty" db:"last_failure_reason"`
	Paused              bool            `json:"paused" db:"paused"` // индивидуальная пауза пользователя
	PauseReason         string          `json:"pause_reason,omitempty" db:"pause_reason"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// DrawdownPct возвращает текущую просадку в процентах от пика
func (r *RiskTracking) DrawdownPct() decimal.Decimal {
	if !r.HasPeak || r.PeakBalanceUSD.IsZero() {
		return decimal.Zero
	}
	if r.CurrentBalanceUSD.GreaterThanOrEqual(r.PeakBalanceUSD) {
		return decimal.Zero
	}
	return r.PeakBalanceUSD.Sub(r.CurrentBalanceUSD).
		Div(r.PeakBalanceUSD).
		Mul(decimal.NewFromInt(100))
}
