package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Intent представляет пользовательскую заявку "открой позицию когда условия выполнятся".
// Не путать с TxIntent (on-chain транзакция).
//
// Инвариант: не более одного pending/active интента на пару (user, asset).
type Intent struct {
	ID                   int               `json:"id" db:"id"`
	UserID               int               `json:"user_id" db:"user_id"`
	Asset                string            `json:"asset" db:"asset"`
	Leverage             decimal.Decimal   `json:"leverage" db:"leverage"`
	SizeUSD              decimal.Decimal   `json:"size_usd" db:"size_usd"`
	MinFundingRate       *decimal.Decimal  `json:"min_funding_rate,omitempty" db:"min_funding_rate"` // отрицательное значение, порог "не менее экстремально"
	MaxFundingVolatility *decimal.Decimal  `json:"max_funding_volatility,omitempty" db:"max_funding_volatility"`
	MaxEntryPrice        *decimal.Decimal  `json:"max_entry_price,omitempty" db:"max_entry_price"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	Status               string            `json:"status" db:"status"`
	CriteriaSnapshot     *CriteriaSnapshot `json:"criteria_snapshot,omitempty" db:"criteria_snapshot"` // последний результат оценки (JSON в БД)
	PositionID           *int              `json:"position_id,omitempty" db:"position_id"`             // заполняется при успехе
	Error                string            `json:"error,omitempty" db:"error"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// Статусы интента. pending → active → {executed | cancelled | expired | failed}
const (
	IntentStatusPending   = "pending"
	IntentStatusActive    = "active"
	IntentStatusExecuted  = "executed"
	IntentStatusCancelled = "cancelled"
	IntentStatusExpired   = "expired"
	IntentStatusFailed    = "failed"
)

// IsTerminalIntentStatus возвращает true для терминальных статусов интента
func IsTerminalIntentStatus(s string) bool {
	switch s {
	case IntentStatusExecuted, IntentStatusCancelled, IntentStatusExpired, IntentStatusFailed:
		return true
	}
	return false
}

// CriteriaSnapshot - результат последней оценки критериев входа.
// Сохраняется при каждой проверке независимо от исхода (для аудита и UI).
type CriteriaSnapshot struct {
	EvaluatedAt       time.Time       `json:"evaluated_at"`
	FundingRate       decimal.Decimal `json:"funding_rate"`
	FundingVolatility decimal.Decimal `json:"funding_volatility"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	Checks            []CriteriaCheck `json:"checks"`
	AllPassed         bool            `json:"all_passed"`
}

// CriteriaCheck - результат одной проверки
type CriteriaCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}
