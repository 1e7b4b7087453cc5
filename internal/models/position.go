package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position представляет комбинированную дельта-нейтральную позицию пользователя:
// длинная нога на lending-протоколе (Solana) + короткая нога на perp-бирже (Arbitrum).
//
// Инвариант: пока Status == open, обе ноги должны существовать.
// Позиция с одной ногой - ошибочное состояние "asymmetric",
// оно детектируется и репортится, а не замалчивается.
type Position struct {
	ID        int             `json:"id" db:"id"`
	UserID    int             `json:"user_id" db:"user_id"`
	Asset     string          `json:"asset" db:"asset"` // SOL, ETH, ...
	Leverage  decimal.Decimal `json:"leverage" db:"leverage"`
	LongLeg   *LongLeg        `json:"long_leg,omitempty"`
	ShortLeg  *ShortLeg       `json:"short_leg,omitempty"`
	TotalPnl  decimal.Decimal `json:"total_pnl" db:"total_pnl"`
	Status    string          `json:"status" db:"status"` // open, closed, failed, asymmetric
	OpenedAt  time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LongLeg - залоговая нога на lending-протоколе
type LongLeg struct {
	Protocol      string          `json:"protocol" db:"long_protocol"` // выбранный lending-источник
	CollateralUSD decimal.Decimal `json:"collateral_usd" db:"long_collateral_usd"`
	BorrowedUSD   decimal.Decimal `json:"borrowed_usd" db:"long_borrowed_usd"`
	HealthFactor  decimal.Decimal `json:"health_factor" db:"long_health_factor"` // ниже = ближе к ликвидации
	EntryPrice    decimal.Decimal `json:"entry_price" db:"long_entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price" db:"long_mark_price"`
}

// ShortLeg - короткая нога на perp-бирже
type ShortLeg struct {
	NotionalUSD    decimal.Decimal `json:"notional_usd" db:"short_notional_usd"`
	MarginUSD      decimal.Decimal `json:"margin_usd" db:"short_margin_usd"`
	MarginFraction decimal.Decimal `json:"margin_fraction" db:"short_margin_fraction"` // ниже = ближе к ликвидации
	EntryPrice     decimal.Decimal `json:"entry_price" db:"short_entry_price"`
	MarkPrice      decimal.Decimal `json:"mark_price" db:"short_mark_price"`
}

// Статусы позиции
const (
	PositionStatusOpen       = "open"
	PositionStatusClosed     = "closed"
	PositionStatusFailed     = "failed"     // unwind тоже не удался
	PositionStatusAsymmetric = "asymmetric" // осталась одна нога, нужно вмешательство
)

// Delta возвращает чистую направленную экспозицию позиции в USD.
// Для идеально захеджированной позиции ≈ 0.
func (p *Position) Delta() decimal.Decimal {
	var long, short decimal.Decimal
	if p.LongLeg != nil {
		long = p.LongLeg.CollateralUSD.Add(p.LongLeg.BorrowedUSD)
	}
	if p.ShortLeg != nil {
		short = p.ShortLeg.NotionalUSD
	}
	return long.Sub(short)
}

// UserStats - агрегированная статистика позиций пользователя
type UserStats struct {
	UserID          int             `json:"user_id"`
	OpenCount       int             `json:"open_count"`
	ClosedCount     int             `json:"closed_count"`
	AsymmetricCount int             `json:"asymmetric_count"`
	RealizedPnlUSD  decimal.Decimal `json:"realized_pnl_usd"` // сумма total_pnl закрытых позиций
}

// IsAsymmetric возвращает true если у открытой позиции отсутствует одна из ног
func (p *Position) IsAsymmetric() bool {
	if p.Status != PositionStatusOpen && p.Status != PositionStatusAsymmetric {
		return false
	}
	return (p.LongLeg == nil) != (p.ShortLeg == nil)
}
