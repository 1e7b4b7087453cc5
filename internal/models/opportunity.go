package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity - каноническое описание возможности входа.
// Единственный тип, который принимают все пути открытия позиции
// (ручной запрос, исполнение интента, автономный сканер) -
// исключает расхождение формы полей между путями.
// Конструируется только через NewOpportunity.
type Opportunity struct {
	UserID            int
	Asset             string
	SizeUSD           decimal.Decimal
	Leverage          decimal.Decimal
	FundingRate       decimal.Decimal // текущий funding (отрицательный = шортам платят)
	FundingVolatility decimal.Decimal
	EstCarryAPY       decimal.Decimal // оценка carry, % годовых
	Source            string          // manual, intent, autonomous
	IntentID          *int            // заполнен для Source == intent
	CreatedAt         time.Time
}

// Источники возможности
const (
	OpportunitySourceManual     = "manual"
	OpportunitySourceIntent     = "intent"
	OpportunitySourceAutonomous = "autonomous"
)

// NewOpportunity - единственная фабрика Opportunity.
//
// EstCarryAPY считается по упрощённой funding-only формуле
// |rate| * 3 * 365 * leverage (3 funding-периода в сутки).
// Спред lending/borrowing сознательно игнорируется - это
// документированное упрощение, а не баг.
func NewOpportunity(userID int, asset string, sizeUSD, leverage, fundingRate, fundingVol decimal.Decimal, source string) Opportunity {
	periodsPerYear := decimal.NewFromInt(3 * 365)
	carry := fundingRate.Abs().Mul(periodsPerYear).Mul(leverage).Mul(decimal.NewFromInt(100))
	return Opportunity{
		UserID:            userID,
		Asset:             asset,
		SizeUSD:           sizeUSD,
		Leverage:          leverage,
		FundingRate:       fundingRate,
		FundingVolatility: fundingVol,
		EstCarryAPY:       carry,
		Source:            source,
		CreatedAt:         time.Now().UTC(),
	}
}

// WithIntent привязывает возможность к интенту
func (o Opportunity) WithIntent(intentID int) Opportunity {
	o.Source = OpportunitySourceIntent
	o.IntentID = &intentID
	return o
}
