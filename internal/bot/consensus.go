package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/internal/venue"
)

// Сентинел отклонения при нулевой цене с любой стороны:
// детерминированный максимум вместо деления на ноль
var maxDeviationSentinel = decimal.NewFromInt(100)

// ConsensusResult - результат сравнения цен двух венью
type ConsensusResult struct {
	Asset        string          `json:"asset"`
	LendingPrice decimal.Decimal `json:"lending_price"`
	PerpPrice    decimal.Decimal `json:"perp_price"`
	DeviationPct decimal.Decimal `json:"deviation_pct"`
	HigherSide   string          `json:"higher_side"` // lending, perp, equal
	OK           bool            `json:"ok"`          // отклонение в пределах порога
}

// ConsensusChecker сравнивает mark-цены актива на двух венью.
// Используется как preflight-гейт: открытие позиции отклоняется,
// если расхождение превышает порог.
type ConsensusChecker struct {
	lending      venue.LendingVenue
	perp         venue.PerpVenue
	maxDeviation decimal.Decimal // %
	slippageBps  decimal.Decimal
	log          *zap.Logger
}

// NewConsensusChecker создаёт проверку консенсуса цен
func NewConsensusChecker(lending venue.LendingVenue, perp venue.PerpVenue, maxDeviationPct, slippageBps float64, log *zap.Logger) *ConsensusChecker {
	return &ConsensusChecker{
		lending:      lending,
		perp:         perp,
		maxDeviation: decimal.NewFromFloat(maxDeviationPct),
		slippageBps:  decimal.NewFromFloat(slippageBps),
		log:          log,
	}
}

// Check запрашивает цены обеих венью параллельно и сравнивает
func (c *ConsensusChecker) Check(ctx context.Context, asset string) (*ConsensusResult, error) {
	var (
		wg                      sync.WaitGroup
		lendingPrice, perpPrice decimal.Decimal
		lendingErr, perpErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		lendingPrice, lendingErr = c.lending.GetMarkPrice(ctx, asset)
	}()
	go func() {
		defer wg.Done()
		perpPrice, perpErr = c.perp.GetMarkPrice(ctx, asset)
	}()
	wg.Wait()

	if lendingErr != nil {
		return nil, fmt.Errorf("lending mark price for %s: %w", asset, lendingErr)
	}
	if perpErr != nil {
		return nil, fmt.Errorf("perp mark price for %s: %w", asset, perpErr)
	}

	result := &ConsensusResult{
		Asset:        asset,
		LendingPrice: lendingPrice,
		PerpPrice:    perpPrice,
		DeviationPct: Deviation(lendingPrice, perpPrice),
		HigherSide:   higherSide(lendingPrice, perpPrice),
	}
	result.OK = result.DeviationPct.LessThanOrEqual(c.maxDeviation)

	if !result.OK {
		c.log.Warn("price consensus check failed",
			zap.String("asset", asset),
			zap.String("lending_price", lendingPrice.String()),
			zap.String("perp_price", perpPrice.String()),
			zap.String("deviation_pct", result.DeviationPct.String()),
			zap.String("higher_side", result.HigherSide),
		)
	}
	return result, nil
}

// Deviation считает |a - b| / max(a, b) * 100.
// Нулевая цена с любой стороны даёт фиксированный сентинел 100%
// вместо ошибки деления.
func Deviation(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() || b.IsZero() {
		return maxDeviationSentinel
	}
	max := a
	if b.GreaterThan(max) {
		max = b
	}
	return a.Sub(b).Abs().Div(max).Mul(decimal.NewFromInt(100))
}

// WorstCasePair возвращает worst-case пару цен с учётом slippage:
// максимальную цену покупки и минимальную цену продажи.
// Используется для ограничения параметров ордеров.
func (c *ConsensusChecker) WorstCasePair(price decimal.Decimal) (maxBuy, minSell decimal.Decimal) {
	adj := price.Mul(c.slippageBps).Div(decimal.NewFromInt(10000))
	return price.Add(adj), price.Sub(adj)
}

func higherSide(lending, perp decimal.Decimal) string {
	switch lending.Cmp(perp) {
	case 1:
		return "lending"
	case -1:
		return "perp"
	}
	return "equal"
}
