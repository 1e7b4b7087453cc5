package bot

import (
	"errors"

	"github.com/shopspring/decimal"

	"deltahedge/internal/venue"
)

var (
	// ErrNoEligibleSource - ни один lending-источник не прошёл фильтры
	ErrNoEligibleSource = errors.New("no eligible lending source for requested leverage and size")
)

// NetCarry считает чистый carry источника для заданного плеча:
// leverage * lending_rate - (leverage - 1) * borrowing_rate
func NetCarry(m *venue.LendingMarket, leverage decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return leverage.Mul(m.LendingRate).Sub(leverage.Sub(one).Mul(m.BorrowingRate))
}

// SelectLendingSource выбирает lending-источник для длинной ноги.
//
// Фильтры: максимальное поддерживаемое плечо не ниже запрошенного,
// остаток borrow capacity не ниже requiredBorrow * safetyBuffer.
// Из прошедших выбирается максимальный net carry; при равенстве
// побеждает меньший priority (фиксированный порядок источников).
// Выбор детерминирован при одинаковых входных данных.
func SelectLendingSource(markets []*venue.LendingMarket, leverage, requiredBorrow, safetyBuffer decimal.Decimal) (*venue.LendingMarket, error) {
	minCapacity := requiredBorrow.Mul(safetyBuffer)

	var best *venue.LendingMarket
	var bestCarry decimal.Decimal

	for _, m := range markets {
		if m.MaxLeverage.LessThan(leverage) {
			continue
		}
		if m.BorrowCapacity.LessThan(minCapacity) {
			continue
		}

		carry := NetCarry(m, leverage)
		if best == nil {
			best, bestCarry = m, carry
			continue
		}
		switch carry.Cmp(bestCarry) {
		case 1:
			best, bestCarry = m, carry
		case 0:
			if m.Priority < best.Priority {
				best = m
			}
		}
	}

	if best == nil {
		return nil, ErrNoEligibleSource
	}
	return best, nil
}
