package utils

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// validator.go - валидация пользовательского ввода для операций с позициями

var assetRe = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidateAsset проверяет формат символа актива (SOL, ETH, BTC)
func ValidateAsset(asset string) error {
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	if !assetRe.MatchString(asset) {
		return fmt.Errorf("invalid asset symbol %q: expected 2-10 uppercase alphanumeric characters", asset)
	}
	return nil
}

// ValidateLeverage проверяет плечо: > 1 и не выше hardMax
func ValidateLeverage(leverage, hardMax decimal.Decimal) error {
	if leverage.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("leverage must be greater than 1, got %s", leverage)
	}
	if leverage.GreaterThan(hardMax) {
		return fmt.Errorf("leverage %s exceeds maximum %s", leverage, hardMax)
	}
	return nil
}

// ValidateSizeUSD проверяет размер позиции
func ValidateSizeUSD(size decimal.Decimal) error {
	if size.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("size_usd must be positive, got %s", size)
	}
	return nil
}
