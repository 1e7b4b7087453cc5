package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/pkg/ratelimit"
)

// PerpClient - REST-клиент Arbitrum perp-биржи.
// Реализует PerpVenue.
type PerpClient struct {
	http *httpClient
	log  *zap.Logger
}

// NewPerpClient создаёт клиент perp-венью
func NewPerpClient(baseURL string, timeout time.Duration, rate, burst float64, log *zap.Logger) *PerpClient {
	return &PerpClient{
		http: newHTTPClient(baseURL, timeout, ratelimit.NewRateLimiter(rate, burst)),
		log:  log,
	}
}

// GetFundingRates возвращает funding-состояние всех рынков.
// Один вызов на цикл сканера - результат шарится между пользователями.
func (c *PerpClient) GetFundingRates(ctx context.Context) (map[string]FundingInfo, error) {
	var resp struct {
		Rates []FundingInfo `json:"rates"`
	}
	if err := c.http.getJSON(ctx, "/v1/funding", &resp); err != nil {
		return nil, fmt.Errorf("get funding rates: %w", err)
	}
	out := make(map[string]FundingInfo, len(resp.Rates))
	for _, r := range resp.Rates {
		out[r.Asset] = r
	}
	return out, nil
}

// GetMarkPrice возвращает mark-цену актива
func (c *PerpClient) GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp struct {
		Asset string          `json:"asset"`
		Price decimal.Decimal `json:"price"`
	}
	if err := c.http.getJSON(ctx, "/v1/price?asset="+asset, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("get mark price for %s: %w", asset, err)
	}
	return resp.Price, nil
}

// OpenShort открывает короткую позицию заданного номинала.
// maxPrice - worst-case цена исполнения (slippage-защита).
func (c *PerpClient) OpenShort(ctx context.Context, auth Auth, asset string, notionalUSD, maxPrice decimal.Decimal) (*PerpOrder, error) {
	req := struct {
		APIKey      string          `json:"api_key"`
		Secret      string          `json:"secret"`
		Asset       string          `json:"asset"`
		Side        string          `json:"side"`
		NotionalUSD decimal.Decimal `json:"notional_usd"`
		MaxPrice    decimal.Decimal `json:"max_price"`
	}{APIKey: auth.APIKey, Secret: auth.SecretKey, Asset: asset, Side: "short", NotionalUSD: notionalUSD, MaxPrice: maxPrice}

	var order PerpOrder
	if err := c.http.postJSON(ctx, "/v1/orders", req, &order); err != nil {
		return nil, fmt.Errorf("open short %s: %w", asset, err)
	}
	c.log.Info("short leg opened",
		zap.String("asset", asset),
		zap.String("notional_usd", notionalUSD.String()),
		zap.String("order_id", order.OrderID),
	)
	return &order, nil
}

// CloseShort закрывает короткую позицию по рынку
func (c *PerpClient) CloseShort(ctx context.Context, auth Auth, asset string) (*PerpOrder, error) {
	req := struct {
		APIKey string `json:"api_key"`
		Secret string `json:"secret"`
		Asset  string `json:"asset"`
	}{APIKey: auth.APIKey, Secret: auth.SecretKey, Asset: asset}

	var order PerpOrder
	if err := c.http.postJSON(ctx, "/v1/orders/close", req, &order); err != nil {
		return nil, fmt.Errorf("close short %s: %w", asset, err)
	}
	c.log.Info("short leg closed",
		zap.String("asset", asset),
		zap.String("order_id", order.OrderID),
	)
	return &order, nil
}

// GetAccount возвращает состояние perp-аккаунта
func (c *PerpClient) GetAccount(ctx context.Context, auth Auth) (*AccountState, error) {
	var state AccountState
	if err := c.http.postJSON(ctx, "/v1/account", struct {
		APIKey string `json:"api_key"`
		Secret string `json:"secret"`
	}{APIKey: auth.APIKey, Secret: auth.SecretKey}, &state); err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &state, nil
}

// Close закрывает соединения клиента
func (c *PerpClient) Close() {
	c.http.Close()
}
