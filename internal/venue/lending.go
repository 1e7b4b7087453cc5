package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/pkg/ratelimit"
)

// LendingClient - REST-клиент Solana lending/margin протокола.
// Реализует LendingVenue. Агрегатор protocol-REST API отдаёт
// рынки нескольких lending-источников единым списком.
type LendingClient struct {
	http *httpClient
	log  *zap.Logger
}

// NewLendingClient создаёт клиент lending-венью
func NewLendingClient(baseURL string, timeout time.Duration, rate, burst float64, log *zap.Logger) *LendingClient {
	return &LendingClient{
		http: newHTTPClient(baseURL, timeout, ratelimit.NewRateLimiter(rate, burst)),
		log:  log,
	}
}

// GetMarkets возвращает lending-источники для актива
func (c *LendingClient) GetMarkets(ctx context.Context, asset string) ([]*LendingMarket, error) {
	var resp struct {
		Markets []*LendingMarket `json:"markets"`
	}
	if err := c.http.getJSON(ctx, "/v1/markets?asset="+asset, &resp); err != nil {
		return nil, fmt.Errorf("get markets for %s: %w", asset, err)
	}
	return resp.Markets, nil
}

// GetMarkPrice возвращает mark-цену актива
func (c *LendingClient) GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp struct {
		Asset string          `json:"asset"`
		Price decimal.Decimal `json:"price"`
	}
	if err := c.http.getJSON(ctx, "/v1/price?asset="+asset, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("get mark price for %s: %w", asset, err)
	}
	return resp.Price, nil
}

// BuildTransaction собирает транзакцию со свежим blockhash.
// Для resubmit зависшей транзакции вызывается повторно
// с тем же intentID - протокол вернёт новый checkpoint.
func (c *LendingClient) BuildTransaction(ctx context.Context, intentID string, params TxParams) (*UnsignedTx, error) {
	req := struct {
		IntentID string   `json:"intent_id"`
		Params   TxParams `json:"params"`
	}{IntentID: intentID, Params: params}

	var tx UnsignedTx
	if err := c.http.postJSON(ctx, "/v1/tx/build", req, &tx); err != nil {
		return nil, fmt.Errorf("build transaction %s: %w", intentID, err)
	}
	return &tx, nil
}

// Sign подписывает транзакцию ключом пользователя
func (c *LendingClient) Sign(ctx context.Context, auth Auth, tx *UnsignedTx) (*SignedTx, error) {
	req := struct {
		Payload    string `json:"payload"`
		Blockhash  string `json:"blockhash"`
		Wallet     string `json:"wallet"`
		SigningKey string `json:"signing_key"`
	}{Payload: tx.Payload, Blockhash: tx.Blockhash, Wallet: auth.Wallet, SigningKey: auth.SecretKey}

	var signed SignedTx
	if err := c.http.postJSON(ctx, "/v1/tx/sign", req, &signed); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &signed, nil
}

// Submit отправляет транзакцию в сеть
func (c *LendingClient) Submit(ctx context.Context, tx *SignedTx) (*SubmitResult, error) {
	var res SubmitResult
	if err := c.http.postJSON(ctx, "/v1/tx/submit", tx, &res); err != nil {
		return nil, fmt.Errorf("submit transaction: %w", err)
	}
	c.log.Debug("transaction submitted",
		zap.String("signature", res.Signature),
		zap.Bool("confirmed", res.Confirmed),
	)
	return &res, nil
}

// GetTransactionStatus возвращает статус транзакции по подписи
func (c *LendingClient) GetTransactionStatus(ctx context.Context, signature string) (*TxStatus, error) {
	var status TxStatus
	if err := c.http.getJSON(ctx, "/v1/tx/status?signature="+signature, &status); err != nil {
		return nil, fmt.Errorf("get transaction status %s: %w", signature, err)
	}
	return &status, nil
}

// GetBalance возвращает USD-баланс кошелька
func (c *LendingClient) GetBalance(ctx context.Context, auth Auth) (decimal.Decimal, error) {
	var resp struct {
		BalanceUSD decimal.Decimal `json:"balance_usd"`
	}
	if err := c.http.getJSON(ctx, "/v1/balance?wallet="+auth.Wallet, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return resp.BalanceUSD, nil
}

// Close закрывает соединения клиента
func (c *LendingClient) Close() {
	c.http.Close()
}
