package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Auth - расшифрованные учётные данные пользователя для вызовов венью.
// Живёт только в памяти на время операции.
type Auth struct {
	APIKey    string // perp API key
	SecretKey string // perp secret / solana signing key
	Wallet    string // публичный адрес кошелька
}

// LendingMarket - один lending-источник на Solana-протоколе
type LendingMarket struct {
	Protocol       string          `json:"protocol"`
	Asset          string          `json:"asset"`
	LendingRate    decimal.Decimal `json:"lending_rate"`    // годовая ставка размещения
	BorrowingRate  decimal.Decimal `json:"borrowing_rate"`  // годовая ставка заимствования
	MaxLeverage    decimal.Decimal `json:"max_leverage"`    // максимальное поддерживаемое плечо
	BorrowCapacity decimal.Decimal `json:"borrow_capacity"` // остаток ёмкости заимствования, USD
	Priority       int             `json:"priority"`        // фиксированный порядок для tie-break (меньше = выше)
}

// TxParams - параметры сборки on-chain транзакции длинной ноги
type TxParams struct {
	Action        string          `json:"action"` // open_long, close_long
	Protocol      string          `json:"protocol"`
	Asset         string          `json:"asset"`
	CollateralUSD decimal.Decimal `json:"collateral_usd"`
	BorrowUSD     decimal.Decimal `json:"borrow_usd"`
	MaxPrice      decimal.Decimal `json:"max_price"` // worst-case цена с учётом slippage
}

// UnsignedTx - несобранная транзакция с network checkpoint'ом.
// Blockhash протухает: для resubmit зависшей транзакции нужна
// пересборка со свежим blockhash.
type UnsignedTx struct {
	Payload   string `json:"payload"` // base64
	Blockhash string `json:"blockhash"`
}

// SignedTx - подписанная транзакция, готовая к отправке
type SignedTx struct {
	Payload string `json:"payload"` // base64
}

// SubmitResult - результат отправки транзакции
type SubmitResult struct {
	Signature string `json:"signature"`
	Confirmed bool   `json:"confirmed"`
}

// TxStatus - статус транзакции в сети по её подписи
type TxStatus struct {
	Found     bool   `json:"found"`
	Confirmed bool   `json:"confirmed"`
	Err       string `json:"error,omitempty"` // ошибка исполнения on-chain
}

// FundingInfo - funding-состояние perp-рынка.
// Отрицательный rate означает что шортам платят.
type FundingInfo struct {
	Asset      string          `json:"asset"`
	Rate       decimal.Decimal `json:"rate"`       // текущий funding rate за период
	Volatility decimal.Decimal `json:"volatility"` // stddev за lookback-окно
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PerpOrder - результат открытия/закрытия короткой ноги
type PerpOrder struct {
	OrderID        string          `json:"order_id"`
	Asset          string          `json:"asset"`
	NotionalUSD    decimal.Decimal `json:"notional_usd"`
	MarginUSD      decimal.Decimal `json:"margin_usd"`
	MarginFraction decimal.Decimal `json:"margin_fraction"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
}

// AccountState - состояние perp-аккаунта пользователя
type AccountState struct {
	BalanceUSD     decimal.Decimal `json:"balance_usd"`
	MarginFraction decimal.Decimal `json:"margin_fraction"`
}

// LendingVenue - шлюз к Solana lending/margin протоколу (длинная нога).
// Транзакционный цикл build -> sign -> submit -> status разнесён
// по отдельным вызовам: это позволяет state machine персистить
// прогресс между шагами и восстанавливаться после рестарта.
type LendingVenue interface {
	// GetMarkets возвращает lending-источники для актива
	GetMarkets(ctx context.Context, asset string) ([]*LendingMarket, error)

	// GetMarkPrice возвращает mark-цену актива на lending-венью
	GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)

	// BuildTransaction собирает транзакцию со свежим blockhash
	BuildTransaction(ctx context.Context, intentID string, params TxParams) (*UnsignedTx, error)

	// Sign подписывает транзакцию ключом пользователя
	Sign(ctx context.Context, auth Auth, tx *UnsignedTx) (*SignedTx, error)

	// Submit отправляет транзакцию в сеть
	Submit(ctx context.Context, tx *SignedTx) (*SubmitResult, error)

	// GetTransactionStatus возвращает статус транзакции по подписи
	GetTransactionStatus(ctx context.Context, signature string) (*TxStatus, error)

	// GetBalance возвращает USD-баланс кошелька на lending-венью
	GetBalance(ctx context.Context, auth Auth) (decimal.Decimal, error)
}

// PerpVenue - шлюз к Arbitrum perp-бирже (короткая нога)
type PerpVenue interface {
	// GetFundingRates возвращает funding-состояние всех рынков
	GetFundingRates(ctx context.Context) (map[string]FundingInfo, error)

	// GetMarkPrice возвращает mark-цену актива на perp-бирже
	GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)

	// OpenShort открывает короткую позицию заданного номинала
	OpenShort(ctx context.Context, auth Auth, asset string, notionalUSD, maxPrice decimal.Decimal) (*PerpOrder, error)

	// CloseShort закрывает короткую позицию по рынку
	CloseShort(ctx context.Context, auth Auth, asset string) (*PerpOrder, error)

	// GetAccount возвращает состояние perp-аккаунта
	GetAccount(ctx context.Context, auth Auth) (*AccountState, error)
}
