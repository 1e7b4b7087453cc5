package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/internal/venue"
)

// ============================================================
// Фейковые venue-шлюзы для тестов ядра
// ============================================================

type fakeLending struct {
	mu sync.Mutex

	markets    []*venue.LendingMarket
	markPrice  decimal.Decimal
	markErr    error
	balance    decimal.Decimal
	balanceErr error

	buildCalls     []venue.TxParams
	submitRes      *venue.SubmitResult
	submitErr      error
	statusRes      *venue.TxStatus
	statusErr      error
	signErr        error
	buildErr       error
	failCloseBuild bool // сбой сборки только для close_long
}

func (f *fakeLending) GetMarkets(ctx context.Context, asset string) ([]*venue.LendingMarket, error) {
	return f.markets, nil
}

func (f *fakeLending) GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.markPrice, f.markErr
}

func (f *fakeLending) BuildTransaction(ctx context.Context, intentID string, params venue.TxParams) (*venue.UnsignedTx, error) {
	f.mu.Lock()
	f.buildCalls = append(f.buildCalls, params)
	f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if f.failCloseBuild && params.Action == "close_long" {
		return nil, errors.New("lending venue rejected close")
	}
	return &venue.UnsignedTx{Payload: "payload", Blockhash: "hash"}, nil
}

func (f *fakeLending) Sign(ctx context.Context, auth venue.Auth, tx *venue.UnsignedTx) (*venue.SignedTx, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return &venue.SignedTx{Payload: "signed"}, nil
}

func (f *fakeLending) Submit(ctx context.Context, tx *venue.SignedTx) (*venue.SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitRes != nil {
		return f.submitRes, nil
	}
	return &venue.SubmitResult{Signature: "sig-1", Confirmed: true}, nil
}

func (f *fakeLending) GetTransactionStatus(ctx context.Context, signature string) (*venue.TxStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusRes != nil {
		return f.statusRes, nil
	}
	return &venue.TxStatus{Found: true, Confirmed: true}, nil
}

func (f *fakeLending) GetBalance(ctx context.Context, auth venue.Auth) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

// countBuilds возвращает число сборок транзакций с данным action
func (f *fakeLending) countBuilds(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.buildCalls {
		if p.Action == action {
			n++
		}
	}
	return n
}

type fakePerp struct {
	rates      map[string]venue.FundingInfo
	ratesErr   error
	ratesCalls int
	markPrice  decimal.Decimal
	markErr    error

	openOrder *venue.PerpOrder
	openErr   error
	openCalls int

	closeOrder *venue.PerpOrder
	closeErr   error
	account    *venue.AccountState
}

func (f *fakePerp) GetFundingRates(ctx context.Context) (map[string]venue.FundingInfo, error) {
	f.ratesCalls++
	return f.rates, f.ratesErr
}

func (f *fakePerp) GetMarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.markPrice, f.markErr
}

func (f *fakePerp) OpenShort(ctx context.Context, auth venue.Auth, asset string, notionalUSD, maxPrice decimal.Decimal) (*venue.PerpOrder, error) {
	f.openCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.openOrder != nil {
		return f.openOrder, nil
	}
	return &venue.PerpOrder{
		OrderID:      "ord-1",
		Asset:        asset,
		NotionalUSD:  notionalUSD,
		MarginUSD:    notionalUSD.Div(decimal.NewFromInt(5)),
		AvgFillPrice: maxPrice,
	}, nil
}

func (f *fakePerp) CloseShort(ctx context.Context, auth venue.Auth, asset string) (*venue.PerpOrder, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	if f.closeOrder != nil {
		return f.closeOrder, nil
	}
	return &venue.PerpOrder{OrderID: "ord-close", Asset: asset}, nil
}

func (f *fakePerp) GetAccount(ctx context.Context, auth venue.Auth) (*venue.AccountState, error) {
	return f.account, nil
}

// collectedEvents - EventSink, накапливающий события для проверок
type collectedEvents struct {
	mu    sync.Mutex
	types []string // типы событий в порядке публикации
}

func (c *collectedEvents) Publish(ev *models.Event) {
	c.mu.Lock()
	c.types = append(c.types, ev.Type)
	c.mu.Unlock()
}

func (c *collectedEvents) has(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.types {
		if t == eventType {
			return true
		}
	}
	return false
}
