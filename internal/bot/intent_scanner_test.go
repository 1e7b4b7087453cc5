package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/venue"
	"deltahedge/pkg/utils"
)

// ============================================================
// Тесты оценки критериев входа интента
// ============================================================

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestEvaluateIntentCriteria(t *testing.T) {
	now := time.Now().UTC()

	baseIntent := func() *models.Intent {
		return &models.Intent{
			ID:       1,
			UserID:   42,
			Asset:    "SOL",
			Leverage: decimal.NewFromInt(3),
			SizeUSD:  decimal.NewFromInt(1000),
			Status:   models.IntentStatusActive,
		}
	}

	tests := []struct {
		name       string
		intent     func() *models.Intent
		funding    venue.FundingInfo
		markPrice  string
		wantPassed bool
		wantFailed string // имя первой проваленной проверки
		wantReason string
	}{
		{
			name:   "all criteria pass",
			intent: baseIntent,
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("-0.002"),
				Volatility: decimal.RequireFromString("0.0001"),
			},
			markPrice:  "140",
			wantPassed: true,
		},
		{
			name:   "positive funding fails",
			intent: baseIntent,
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("0.001"),
			},
			markPrice:  "140",
			wantPassed: false,
			wantFailed: "funding_negative",
			wantReason: "funding rate 0.001 is not negative",
		},
		{
			name: "funding negative but not extreme enough",
			intent: func() *models.Intent {
				i := baseIntent()
				i.MinFundingRate = decPtr("-0.001")
				return i
			},
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("-0.0005"),
			},
			markPrice:  "140",
			wantPassed: false,
			wantFailed: "funding_magnitude",
			wantReason: "funding rate above minimum magnitude threshold",
		},
		{
			name: "funding more extreme than threshold passes",
			intent: func() *models.Intent {
				i := baseIntent()
				i.MinFundingRate = decPtr("-0.001")
				return i
			},
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("-0.002"),
			},
			markPrice:  "140",
			wantPassed: true,
		},
		{
			name: "volatility above ceiling fails",
			intent: func() *models.Intent {
				i := baseIntent()
				i.MaxFundingVolatility = decPtr("0.0005")
				return i
			},
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("-0.002"),
				Volatility: decimal.RequireFromString("0.001"),
			},
			markPrice:  "140",
			wantPassed: false,
			wantFailed: "funding_volatility",
		},
		{
			name: "mark price above ceiling fails",
			intent: func() *models.Intent {
				i := baseIntent()
				i.MaxEntryPrice = decPtr("135")
				return i
			},
			funding: venue.FundingInfo{
				Asset: "SOL", Rate: decimal.RequireFromString("-0.002"),
			},
			markPrice:  "140",
			wantPassed: false,
			wantFailed: "entry_price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := evaluateIntentCriteria(tt.intent(), tt.funding,
				decimal.RequireFromString(tt.markPrice), now)

			if snapshot.AllPassed != tt.wantPassed {
				t.Errorf("AllPassed = %v, want %v (checks: %+v)",
					snapshot.AllPassed, tt.wantPassed, snapshot.Checks)
			}
			if len(snapshot.Checks) == 0 {
				t.Fatal("snapshot must record checks")
			}
			if !snapshot.EvaluatedAt.Equal(now) {
				t.Errorf("EvaluatedAt = %v, want %v", snapshot.EvaluatedAt, now)
			}

			if tt.wantFailed == "" {
				return
			}
			var failed *models.CriteriaCheck
			for i := range snapshot.Checks {
				if !snapshot.Checks[i].Passed {
					failed = &snapshot.Checks[i]
					break
				}
			}
			if failed == nil {
				t.Fatalf("expected failed check %q, all passed", tt.wantFailed)
			}
			if failed.Name != tt.wantFailed {
				t.Errorf("failed check = %q, want %q", failed.Name, tt.wantFailed)
			}
			if tt.wantReason != "" && failed.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", failed.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateIntentCriteria_PassedChecksHaveNoReason(t *testing.T) {
	intent := &models.Intent{
		ID: 1, UserID: 42, Asset: "SOL",
		Leverage:       decimal.NewFromInt(3),
		SizeUSD:        decimal.NewFromInt(1000),
		MinFundingRate: decPtr("-0.001"),
	}
	funding := venue.FundingInfo{Asset: "SOL", Rate: decimal.RequireFromString("-0.002")}

	snapshot := evaluateIntentCriteria(intent, funding, decimal.NewFromInt(140), time.Now().UTC())
	for _, check := range snapshot.Checks {
		if check.Passed && check.Reason != "" {
			t.Errorf("passed check %q carries reason %q", check.Name, check.Reason)
		}
	}
}

// ============================================================
// Тесты цикла сканирования интентов
// ============================================================

type intentScanHarness struct {
	scanner *IntentScanner
	perp    *fakePerp
	lending *fakeLending
	pause   *PauseController // ось сканера
	pmPause *PauseController // ось движка: отдельная, чтобы имитировать гонку
	mock    sqlmock.Sqlmock
}

func newIntentScanHarness(t *testing.T) *intentScanHarness {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zap.NewNop()
	lending := &fakeLending{
		markPrice: decimal.NewFromInt(140),
		balance:   decimal.NewFromInt(5000),
		markets: []*venue.LendingMarket{
			mkMarket("kamino", "0.065", "0.09", "5", "1000000", 1),
		},
	}
	perp := &fakePerp{
		markPrice: decimal.NewFromInt(140),
		rates: map[string]venue.FundingInfo{
			"SOL": {Asset: "SOL", Rate: decimal.RequireFromString("-0.002"),
				Volatility: decimal.RequireFromString("0.0001")},
			"ETH": {Asset: "ETH", Rate: decimal.RequireFromString("0.001")},
		},
	}

	riskRepo := repository.NewRiskRepository(db)
	scanPause := NewPauseController(repository.NewBreakerRepository(db), riskRepo, log)
	pmPause := NewPauseController(repository.NewBreakerRepository(db), riskRepo, log)
	risk := NewUserRiskManager(riskRepo, scanPause, testRiskConfig, log)
	creds := NewCredentialSource(repository.NewCredentialRepository(db), testEncryptionKey)
	consensus := NewConsensusChecker(lending, perp, 0.5, 50, log)
	txExec := NewTxExecutor(NewTxStateMachine(repository.NewTxIntentRepository(db), log), lending, time.Second, log)

	intents := repository.NewIntentRepository(db)
	pm := NewPositionManager(db,
		repository.NewPositionRepository(db), intents, repository.NewStrategyRepository(db),
		txExec, lending, perp, consensus, pmPause, risk, creds,
		testRiskConfig, &collectedEvents{}, log)
	runner := NewJobRunner(repository.NewJobRepository(db), repository.NewOpLockRepository(db), pm, time.Minute, log)

	return &intentScanHarness{
		scanner: NewIntentScanner(intents, perp, scanPause, risk, runner, log),
		perp:    perp,
		lending: lending,
		pause:   scanPause,
		pmPause: pmPause,
		mock:    mock,
	}
}

func (h *intentScanHarness) expectScannable(intents ...*models.Intent) {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "asset", "leverage", "size_usd",
		"min_funding_rate", "max_funding_volatility", "max_entry_price", "expires_at",
		"status", "criteria_snapshot", "position_id", "error", "created_at", "updated_at",
	})
	for _, i := range intents {
		var expires interface{}
		if i.ExpiresAt != nil {
			expires = *i.ExpiresAt
		}
		rows.AddRow(i.ID, i.UserID, i.Asset, i.Leverage.String(), i.SizeUSD.String(),
			nil, nil, nil, expires, i.Status, nil, nil, nil, time.Now(), time.Now())
	}
	h.mock.ExpectQuery(`SELECT(.+)FROM intents WHERE status IN`).
		WithArgs(models.IntentStatusPending, models.IntentStatusActive).
		WillReturnRows(rows)
}

func activeIntent(id, userID int, asset string) *models.Intent {
	return &models.Intent{
		ID:       id,
		UserID:   userID,
		Asset:    asset,
		Leverage: decimal.NewFromInt(3),
		SizeUSD:  decimal.NewFromInt(1000),
		Status:   models.IntentStatusActive,
	}
}

// Глобальная пауза откладывает исполнение интента, не сжигая его:
// статус не меняется, интент будет переоценен в следующем цикле
// после снятия паузы.
func TestIntentScanner_PauseDefersExecution(t *testing.T) {
	scopes := []string{models.PauseScopeAll, models.PauseScopeEntry}
	for _, scope := range scopes {
		t.Run(scope, func(t *testing.T) {
			h := newIntentScanHarness(t)
			h.pause.Pause(scope, "price deviation between venues", "circuit-breaker")

			intent := activeIntent(1, 42, "SOL")

			// Единственный ожидаемый запрос - сохранение снапшота оценки;
			// UPDATE статуса отсутствует
			h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
				WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := h.scanner.processIntent(context.Background(), intent, h.perp.rates, time.Now().UTC())
			if err != nil {
				t.Fatalf("processIntent returned error: %v", err)
			}
			if err := h.mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet sqlmock expectations: %v", err)
			}
			if h.perp.openCalls != 0 {
				t.Errorf("OpenShort called %d times during pause, want 0", h.perp.openCalls)
			}
		})
	}
}

// Достигнутый дневной лимит сделок тоже откладывает, а не проваливает
func TestIntentScanner_DailyLimitDefersExecution(t *testing.T) {
	h := newIntentScanHarness(t)
	intent := activeIntent(1, 42, "SOL")
	now := time.Now().UTC()

	h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`SELECT paused FROM user_risk_tracking`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"paused"}).AddRow(false))
	expectGet(h.mock, 42, riskRow{peak: "5000", current: "5000", hasPeak: true,
		count: testRiskConfig.MaxDailyTrades, date: utils.TradeDate(now)})

	if err := h.scanner.processIntent(context.Background(), intent, h.perp.rates, now); err != nil {
		t.Fatalf("processIntent returned error: %v", err)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
	if h.perp.openCalls != 0 {
		t.Errorf("OpenShort called %d times over daily limit, want 0", h.perp.openCalls)
	}
}

// Пауза, вставшая между проверкой сканера и preflight движка,
// не должна сжигать интент: отказ вида RISK_REJECTED откладывает
func TestIntentScanner_RiskRejectedExecutionLeavesIntentActive(t *testing.T) {
	h := newIntentScanHarness(t)
	h.pmPause.Pause(models.PauseScopeAll, "margin breaker", "circuit-breaker")

	intent := activeIntent(1, 42, "SOL")
	now := time.Now().UTC()

	h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectQuery(`SELECT paused FROM user_risk_tracking`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"paused"}).AddRow(false))
	expectGet(h.mock, 42, riskRow{peak: "5000", current: "5000", hasPeak: true})
	// Op-лок берётся и освобождается; preflight отказывает до on-chain действий
	h.mock.ExpectExec(`INSERT INTO position_op_locks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`DELETE FROM position_op_locks`).
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := h.scanner.processIntent(context.Background(), intent, h.perp.rates, now); err != nil {
		t.Fatalf("processIntent returned error: %v", err)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
	if n := h.lending.countBuilds("open_long"); n != 0 {
		t.Errorf("long leg built %d times despite engine pause, want 0", n)
	}
}

// Сбой одного интента в цикле не мешает оценке следующего
func TestIntentScanner_Scan_FailureIsolation(t *testing.T) {
	h := newIntentScanHarness(t)

	first := activeIntent(1, 7, "SOL")
	second := activeIntent(2, 8, "ETH") // положительный funding: критерии не пройдут

	h.expectScannable(first, second)
	h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
		WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := h.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("second intent was not evaluated after first failed: %v", err)
	}
	if h.perp.ratesCalls != 1 {
		t.Errorf("funding rates fetched %d times per cycle, want 1", h.perp.ratesCalls)
	}
}

// Истёкшие интенты помечаются expired, pending продвигаются в active
func TestIntentScanner_Scan_ExpiryAndPromotion(t *testing.T) {
	h := newIntentScanHarness(t)

	past := time.Now().UTC().Add(-time.Hour)
	expired := activeIntent(1, 7, "SOL")
	expired.ExpiresAt = &past

	pending := activeIntent(2, 8, "ETH")
	pending.Status = models.IntentStatusPending

	h.expectScannable(expired, pending)
	h.mock.ExpectExec(`UPDATE intents SET status`).
		WithArgs(1, models.IntentStatusExpired, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE intents SET status`).
		WithArgs(2, models.IntentStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(`UPDATE intents SET criteria_snapshot`).
		WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := h.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if err := h.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
