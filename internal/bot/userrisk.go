package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/internal/config"
	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/pkg/utils"
)

// UserRiskManager отслеживает риск-состояние каждого пользователя:
// просадку от пика баланса, дневной лимит сделок и серию
// подряд идущих неудач. Пробой порога ставит индивидуальную
// паузу через PauseController.
type UserRiskManager struct {
	riskRepo *repository.RiskRepository
	pause    *PauseController
	cfg      config.RiskConfig
	log      *zap.Logger
}

// NewUserRiskManager создаёт риск-менеджер
func NewUserRiskManager(riskRepo *repository.RiskRepository, pause *PauseController, cfg config.RiskConfig, log *zap.Logger) *UserRiskManager {
	return &UserRiskManager{
		riskRepo: riskRepo,
		pause:    pause,
		cfg:      cfg,
		log:      log,
	}
}

// ObserveBalance обрабатывает наблюдение баланса пользователя.
//
// Первое наблюдение инициализирует пик текущим значением
// (пробой невозможен). Рост баланса поднимает пик. Иначе
// считается просадка; при достижении порога ставится
// индивидуальная пауза и возвращается false.
func (m *UserRiskManager) ObserveBalance(ctx context.Context, userID int, balance decimal.Decimal) (bool, error) {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}

	if !rt.HasPeak {
		rt.PeakBalanceUSD = balance
		rt.CurrentBalanceUSD = balance
		rt.HasPeak = true
		return true, m.riskRepo.Save(ctx, rt)
	}

	rt.CurrentBalanceUSD = balance
	if balance.GreaterThan(rt.PeakBalanceUSD) {
		rt.PeakBalanceUSD = balance
		return true, m.riskRepo.Save(ctx, rt)
	}

	drawdown := rt.DrawdownPct()
	if drawdown.GreaterThanOrEqual(decimal.NewFromFloat(m.cfg.MaxDrawdownPct)) {
		reason := fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%% (peak %s USD, current %s USD)",
			drawdownFloat(drawdown), m.cfg.MaxDrawdownPct,
			rt.PeakBalanceUSD.StringFixed(2), rt.CurrentBalanceUSD.StringFixed(2))
		if err := m.riskRepo.Save(ctx, rt); err != nil {
			return false, err
		}
		if err := m.pause.PauseUser(ctx, userID, reason); err != nil {
			return false, err
		}
		DrawdownPauses.Inc()
		return false, nil
	}

	return true, m.riskRepo.Save(ctx, rt)
}

// RecordDeposit учитывает пополнение: депозит не должен читаться
// как прибыль, поэтому сумма добавляется и к пику, и к текущему балансу
func (m *UserRiskManager) RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	rt.CurrentBalanceUSD = rt.CurrentBalanceUSD.Add(amount)
	if rt.HasPeak {
		rt.PeakBalanceUSD = rt.PeakBalanceUSD.Add(amount)
	} else {
		rt.PeakBalanceUSD = rt.CurrentBalanceUSD
		rt.HasPeak = true
	}
	return m.riskRepo.Save(ctx, rt)
}

// RecordWithdrawal учитывает вывод: вывод не должен читаться как убыток.
// Пик масштабируется пропорционально balance_after / balance_before,
// текущий баланс устанавливается напрямую.
func (m *UserRiskManager) RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	before := rt.CurrentBalanceUSD
	after := before.Sub(amount)
	if after.IsNegative() {
		return models.NewEngineError(models.ErrKindValidation, models.StagePreflight,
			fmt.Sprintf("withdrawal %s exceeds balance %s", amount.StringFixed(2), before.StringFixed(2)), nil)
	}

	if rt.HasPeak && before.IsPositive() {
		rt.PeakBalanceUSD = rt.PeakBalanceUSD.Mul(after).Div(before)
	}
	rt.CurrentBalanceUSD = after
	return m.riskRepo.Save(ctx, rt)
}

// CanTrade проверяет дневной лимит сделок пользователя.
// Счётчик сбрасывается при смене торговой даты.
func (m *UserRiskManager) CanTrade(ctx context.Context, userID int, now time.Time) (bool, string, error) {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return false, "", err
	}

	count := rt.DailyTradeCount
	if rt.DailyTradeDate != utils.TradeDate(now) {
		count = 0
	}
	if count >= m.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d/%d)", count, m.cfg.MaxDailyTrades), nil
	}
	return true, "", nil
}

// RecordTrade фиксирует успешно проведённую сделку:
// инкремент дневного счётчика (с ротацией даты) и сброс серии неудач
func (m *UserRiskManager) RecordTrade(ctx context.Context, userID int, now time.Time) error {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	today := utils.TradeDate(now)
	if rt.DailyTradeDate != today {
		rt.DailyTradeDate = today
		rt.DailyTradeCount = 0
	}
	rt.DailyTradeCount++
	rt.ConsecutiveFailures = 0
	rt.LastFailureReason = ""
	return m.riskRepo.Save(ctx, rt)
}

// RecordSuccess сбрасывает серию неудач без учёта сделки
func (m *UserRiskManager) RecordSuccess(ctx context.Context, userID int) error {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	if rt.ConsecutiveFailures == 0 {
		return nil
	}
	rt.ConsecutiveFailures = 0
	rt.LastFailureReason = ""
	return m.riskRepo.Save(ctx, rt)
}

// RecordFailure фиксирует неудачу. При достижении порога серии
// ставится индивидуальная пауза; возвращается true ("breaker tripped"),
// чтобы вызывающий немедленно прекратил попытки для пользователя,
// не дожидаясь следующего цикла опроса.
func (m *UserRiskManager) RecordFailure(ctx context.Context, userID int, reason string) (bool, error) {
	rt, err := m.riskRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}

	rt.ConsecutiveFailures++
	rt.LastFailureReason = reason
	if err := m.riskRepo.Save(ctx, rt); err != nil {
		return false, err
	}

	if rt.ConsecutiveFailures >= m.cfg.MaxConsecutiveFails {
		pauseReason := fmt.Sprintf("%d consecutive failures, last: %s", rt.ConsecutiveFailures, reason)
		if err := m.pause.PauseUser(ctx, userID, pauseReason); err != nil {
			return true, err
		}
		m.log.Warn("failure streak breaker tripped",
			zap.Int("user_id", userID),
			zap.Int("failures", rt.ConsecutiveFailures),
			zap.String("last_reason", reason))
		return true, nil
	}
	return false, nil
}

// Status возвращает риск-состояние пользователя для API
func (m *UserRiskManager) Status(ctx context.Context, userID int) (*models.RiskTracking, error) {
	return m.riskRepo.GetOrCreate(ctx, userID)
}

func drawdownFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
