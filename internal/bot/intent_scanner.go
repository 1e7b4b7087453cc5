package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/venue"
)

// IntentScanner продвигает пользовательские интенты по жизненному циклу
// pending -> active -> {executed | cancelled | expired | failed}.
//
// Каждый цикл: интенты загружаются в порядке создания; истёкшие
// помечаются expired; pending переводятся в active; критерии входа
// оцениваются и полный снапшот проверок сохраняется независимо
// от исхода (аудит и UI). Исполнение идёт через PositionManager,
// переход в executed коммитится в одной транзакции со вставкой позиции.
// Сбой одного интента изолируется и не мешает остальным в цикле.
type IntentScanner struct {
	intents *repository.IntentRepository
	perp    venue.PerpVenue
	pause   *PauseController
	risk    *UserRiskManager
	runner  *JobRunner
	log     *zap.Logger
}

// NewIntentScanner создаёт сканер интентов
func NewIntentScanner(intents *repository.IntentRepository, perp venue.PerpVenue, pause *PauseController, risk *UserRiskManager, runner *JobRunner, log *zap.Logger) *IntentScanner {
	return &IntentScanner{
		intents: intents,
		perp:    perp,
		pause:   pause,
		risk:    risk,
		runner:  runner,
		log:     log,
	}
}

// Scan выполняет один цикл сканирования
func (s *IntentScanner) Scan(ctx context.Context) error {
	intents, err := s.intents.ListScannable(ctx)
	if err != nil {
		return fmt.Errorf("list scannable intents: %w", err)
	}
	if len(intents) == 0 {
		return nil
	}

	// Один запрос funding-состояния на цикл
	rates, err := s.perp.GetFundingRates(ctx)
	if err != nil {
		return fmt.Errorf("fetch funding rates: %w", err)
	}

	now := time.Now().UTC()
	for _, intent := range intents {
		if err := s.processIntent(ctx, intent, rates, now); err != nil {
			// Изоляция сбоев: логируем и идём к следующему интенту
			s.log.Error("intent processing failed",
				zap.Int("intent_id", intent.ID),
				zap.Int("user_id", intent.UserID),
				zap.String("asset", intent.Asset),
				zap.Error(err))
		}
	}
	return nil
}

// processIntent обрабатывает один интент в рамках цикла
func (s *IntentScanner) processIntent(ctx context.Context, intent *models.Intent, rates map[string]venue.FundingInfo, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing intent %d: %v", intent.ID, r)
		}
	}()

	// Истечение срока
	if intent.ExpiresAt != nil && now.After(*intent.ExpiresAt) {
		return s.intents.UpdateStatus(ctx, intent.ID, models.IntentStatusExpired)
	}

	// pending -> active
	if intent.Status == models.IntentStatusPending {
		if err := s.intents.UpdateStatus(ctx, intent.ID, models.IntentStatusActive); err != nil {
			return err
		}
	}

	funding, ok := rates[intent.Asset]
	if !ok {
		// Нет funding-данных по активу: снапшот с провалом, ждём следующего цикла
		snapshot := &models.CriteriaSnapshot{
			EvaluatedAt: now,
			Checks: []models.CriteriaCheck{{
				Name:   "funding_data",
				Passed: false,
				Reason: fmt.Sprintf("no funding data for asset %s", intent.Asset),
			}},
		}
		return s.intents.SaveSnapshot(ctx, intent.ID, snapshot)
	}

	markPrice, err := s.perp.GetMarkPrice(ctx, intent.Asset)
	if err != nil {
		return fmt.Errorf("mark price for %s: %w", intent.Asset, err)
	}

	snapshot := evaluateIntentCriteria(intent, funding, markPrice, now)
	if err := s.intents.SaveSnapshot(ctx, intent.ID, snapshot); err != nil {
		return err
	}
	IntentEvaluations.WithLabelValues(boolLabel(snapshot.AllPassed)).Inc()
	if !snapshot.AllPassed {
		return nil
	}

	// Пауза и риск-лимиты откладывают исполнение, но не сжигают интент:
	// он остаётся active до следующего цикла
	if blocked, reason, err := s.pause.IsBlocked(ctx, intent.UserID, models.PauseScopeEntry); err != nil {
		return err
	} else if blocked {
		s.log.Info("intent execution deferred: entry paused",
			zap.Int("intent_id", intent.ID),
			zap.Int("user_id", intent.UserID),
			zap.String("reason", reason))
		return nil
	}
	if ok, reason, err := s.risk.CanTrade(ctx, intent.UserID, now); err != nil {
		return err
	} else if !ok {
		s.log.Info("intent execution deferred: risk limit",
			zap.Int("intent_id", intent.ID),
			zap.Int("user_id", intent.UserID),
			zap.String("reason", reason))
		return nil
	}

	opp := models.NewOpportunity(intent.UserID, intent.Asset, intent.SizeUSD, intent.Leverage,
		funding.Rate, funding.Volatility, models.OpportunitySourceIntent).WithIntent(intent.ID)

	if _, err := s.runner.RunOpenSync(ctx, opp); err != nil {
		if err == ErrOperationInProgress {
			// Другая операция пользователя идёт: интент остаётся active
			return nil
		}
		var engineErr *models.EngineError
		if errors.As(err, &engineErr) && engineErr.Kind == models.ErrKindRiskRejected {
			// Пауза или риск-лимит сработали между проверкой и preflight:
			// откладываем, failed зарезервирован за реальными сбоями исполнения
			return nil
		}
		if merr := s.intents.MarkFailed(ctx, intent.ID, err.Error()); merr != nil {
			s.log.Error("failed to mark intent failed",
				zap.Int("intent_id", intent.ID), zap.Error(merr))
		}
		return fmt.Errorf("execute intent %d: %w", intent.ID, err)
	}
	// Переход в executed выполнен атомарно со вставкой позиции
	// (PositionManager.persistOpen)
	return nil
}

// evaluateIntentCriteria оценивает критерии входа интента.
// Funding обязан быть отрицательным (шортам платят); заданный минимум
// означает "не менее экстремально"; волатильность под потолком;
// текущая цена под опциональным потолком.
func evaluateIntentCriteria(intent *models.Intent, funding venue.FundingInfo, markPrice decimal.Decimal, now time.Time) *models.CriteriaSnapshot {
	snapshot := &models.CriteriaSnapshot{
		EvaluatedAt:       now,
		FundingRate:       funding.Rate,
		FundingVolatility: funding.Volatility,
		MarkPrice:         markPrice,
		AllPassed:         true,
	}
	add := func(name string, passed bool, reason string) {
		if passed {
			reason = ""
		}
		snapshot.Checks = append(snapshot.Checks, models.CriteriaCheck{Name: name, Passed: passed, Reason: reason})
		if !passed {
			snapshot.AllPassed = false
		}
	}

	add("funding_negative", funding.Rate.IsNegative(),
		fmt.Sprintf("funding rate %s is not negative", funding.Rate.String()))

	if intent.MinFundingRate != nil {
		// Порог задаётся отрицательным значением: текущий funding
		// должен быть не менее экстремальным (т.е. <= порога)
		add("funding_magnitude", funding.Rate.LessThanOrEqual(*intent.MinFundingRate),
			"funding rate above minimum magnitude threshold")
	}

	if intent.MaxFundingVolatility != nil {
		add("funding_volatility", funding.Volatility.LessThanOrEqual(*intent.MaxFundingVolatility),
			fmt.Sprintf("funding volatility %s above maximum %s",
				funding.Volatility.String(), intent.MaxFundingVolatility.String()))
	}

	if intent.MaxEntryPrice != nil {
		add("entry_price", markPrice.LessThanOrEqual(*intent.MaxEntryPrice),
			fmt.Sprintf("mark price %s above ceiling %s",
				markPrice.String(), intent.MaxEntryPrice.String()))
	}

	return snapshot
}

func boolLabel(b bool) string {
	if b {
		return "passed"
	}
	return "failed"
}
