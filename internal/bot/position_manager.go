package bot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"deltahedge/internal/config"
	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/venue"
	"deltahedge/pkg/retry"
	"deltahedge/pkg/utils"
)

// EventSink - интерфейс слоя уведомлений.
// Реализуется EventService (persist + WebSocket broadcast).
type EventSink interface {
	// Publish отправляет событие подписчикам. Не блокирует.
	Publish(ev *models.Event)
}

// PositionManager оркестрирует открытие и закрытие комбинированной
// позиции: последовательность двух ног с гарантией, что сбой второй
// ноги вызывает компенсирующий unwind первой.
type PositionManager struct {
	db         *sql.DB
	positions  *repository.PositionRepository
	intents    *repository.IntentRepository
	strategies *repository.StrategyRepository

	txExec    *TxExecutor
	lending   venue.LendingVenue
	perp      venue.PerpVenue
	consensus *ConsensusChecker
	pause     *PauseController
	risk      *UserRiskManager
	creds     *CredentialSource

	safetyBuffer decimal.Decimal // запас borrow capacity при выборе протокола
	events       EventSink
	log          *zap.Logger
}

// NewPositionManager создаёт оркестратор позиций
func NewPositionManager(
	db *sql.DB,
	positions *repository.PositionRepository,
	intents *repository.IntentRepository,
	strategies *repository.StrategyRepository,
	txExec *TxExecutor,
	lending venue.LendingVenue,
	perp venue.PerpVenue,
	consensus *ConsensusChecker,
	pause *PauseController,
	risk *UserRiskManager,
	creds *CredentialSource,
	riskCfg config.RiskConfig,
	events EventSink,
	log *zap.Logger,
) *PositionManager {
	return &PositionManager{
		db:           db,
		positions:    positions,
		intents:      intents,
		strategies:   strategies,
		txExec:       txExec,
		lending:      lending,
		perp:         perp,
		consensus:    consensus,
		pause:        pause,
		risk:         risk,
		creds:        creds,
		safetyBuffer: decimal.NewFromFloat(riskCfg.BorrowSafetyBuffer),
		events:       events,
		log:          log,
	}
}

// Open открывает комбинированную позицию по каноническому Opportunity.
//
// Последовательность: preflight (без on-chain действий) -> длинная нога
// (state machine) -> короткая нога. Сбой длинной ноги прерывает операцию
// без отката (короткой ноги ещё нет). Сбой короткой ноги запускает
// unwind длинной ноги ровно один раз; исход unwind'а фиксируется.
// Если opp привязан к интенту, вставка позиции и пометка интента
// executed коммитятся в одной транзакции БД.
func (pm *PositionManager) Open(ctx context.Context, opp models.Opportunity) (*models.Position, error) {
	// ---------- preflight ----------
	auth, market, consensusRes, err := pm.preflight(ctx, opp)
	if err != nil {
		return nil, err
	}

	collateral := opp.SizeUSD
	borrowed := opp.SizeUSD.Mul(opp.Leverage.Sub(decimal.NewFromInt(1)))
	notional := opp.SizeUSD.Mul(opp.Leverage)
	maxBuy, minSell := pm.consensus.WorstCasePair(consensusRes.LendingPrice)

	// ---------- длинная нога ----------
	_, err = pm.txExec.Execute(ctx, auth.Lending, venue.TxParams{
		Action:        "open_long",
		Protocol:      market.Protocol,
		Asset:         opp.Asset,
		CollateralUSD: collateral,
		BorrowUSD:     borrowed,
		MaxPrice:      maxBuy,
	})
	if err != nil {
		pm.recordFailure(ctx, opp.UserID, fmt.Sprintf("long leg open failed: %v", err))
		return nil, models.NewEngineError(models.ErrKindVenueAPI, models.StageLongLeg,
			fmt.Sprintf("open long leg on %s", market.Protocol), err)
	}

	// ---------- короткая нога ----------
	order, err := pm.perp.OpenShort(ctx, auth.Perp, opp.Asset, notional, minSell)
	if err != nil {
		return nil, pm.unwindLong(ctx, auth, opp, market, collateral, borrowed, err)
	}

	// ---------- персист ----------
	now := time.Now().UTC()
	position := &models.Position{
		UserID:   opp.UserID,
		Asset:    opp.Asset,
		Leverage: opp.Leverage,
		LongLeg: &models.LongLeg{
			Protocol:      market.Protocol,
			CollateralUSD: collateral,
			BorrowedUSD:   borrowed,
			EntryPrice:    consensusRes.LendingPrice,
			MarkPrice:     consensusRes.LendingPrice,
		},
		ShortLeg: &models.ShortLeg{
			NotionalUSD:    order.NotionalUSD,
			MarginUSD:      order.MarginUSD,
			MarginFraction: order.MarginFraction,
			EntryPrice:     order.AvgFillPrice,
			MarkPrice:      order.AvgFillPrice,
		},
		Status:   models.PositionStatusOpen,
		OpenedAt: now,
	}

	if err := pm.persistOpen(ctx, position, opp); err != nil {
		// Обе ноги открыты, но запись не удалась: позиция существует
		// на венью, оператору нужен сигнал
		pm.log.Error("failed to persist opened position",
			zap.Int("user_id", opp.UserID),
			zap.String("asset", opp.Asset),
			zap.Error(err))
		return nil, models.NewEngineError(models.ErrKindInternal, models.StageUnknown,
			"position opened on both venues but persistence failed", err)
	}

	if err := pm.risk.RecordTrade(ctx, opp.UserID, now); err != nil {
		pm.log.Error("failed to record trade", zap.Int("user_id", opp.UserID), zap.Error(err))
	}

	PositionsOpened.WithLabelValues(opp.Asset, opp.Source).Inc()
	pm.publish(models.EventTypePositionOpened, models.SeverityInfo, opp.UserID,
		fmt.Sprintf("position opened: %s x%s, size %s USD via %s",
			opp.Asset, opp.Leverage.String(), opp.SizeUSD.StringFixed(2), market.Protocol),
		map[string]interface{}{
			"position_id": position.ID,
			"asset":       opp.Asset,
			"leverage":    opp.Leverage.String(),
			"size_usd":    opp.SizeUSD.String(),
			"protocol":    market.Protocol,
			"source":      opp.Source,
		})

	pm.log.Info("position opened",
		zap.Int("position_id", position.ID),
		zap.Int("user_id", opp.UserID),
		zap.String("asset", opp.Asset),
		zap.String("protocol", market.Protocol),
		zap.String("source", opp.Source),
	)
	return position, nil
}

// preflight выполняет все проверки до каких-либо on-chain действий.
// Любой отказ возвращается немедленно и без побочных эффектов.
func (pm *PositionManager) preflight(ctx context.Context, opp models.Opportunity) (*UserAuth, *venue.LendingMarket, *ConsensusResult, error) {
	fail := func(kind, msg string, err error) (*UserAuth, *venue.LendingMarket, *ConsensusResult, error) {
		return nil, nil, nil, models.NewEngineError(kind, models.StagePreflight, msg, err)
	}

	if err := utils.ValidateAsset(opp.Asset); err != nil {
		return fail(models.ErrKindValidation, "invalid asset", err)
	}
	if err := utils.ValidateLeverage(opp.Leverage, models.HardMaxLeverage); err != nil {
		return fail(models.ErrKindValidation, "invalid leverage", err)
	}
	if err := utils.ValidateSizeUSD(opp.SizeUSD); err != nil {
		return fail(models.ErrKindValidation, "invalid size", err)
	}

	if blocked, reason, err := pm.pause.IsBlocked(ctx, opp.UserID, models.PauseScopeEntry); err != nil {
		return fail(models.ErrKindInternal, "pause check failed", err)
	} else if blocked {
		return fail(models.ErrKindRiskRejected, "trading paused: "+reason, nil)
	}

	if ok, reason, err := pm.risk.CanTrade(ctx, opp.UserID, time.Now().UTC()); err != nil {
		return fail(models.ErrKindInternal, "risk check failed", err)
	} else if !ok {
		return fail(models.ErrKindRiskRejected, reason, nil)
	}

	auth, err := pm.creds.Resolve(ctx, opp.UserID)
	if err != nil {
		return fail(models.ErrKindValidation, "venue credentials unavailable", err)
	}

	balance, err := pm.lending.GetBalance(ctx, auth.Lending)
	if err != nil {
		return fail(models.ErrKindVenueAPI, "lending balance check failed", err)
	}
	if balance.LessThan(opp.SizeUSD) {
		return fail(models.ErrKindInsufficientFunds,
			fmt.Sprintf("balance %s USD below required collateral %s USD",
				balance.StringFixed(2), opp.SizeUSD.StringFixed(2)), nil)
	}

	consensusRes, err := pm.consensus.Check(ctx, opp.Asset)
	if err != nil {
		return fail(models.ErrKindVenueAPI, "price consensus check failed", err)
	}
	if !consensusRes.OK {
		reason := fmt.Sprintf("price deviation %s%% between venues (%s higher)",
			consensusRes.DeviationPct.StringFixed(3), consensusRes.HigherSide)
		if _, berr := pm.pause.TriggerBreaker(ctx, models.BreakerPriceDeviation, reason); berr != nil {
			pm.log.Error("failed to trigger price deviation breaker", zap.Error(berr))
		}
		return fail(models.ErrKindRiskRejected, reason, nil)
	}

	markets, err := pm.lending.GetMarkets(ctx, opp.Asset)
	if err != nil {
		return fail(models.ErrKindVenueAPI, "lending markets unavailable", err)
	}
	requiredBorrow := opp.SizeUSD.Mul(opp.Leverage.Sub(decimal.NewFromInt(1)))
	market, err := SelectLendingSource(markets, opp.Leverage, requiredBorrow, pm.safetyBuffer)
	if err != nil {
		return fail(models.ErrKindRiskRejected, "no eligible lending source", err)
	}

	return auth, market, consensusRes, nil
}

// unwindLong откатывает уже открытую длинную ногу после сбоя короткой.
// Попытка делается ровно один раз; исход определяет вид ошибки:
// успешный unwind - "не открылась", неуспешный - asymmetric,
// требуется ручное вмешательство (не ретраится молча).
func (pm *PositionManager) unwindLong(ctx context.Context, auth *UserAuth, opp models.Opportunity, market *venue.LendingMarket, collateral, borrowed decimal.Decimal, shortErr error) error {
	pm.log.Warn("short leg failed, unwinding long leg",
		zap.Int("user_id", opp.UserID),
		zap.String("asset", opp.Asset),
		zap.Error(shortErr))

	UnwindAttempts.Inc()
	_, unwindErr := pm.txExec.Execute(ctx, auth.Lending, venue.TxParams{
		Action:        "close_long",
		Protocol:      market.Protocol,
		Asset:         opp.Asset,
		CollateralUSD: collateral,
		BorrowUSD:     borrowed,
	})

	pm.recordFailure(ctx, opp.UserID, fmt.Sprintf("short leg open failed: %v", shortErr))

	if unwindErr != nil {
		UnwindFailures.Inc()
		pm.publish(models.EventTypeAsymmetric, models.SeverityError, opp.UserID,
			fmt.Sprintf("short leg failed AND long leg unwind failed for %s: manual intervention required", opp.Asset),
			map[string]interface{}{
				"asset":      opp.Asset,
				"short_err":  shortErr.Error(),
				"unwind_err": unwindErr.Error(),
			})
		return models.NewEngineError(models.ErrKindAsymmetric, models.StageUnwind,
			fmt.Sprintf("short leg failed (%v) and long leg unwind also failed", shortErr), unwindErr)
	}

	pm.publish(models.EventTypeUnwind, models.SeverityWarn, opp.UserID,
		fmt.Sprintf("short leg failed for %s, long leg unwound", opp.Asset),
		map[string]interface{}{"asset": opp.Asset, "short_err": shortErr.Error()})
	return models.NewEngineError(models.ErrKindVenueAPI, models.StageShortLeg,
		"open short leg (long leg unwound)", shortErr)
}

// persistOpen сохраняет позицию. Для интент-исполнения вставка позиции
// и пометка интента executed видимы атомарно (одна транзакция).
func (pm *PositionManager) persistOpen(ctx context.Context, position *models.Position, opp models.Opportunity) error {
	if opp.IntentID == nil {
		return pm.positions.Create(ctx, position)
	}
	return repository.Atomic(ctx, pm.db, func(tx *sql.Tx) error {
		if err := pm.positions.CreateTx(ctx, tx, position); err != nil {
			return err
		}
		return pm.intents.MarkExecutedTx(ctx, tx, *opp.IntentID, position.ID)
	})
}

// Close закрывает комбинированную позицию.
//
// Порядок симметрично обратный открытию: сначала короткая нога
// (perp закрывается быстрее и дешевле on-chain расчёта), затем длинная.
// Сбой длинной ноги после закрытой короткой оставляет позицию
// в состоянии asymmetric - она репортится, а не помечается закрытой.
func (pm *PositionManager) Close(ctx context.Context, userID, positionID int) (*models.Position, error) {
	if blocked, reason, err := pm.pause.IsBlocked(ctx, userID, models.PauseScopeExit); err != nil {
		return nil, models.NewEngineError(models.ErrKindInternal, models.StagePreflight, "pause check failed", err)
	} else if blocked {
		return nil, models.NewEngineError(models.ErrKindRiskRejected, models.StagePreflight, "trading paused: "+reason, nil)
	}

	position, err := pm.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, models.NewEngineError(models.ErrKindPositionNotFound, models.StagePreflight, "position lookup failed", err)
	}
	if position.UserID != userID {
		return nil, models.NewEngineError(models.ErrKindPositionNotFound, models.StagePreflight,
			fmt.Sprintf("position %d does not belong to user %d", positionID, userID), nil)
	}
	if position.Status != models.PositionStatusOpen {
		return nil, models.NewEngineError(models.ErrKindPositionNotFound, models.StagePreflight,
			fmt.Sprintf("position %d is %s, not open", positionID, position.Status), nil)
	}

	auth, err := pm.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, models.NewEngineError(models.ErrKindValidation, models.StagePreflight, "venue credentials unavailable", err)
	}

	// Короткая нога первой, с расширенными ретраями на закрытие
	closeOrder, err := retry.DoWithResult(ctx, func() (*venue.PerpOrder, error) {
		return pm.perp.CloseShort(ctx, auth.Perp, position.Asset)
	}, retry.CloseConfig())
	if err != nil {
		pm.recordFailure(ctx, userID, fmt.Sprintf("short leg close failed: %v", err))
		return nil, models.NewEngineError(models.ErrKindVenueAPI, models.StageShortLeg, "close short leg", err)
	}

	// Длинная нога
	_, err = pm.txExec.Execute(ctx, auth.Lending, venue.TxParams{
		Action:        "close_long",
		Protocol:      position.LongLeg.Protocol,
		Asset:         position.Asset,
		CollateralUSD: position.LongLeg.CollateralUSD,
		BorrowUSD:     position.LongLeg.BorrowedUSD,
	})
	if err != nil {
		// Короткая закрыта, длинная осталась: asymmetric
		if merr := pm.positions.MarkAsymmetric(ctx, positionID); merr != nil {
			pm.log.Error("failed to mark position asymmetric",
				zap.Int("position_id", positionID), zap.Error(merr))
		}
		pm.publish(models.EventTypeAsymmetric, models.SeverityError, userID,
			fmt.Sprintf("short leg closed but long leg close failed for position %d: manual intervention required", positionID),
			map[string]interface{}{"position_id": positionID, "asset": position.Asset, "error": err.Error()})
		pm.recordFailure(ctx, userID, fmt.Sprintf("long leg close failed: %v", err))
		return nil, models.NewEngineError(models.ErrKindAsymmetric, models.StageLongLeg,
			"short leg closed but long leg close failed", err)
	}

	totalPnl := realizedPnl(position, closeOrder.AvgFillPrice)
	if err := pm.positions.Close(ctx, positionID, totalPnl); err != nil {
		return nil, models.NewEngineError(models.ErrKindInternal, models.StageUnknown, "persist close failed", err)
	}

	now := time.Now().UTC()
	// Снапшот cooldown на момент закрытия: анти-обход редактирования конфига
	if err := pm.strategies.SetCooldownAtClose(ctx, userID, now); err != nil && err != repository.ErrStrategyNotFound {
		pm.log.Error("failed to snapshot cooldown at close", zap.Int("user_id", userID), zap.Error(err))
	}
	if err := pm.risk.RecordSuccess(ctx, userID); err != nil {
		pm.log.Error("failed to record success", zap.Int("user_id", userID), zap.Error(err))
	}

	position.Status = models.PositionStatusClosed
	position.TotalPnl = totalPnl
	position.ClosedAt = &now

	PositionsClosed.WithLabelValues(position.Asset).Inc()
	pm.publish(models.EventTypePositionClosed, models.SeverityInfo, userID,
		fmt.Sprintf("position %d closed, PnL %s USD", positionID, totalPnl.StringFixed(2)),
		map[string]interface{}{
			"position_id": positionID,
			"asset":       position.Asset,
			"total_pnl":   totalPnl.String(),
		})

	pm.log.Info("position closed",
		zap.Int("position_id", positionID),
		zap.Int("user_id", userID),
		zap.String("total_pnl", totalPnl.StringFixed(2)),
	)
	return position, nil
}

// realizedPnl оценивает реализованный PnL по цене закрытия короткой ноги.
// Длинная нога: изменение стоимости экспозиции collateral+borrowed.
// Короткая нога: notional * (entry - exit) / entry.
func realizedPnl(p *models.Position, exitPrice decimal.Decimal) decimal.Decimal {
	var pnl decimal.Decimal
	if p.LongLeg != nil && p.LongLeg.EntryPrice.IsPositive() {
		exposure := p.LongLeg.CollateralUSD.Add(p.LongLeg.BorrowedUSD)
		pnl = pnl.Add(exposure.Mul(exitPrice.Sub(p.LongLeg.EntryPrice)).Div(p.LongLeg.EntryPrice))
	}
	if p.ShortLeg != nil && p.ShortLeg.EntryPrice.IsPositive() {
		pnl = pnl.Add(p.ShortLeg.NotionalUSD.Mul(p.ShortLeg.EntryPrice.Sub(exitPrice)).Div(p.ShortLeg.EntryPrice))
	}
	return pnl
}

// recordFailure инкрементирует серию неудач пользователя
func (pm *PositionManager) recordFailure(ctx context.Context, userID int, reason string) {
	if _, err := pm.risk.RecordFailure(ctx, userID, reason); err != nil {
		pm.log.Error("failed to record failure", zap.Int("user_id", userID), zap.Error(err))
	}
}

// publish отправляет событие, если sink подключён
func (pm *PositionManager) publish(eventType, severity string, userID int, message string, meta map[string]interface{}) {
	if pm.events == nil {
		return
	}
	uid := userID
	pm.events.Publish(&models.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		UserID:    &uid,
		Message:   message,
		Meta:      meta,
	})
}
