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
	"deltahedge/internal/venue"
)

var hundred = decimal.NewFromInt(100)

// AutoScanner - автономный планировщик входов, работающий независимо
// от пользовательских интентов.
//
// Каждый цикл: рыночные данные (funding всех отслеживаемых активов)
// запрашиваются один раз и переиспользуются для всех пользователей.
// Оценка каждого пользователя защищена advisory-локом уровня БД:
// два пересекающихся цикла (или две реплики сервиса) не могут
// дважды войти за одного пользователя; занятый лок означает пропуск
// пользователя в этом цикле, не ожидание. Исключение при оценке
// одного пользователя логируется и не прерывает цикл для остальных.
type AutoScanner struct {
	strategies *repository.StrategyRepository
	positions  *repository.PositionRepository
	locker     *repository.AdvisoryLocker

	perp    venue.PerpVenue
	lending venue.LendingVenue
	pause   *PauseController
	risk    *UserRiskManager
	creds   *CredentialSource
	runner  *JobRunner

	trackedAssets []string
	log           *zap.Logger
}

// NewAutoScanner создаёт автономный сканер
func NewAutoScanner(
	strategies *repository.StrategyRepository,
	positions *repository.PositionRepository,
	locker *repository.AdvisoryLocker,
	perp venue.PerpVenue,
	lending venue.LendingVenue,
	pause *PauseController,
	risk *UserRiskManager,
	creds *CredentialSource,
	runner *JobRunner,
	engineCfg config.EngineConfig,
	log *zap.Logger,
) *AutoScanner {
	return &AutoScanner{
		strategies:    strategies,
		positions:     positions,
		locker:        locker,
		perp:          perp,
		lending:       lending,
		pause:         pause,
		risk:          risk,
		creds:         creds,
		runner:        runner,
		trackedAssets: engineCfg.TrackedAssets,
		log:           log,
	}
}

// Scan выполняет один цикл автономного сканирования
func (s *AutoScanner) Scan(ctx context.Context) error {
	configs, err := s.strategies.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled strategies: %w", err)
	}
	if len(configs) == 0 {
		return nil
	}

	// Один запрос рыночных данных на цикл, для всех пользователей
	rates, err := s.perp.GetFundingRates(ctx)
	if err != nil {
		return fmt.Errorf("fetch funding rates: %w", err)
	}

	now := time.Now().UTC()
	for _, cfg := range configs {
		release, acquired, err := s.locker.TryLock(ctx, repository.LockClassAutoScan, cfg.UserID)
		if err != nil {
			s.log.Error("advisory lock failed",
				zap.Int("user_id", cfg.UserID), zap.Error(err))
			continue
		}
		if !acquired {
			// Лок держит пересекающийся цикл или другая реплика - пропуск
			s.log.Debug("user evaluation already in progress, skipping",
				zap.Int("user_id", cfg.UserID))
			continue
		}

		if err := s.evaluateUser(ctx, cfg, rates, now); err != nil {
			// Изоляция сбоев между пользователями
			s.log.Error("autonomous evaluation failed",
				zap.Int("user_id", cfg.UserID), zap.Error(err))
		}
		release()
	}
	return nil
}

// evaluateUser оценивает одного пользователя и открывает не более
// одной позиции за цикл - на первом подошедшем активе
func (s *AutoScanner) evaluateUser(ctx context.Context, cfg *models.StrategyConfig, rates map[string]venue.FundingInfo, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating user %d: %v", cfg.UserID, r)
		}
	}()

	// Жёсткие лимиты применяются независимо от сохранённой конфигурации
	cfg.Clamp()

	// Cooldown по снапшоту на момент закрытия, не по живому конфигу
	if !cfg.CooldownElapsed(now) {
		return nil
	}

	if blocked, _, err := s.pause.IsBlocked(ctx, cfg.UserID, models.PauseScopeEntry); err != nil {
		return err
	} else if blocked {
		return nil
	}

	openCount, err := s.positions.CountOpenByUser(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	if openCount >= cfg.MaxConcurrentPositions {
		return nil
	}

	if ok, _, err := s.risk.CanTrade(ctx, cfg.UserID, now); err != nil {
		return err
	} else if !ok {
		return nil
	}

	auth, err := s.creds.Resolve(ctx, cfg.UserID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	balance, err := s.lending.GetBalance(ctx, auth.Lending)
	if err != nil {
		return fmt.Errorf("lending balance: %w", err)
	}

	// Просадка проверяется на свежем балансе; пробой ставит паузу
	if ok, err := s.risk.ObserveBalance(ctx, cfg.UserID, balance); err != nil {
		return err
	} else if !ok {
		return nil
	}

	sizeUSD := balance.Mul(cfg.SizePctOfBalance).Div(hundred)
	if !sizeUSD.IsPositive() {
		return nil
	}

	for _, asset := range s.trackedAssets {
		funding, ok := rates[asset]
		if !ok {
			continue
		}

		opp := models.NewOpportunity(cfg.UserID, asset, sizeUSD, cfg.MaxLeverage,
			funding.Rate, funding.Volatility, models.OpportunitySourceAutonomous)
		if !s.qualifies(cfg, funding, opp) {
			continue
		}

		s.log.Info("autonomous entry qualified",
			zap.Int("user_id", cfg.UserID),
			zap.String("asset", asset),
			zap.String("funding_rate", funding.Rate.String()),
			zap.String("est_carry_apy", opp.EstCarryAPY.StringFixed(2)),
		)

		if _, err := s.runner.RunOpenSync(ctx, opp); err != nil {
			if err == ErrOperationInProgress {
				return nil
			}
			return fmt.Errorf("autonomous open for %s: %w", asset, err)
		}
		AutonomousEntries.WithLabelValues(asset).Inc()
		return nil // не более одной позиции на пользователя за цикл
	}
	return nil
}

// qualifies проверяет критерии автономного входа:
// funding отрицательный и не менее экстремальный, чем порог;
// волатильность под потолком; оценка carry не ниже минимума.
func (s *AutoScanner) qualifies(cfg *models.StrategyConfig, funding venue.FundingInfo, opp models.Opportunity) bool {
	if !funding.Rate.IsNegative() {
		return false
	}
	if funding.Rate.Abs().LessThan(cfg.MinFundingRate.Abs()) {
		return false
	}
	if cfg.MaxFundingVolatility.IsPositive() && funding.Volatility.GreaterThan(cfg.MaxFundingVolatility) {
		return false
	}
	if opp.EstCarryAPY.LessThan(cfg.MinCarryAPY) {
		return false
	}
	return true
}
