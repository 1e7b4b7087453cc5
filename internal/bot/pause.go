package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// breakerDefault - поведение breaker'а по умолчанию.
// CooldownSeconds == 0 означает обязательное ручное разрешение.
type breakerDefault struct {
	Scope           string
	CooldownSeconds int
	AutoRecovery    bool
}

// Каталог circuit breaker'ов
var breakerDefaults = map[string]breakerDefault{
	models.BreakerHealthFactor:   {Scope: models.PauseScopeAll, CooldownSeconds: 0, AutoRecovery: false},
	models.BreakerMargin:         {Scope: models.PauseScopeAll, CooldownSeconds: 0, AutoRecovery: false},
	models.BreakerNegativeYield:  {Scope: models.PauseScopeEntry, CooldownSeconds: 0, AutoRecovery: false},
	models.BreakerPriceDeviation: {Scope: models.PauseScopeEntry, CooldownSeconds: 1800, AutoRecovery: true},
	models.BreakerDepeg:          {Scope: models.PauseScopeAll, CooldownSeconds: 0, AutoRecovery: false},
	// Газ очищается вручную после падения цены ниже порога восстановления
	models.BreakerGasPrice:    {Scope: models.PauseScopeLending, CooldownSeconds: 0, AutoRecovery: false},
	models.BreakerVenueOutage: {Scope: models.PauseScopeAll, CooldownSeconds: 0, AutoRecovery: false},
}

// PauseController - процессный гейт торговых операций.
//
// Две оси паузы с OR-семантикой блокировки:
// глобальная пауза с областью действия (ALL блокирует всё,
// узкая область - только совпадающие категории) и индивидуальная
// пауза пользователя (строка в БД). Пользователь заблокирован,
// если хотя бы одна ось говорит "да"; ALL всегда побеждает.
//
// Явный компонент, инжектируется по ссылке во все воркеры -
// не глобальная переменная (тестируемость, нет скрытого состояния).
type PauseController struct {
	mu    sync.RWMutex
	state models.PauseState

	breakerRepo *repository.BreakerRepository
	riskRepo    *repository.RiskRepository
	log         *zap.Logger
}

// NewPauseController создаёт контроллер пауз
func NewPauseController(breakerRepo *repository.BreakerRepository, riskRepo *repository.RiskRepository, log *zap.Logger) *PauseController {
	return &PauseController{
		breakerRepo: breakerRepo,
		riskRepo:    riskRepo,
		log:         log,
	}
}

// Pause устанавливает глобальную паузу
func (p *PauseController) Pause(scope, reason, actor string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = models.PauseState{
		Paused:   true,
		Scope:    scope,
		Reason:   reason,
		Actor:    actor,
		PausedAt: time.Now().UTC(),
	}
	p.log.Warn("trading paused",
		zap.String("scope", scope),
		zap.String("reason", reason),
		zap.String("actor", actor),
	)
}

// Resume снимает глобальную паузу
func (p *PauseController) Resume(actor string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = models.PauseState{}
	p.log.Info("trading resumed", zap.String("actor", actor))
}

// State возвращает копию текущего состояния паузы
func (p *PauseController) State() models.PauseState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IsPaused проверяет глобальную ось для заданной области операции.
// Процесс на паузе для области iff scope == ALL
// или область активной паузы совпадает с запрошенной.
func (p *PauseController) IsPaused(scope string) (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.state.Paused {
		return false, ""
	}
	if p.state.Scope == models.PauseScopeAll || p.state.Scope == scope {
		return true, p.state.Reason
	}
	return false, ""
}

// IsBlocked объединяет обе оси: глобальную паузу и индивидуальную
// паузу пользователя. Возвращает причину блокировки.
func (p *PauseController) IsBlocked(ctx context.Context, userID int, scope string) (bool, string, error) {
	if paused, reason := p.IsPaused(scope); paused {
		return true, reason, nil
	}

	paused, err := p.riskRepo.IsPaused(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("check user pause for user %d: %w", userID, err)
	}
	if paused {
		rt, err := p.riskRepo.Get(ctx, userID)
		if err != nil {
			return true, "user paused", nil
		}
		return true, rt.PauseReason, nil
	}
	return false, "", nil
}

// PauseUser устанавливает индивидуальную паузу пользователя
func (p *PauseController) PauseUser(ctx context.Context, userID int, reason string) error {
	if err := p.riskRepo.SetPaused(ctx, userID, true, reason); err != nil {
		return fmt.Errorf("pause user %d: %w", userID, err)
	}
	p.log.Warn("user paused", zap.Int("user_id", userID), zap.String("reason", reason))
	return nil
}

// ResumeUser снимает индивидуальную паузу пользователя
func (p *PauseController) ResumeUser(ctx context.Context, userID int) error {
	if err := p.riskRepo.SetPaused(ctx, userID, false, ""); err != nil {
		return fmt.Errorf("resume user %d: %w", userID, err)
	}
	p.log.Info("user resumed", zap.Int("user_id", userID))
	return nil
}

// TriggerBreaker срабатывает circuit breaker: записывает событие
// и ставит глобальную паузу с областью breaker'а
func (p *PauseController) TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error) {
	def, ok := breakerDefaults[breakerType]
	if !ok {
		return nil, fmt.Errorf("unknown breaker type %q", breakerType)
	}

	ev := &models.CircuitBreakerEvent{
		BreakerType:     breakerType,
		Reason:          reason,
		Scope:           def.Scope,
		CooldownSeconds: def.CooldownSeconds,
		AutoRecovery:    def.AutoRecovery,
		TriggeredAt:     time.Now().UTC(),
	}
	if err := p.breakerRepo.Create(ctx, ev); err != nil {
		return nil, fmt.Errorf("record breaker event: %w", err)
	}

	BreakerTriggers.WithLabelValues(breakerType).Inc()
	p.Pause(def.Scope, fmt.Sprintf("%s: %s", breakerType, reason), "circuit-breaker")
	return ev, nil
}

// ResolveBreaker разрешает breaker; пауза снимается только если
// активных breaker'ов больше не осталось
func (p *PauseController) ResolveBreaker(ctx context.Context, id int, actor string) error {
	if err := p.breakerRepo.Resolve(ctx, id, actor); err != nil {
		return err
	}
	return p.clearPauseIfIdle(ctx, actor)
}

// Sweep разрешает breaker'ы, чьё время авто-восстановления прошло.
// Не самопланирующийся: вызывается воркером периодически.
func (p *PauseController) Sweep(ctx context.Context, now time.Time) (int, error) {
	active, err := p.breakerRepo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active breakers: %w", err)
	}

	resolved := 0
	for _, ev := range active {
		if !ev.RecoveryDue(now) {
			continue
		}
		if err := p.breakerRepo.Resolve(ctx, ev.ID, "auto-recovery"); err != nil {
			p.log.Error("failed to auto-resolve breaker",
				zap.Int("breaker_id", ev.ID),
				zap.String("type", ev.BreakerType),
				zap.Error(err))
			continue
		}
		p.log.Info("breaker auto-resolved",
			zap.Int("breaker_id", ev.ID),
			zap.String("type", ev.BreakerType))
		resolved++
	}

	if resolved > 0 {
		if err := p.clearPauseIfIdle(ctx, "auto-recovery"); err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}

// ActiveBreakers возвращает неразрешённые breaker'ы
func (p *PauseController) ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error) {
	return p.breakerRepo.ListActive(ctx)
}

// clearPauseIfIdle снимает глобальную паузу, если не осталось активных breaker'ов
func (p *PauseController) clearPauseIfIdle(ctx context.Context, actor string) error {
	active, err := p.breakerRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active breakers: %w", err)
	}
	if len(active) == 0 {
		p.Resume(actor)
	}
	return nil
}
