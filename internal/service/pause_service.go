package service

import (
	"context"
	"errors"

	"deltahedge/internal/models"
)

// Ошибки сервиса паузы
var (
	ErrUnknownScope = errors.New("unknown pause scope")
	ErrEmptyReason  = errors.New("pause reason is required")
)

// PauseService предоставляет бизнес-логику для глобальной паузы
// и circuit breaker'ов. Операции предназначены для админского API.
type PauseService struct {
	pause    PauseControllerInterface
	breakers BreakerRepositoryInterface
}

// NewPauseService создает новый экземпляр PauseService
func NewPauseService(pause PauseControllerInterface, breakers BreakerRepositoryInterface) *PauseService {
	return &PauseService{pause: pause, breakers: breakers}
}

// Pause включает глобальную паузу в заданной области
func (s *PauseService) Pause(scope, reason, actor string) (models.PauseState, error) {
	switch scope {
	case models.PauseScopeAll, models.PauseScopeEntry, models.PauseScopeExit,
		models.PauseScopeLending, models.PauseScopePerp:
	case "":
		scope = models.PauseScopeAll
	default:
		return models.PauseState{}, ErrUnknownScope
	}
	if reason == "" {
		return models.PauseState{}, ErrEmptyReason
	}
	s.pause.Pause(scope, reason, actor)
	return s.pause.State(), nil
}

// Resume снимает глобальную паузу
func (s *PauseService) Resume(actor string) models.PauseState {
	s.pause.Resume(actor)
	return s.pause.State()
}

// State возвращает текущее состояние паузы
func (s *PauseService) State() models.PauseState {
	return s.pause.State()
}

// TriggerBreaker вручную срабатывает breaker из каталога
func (s *PauseService) TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error) {
	if reason == "" {
		return nil, ErrEmptyReason
	}
	return s.pause.TriggerBreaker(ctx, breakerType, reason)
}

// ResolveBreaker закрывает активный breaker
func (s *PauseService) ResolveBreaker(ctx context.Context, id int, actor string) error {
	return s.pause.ResolveBreaker(ctx, id, actor)
}

// ActiveBreakers возвращает незакрытые breaker'ы
func (s *PauseService) ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error) {
	return s.pause.ActiveBreakers(ctx)
}

// BreakerHistory возвращает историю срабатываний (новые первыми)
func (s *PauseService) BreakerHistory(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error) {
	return s.breakers.History(ctx, clampLimit(limit))
}
