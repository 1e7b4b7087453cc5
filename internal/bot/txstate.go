package bot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// ValidTxTransitions определяет допустимые переходы состояний on-chain транзакции.
// Переходы строго вперёд, без пропуска промежуточных состояний.
// TxStateFailed достижимо из любого нетерминального состояния (см. CanTransitionTx).
var ValidTxTransitions = map[string][]string{
	models.TxStateBuilding:   {models.TxStateBuilt},
	models.TxStateBuilt:      {models.TxStateSigning},
	models.TxStateSigning:    {models.TxStateSigned},
	models.TxStateSigned:     {models.TxStateSubmitting},
	models.TxStateSubmitting: {models.TxStateSubmitted},
	// SUBMITTED -> SUBMITTING разрешён: resubmit зависшей транзакции
	// со свежим blockhash даёт новую подпись под тем же intent_id
	models.TxStateSubmitted: {models.TxStateConfirmed, models.TxStateSubmitting},
}

// CanTransitionTx проверяет допустимость перехода
func CanTransitionTx(from, to string) bool {
	if models.IsTerminalTxState(from) {
		return false
	}
	if to == models.TxStateFailed {
		// Явный выход в FAILED из любого нетерминального состояния
		return true
	}
	allowed, ok := ValidTxTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TxStateMachine управляет жизненным циклом on-chain транзакций.
// Каждый переход персистится, чтобы процесс мог продолжить
// с последнего известного состояния после рестарта.
type TxStateMachine struct {
	repo *repository.TxIntentRepository
	log  *zap.Logger
}

// NewTxStateMachine создаёт state machine поверх репозитория
func NewTxStateMachine(repo *repository.TxIntentRepository, log *zap.Logger) *TxStateMachine {
	return &TxStateMachine{repo: repo, log: log}
}

// Begin создаёт новый intent в состоянии BUILDING
func (sm *TxStateMachine) Begin(ctx context.Context, intentID string, metadata map[string]string) (*models.TxIntent, error) {
	intent := &models.TxIntent{
		IntentID: intentID,
		State:    models.TxStateBuilding,
		Metadata: metadata,
	}
	if err := sm.repo.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("create tx intent %s: %w", intentID, err)
	}
	return intent, nil
}

// Transition переводит intent в новое состояние с валидацией порядка.
// signature/errMsg/metadata опциональны: пустые значения не затирают
// ранее сохранённые (см. TxIntentRepository.UpdateState).
func (sm *TxStateMachine) Transition(ctx context.Context, intentID, newState, signature, errMsg string, metadata map[string]string) error {
	current, err := sm.repo.GetByID(ctx, intentID)
	if err != nil {
		return err
	}

	if !CanTransitionTx(current.State, newState) {
		return fmt.Errorf("invalid tx transition %s -> %s for intent %s", current.State, newState, intentID)
	}

	if err := sm.repo.UpdateState(ctx, intentID, newState, signature, errMsg, metadata); err != nil {
		return fmt.Errorf("persist tx transition %s -> %s: %w", current.State, newState, err)
	}

	sm.log.Debug("tx state transition",
		zap.String("intent_id", intentID),
		zap.String("from", current.State),
		zap.String("to", newState),
	)
	return nil
}

// Fail переводит intent в терминальное FAILED с причиной
func (sm *TxStateMachine) Fail(ctx context.Context, intentID, reason string) error {
	return sm.Transition(ctx, intentID, models.TxStateFailed, "", reason, nil)
}

// GetState возвращает текущую запись intent'а или ErrTxIntentNotFound
func (sm *TxStateMachine) GetState(ctx context.Context, intentID string) (*models.TxIntent, error) {
	return sm.repo.GetByID(ctx, intentID)
}
