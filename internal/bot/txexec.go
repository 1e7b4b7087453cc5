package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/venue"
	"deltahedge/pkg/retry"
)

// Интервал опроса статуса транзакции в ожидании подтверждения
const confirmPollInterval = 2 * time.Second

// Максимум пересборок зависшей транзакции в рамках одного intent'а
const maxResubmits = 3

// TxExecutor проводит одну on-chain транзакцию длинной ноги через
// полный цикл build -> sign -> submit -> confirm поверх state machine.
//
// Восстановление зависших транзакций: если транзакция остаётся в
// SIGNED/SUBMITTED дольше stuckTimeout без CONFIRMED, executor
// запрашивает статус по подписи; если транзакция села - CONFIRMED,
// если сеть вернула ошибку - FAILED, иначе считаем её потерянной
// и пересобираем со свежим blockhash под тем же intent_id
// (новая подпись, не новый intent).
type TxExecutor struct {
	sm           *TxStateMachine
	lending      venue.LendingVenue
	stuckTimeout time.Duration
	log          *zap.Logger
}

// NewTxExecutor создаёт executor
func NewTxExecutor(sm *TxStateMachine, lending venue.LendingVenue, stuckTimeout time.Duration, log *zap.Logger) *TxExecutor {
	return &TxExecutor{
		sm:           sm,
		lending:      lending,
		stuckTimeout: stuckTimeout,
		log:          log,
	}
}

// Execute выполняет транзакцию от создания intent'а до подтверждения.
// Возвращает финальную подпись транзакции.
func (e *TxExecutor) Execute(ctx context.Context, auth venue.Auth, params venue.TxParams) (string, error) {
	intentID := uuid.NewString()

	metadata := map[string]string{
		"action":         params.Action,
		"protocol":       params.Protocol,
		"asset":          params.Asset,
		"collateral_usd": params.CollateralUSD.String(),
		"borrow_usd":     params.BorrowUSD.String(),
	}
	if _, err := e.sm.Begin(ctx, intentID, metadata); err != nil {
		return "", err
	}

	signature, err := e.runLifecycle(ctx, intentID, auth, params)
	if err != nil {
		// Терминальный FAILED пишем всегда, даже при отмене контекста
		failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := e.sm.Fail(failCtx, intentID, err.Error()); ferr != nil {
			e.log.Error("failed to mark tx intent failed",
				zap.String("intent_id", intentID), zap.Error(ferr))
		}
		return "", err
	}
	return signature, nil
}

// runLifecycle проводит intent через все состояния до CONFIRMED.
// Первый проход идёт через полный порядок BUILDING -> ... -> SUBMITTED;
// каждый resubmit зависшей транзакции фиксируется как
// SUBMITTED -> SUBMITTING -> SUBMITTED (пересборка и переподпись
// выполняются внутри, intent_id не меняется, подпись новая).
func (e *TxExecutor) runLifecycle(ctx context.Context, intentID string, auth venue.Auth, params venue.TxParams) (string, error) {
	// build: свежий blockhash
	signed, err := e.buildAndSign(ctx, intentID, auth, params, true)
	if err != nil {
		return "", err
	}

	var signature string
	for attempt := 0; attempt <= maxResubmits; attempt++ {
		if err := e.sm.Transition(ctx, intentID, models.TxStateSubmitting, "", "", nil); err != nil {
			return "", err
		}
		result, err := retry.DoWithResult(ctx, func() (*venue.SubmitResult, error) {
			return e.lending.Submit(ctx, signed)
		}, retry.SubmitConfig())
		if err != nil {
			return "", fmt.Errorf("submit transaction: %w", err)
		}
		signature = result.Signature
		if err := e.sm.Transition(ctx, intentID, models.TxStateSubmitted, signature, "", nil); err != nil {
			return "", err
		}

		confirmed := result.Confirmed
		if !confirmed {
			var onchainErr string
			confirmed, onchainErr, err = e.awaitConfirmation(ctx, signature)
			if err != nil {
				return "", err
			}
			if onchainErr != "" {
				return "", fmt.Errorf("transaction %s failed on-chain: %s", signature, onchainErr)
			}
		}
		if confirmed {
			if err := e.sm.Transition(ctx, intentID, models.TxStateConfirmed, signature, "", nil); err != nil {
				return "", err
			}
			return signature, nil
		}

		// Не села и не упала: считаем потерянной, пересобираем
		// со свежим blockhash под тем же intent_id
		e.log.Warn("transaction stuck, rebuilding with fresh blockhash",
			zap.String("intent_id", intentID),
			zap.String("signature", signature),
			zap.Int("attempt", attempt+1),
		)
		signed, err = e.buildAndSign(ctx, intentID, auth, params, false)
		if err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("transaction dropped after %d resubmits, last signature %s", maxResubmits, signature)
}

// buildAndSign собирает и подписывает транзакцию.
// recordStates=true фиксирует промежуточные состояния в state machine
// (только первый проход: на resubmit порядок состояний уже пройден).
func (e *TxExecutor) buildAndSign(ctx context.Context, intentID string, auth venue.Auth, params venue.TxParams, recordStates bool) (*venue.SignedTx, error) {
	unsigned, err := e.lending.BuildTransaction(ctx, intentID, params)
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if recordStates {
		if err := e.sm.Transition(ctx, intentID, models.TxStateBuilt, "", "", nil); err != nil {
			return nil, err
		}
		if err := e.sm.Transition(ctx, intentID, models.TxStateSigning, "", "", nil); err != nil {
			return nil, err
		}
	}
	signed, err := e.lending.Sign(ctx, auth, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if recordStates {
		if err := e.sm.Transition(ctx, intentID, models.TxStateSigned, "", "", nil); err != nil {
			return nil, err
		}
	}
	return signed, nil
}

// awaitConfirmation опрашивает статус транзакции до stuckTimeout.
// Возвращает (confirmed, on-chain ошибка, transport ошибка).
func (e *TxExecutor) awaitConfirmation(ctx context.Context, signature string) (bool, string, error) {
	deadline := time.Now().Add(e.stuckTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, "", ctx.Err()
		case <-ticker.C:
			status, err := e.lending.GetTransactionStatus(ctx, signature)
			if err != nil {
				// Временная недоступность статуса не фатальна до дедлайна
				if time.Now().After(deadline) {
					return false, "", nil
				}
				continue
			}
			if status.Found && status.Err != "" {
				return false, status.Err, nil
			}
			if status.Found && status.Confirmed {
				return true, "", nil
			}
			if time.Now().After(deadline) {
				return false, "", nil
			}
		}
	}
}

// SweepStuck адъюдицирует транзакции, оставшиеся в SIGNED/SUBMITTED
// дольше stuckTimeout (обычно после падения процесса посреди операции).
// Подпись есть только с SUBMITTED; SIGNED без подписи в сеть не попала
// и помечается FAILED сразу.
func (e *TxExecutor) SweepStuck(ctx context.Context) (int, error) {
	stuck, err := e.sm.repo.ListStuck(ctx, []string{models.TxStateSigned, models.TxStateSubmitted}, e.stuckTimeout)
	if err != nil {
		return 0, fmt.Errorf("list stuck transactions: %w", err)
	}

	resolved := 0
	for _, intent := range stuck {
		if intent.Signature == "" {
			// Подписана, но не отправлена - в сети её нет
			if err := e.sm.Fail(ctx, intent.IntentID, "signed transaction never submitted (process crash)"); err != nil {
				e.log.Error("failed to fail unsent stuck tx",
					zap.String("intent_id", intent.IntentID), zap.Error(err))
				continue
			}
			resolved++
			continue
		}

		status, err := e.lending.GetTransactionStatus(ctx, intent.Signature)
		if err != nil {
			e.log.Warn("stuck tx status check failed",
				zap.String("intent_id", intent.IntentID),
				zap.String("signature", intent.Signature),
				zap.Error(err))
			continue
		}

		switch {
		case status.Found && status.Confirmed:
			err = e.sm.Transition(ctx, intent.IntentID, models.TxStateConfirmed, intent.Signature, "", nil)
		case status.Found && status.Err != "":
			err = e.sm.Fail(ctx, intent.IntentID, status.Err)
		default:
			// Не найдена: blockhash протух, подписать заново без
			// учётных данных пользователя сборщик не может
			err = e.sm.Fail(ctx, intent.IntentID, "transaction dropped by network, signer unavailable after restart")
		}
		if err != nil {
			e.log.Error("failed to resolve stuck tx",
				zap.String("intent_id", intent.IntentID), zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}
