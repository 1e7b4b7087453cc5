package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// ErrOperationInProgress - у пользователя уже идёт операция с позицией
var ErrOperationInProgress = errors.New("position operation already in progress for this user")

// Таймаут фоновой операции открытия/закрытия
const jobTimeout = 2 * time.Minute

// JobRunner запускает открытие/закрытие позиции как фоновый job.
//
// Вызывающий получает непрозрачный job id и опрашивает терминальный
// статус. Гарантии: job никогда не остаётся в running навсегда
// (паника пишется как failed через recover), per-user op-лок
// освобождается на всех путях выхода. Осиротевшие после рестарта
// job'ы добирает RecoverOrphaned при старте процесса.
type JobRunner struct {
	jobs   *repository.JobRepository
	opLock *repository.OpLockRepository
	pm     *PositionManager
	ttl    time.Duration // TTL op-лока
	log    *zap.Logger
}

// NewJobRunner создаёт исполнитель фоновых операций
func NewJobRunner(jobs *repository.JobRepository, opLock *repository.OpLockRepository, pm *PositionManager, lockTTL time.Duration, log *zap.Logger) *JobRunner {
	return &JobRunner{
		jobs:   jobs,
		opLock: opLock,
		pm:     pm,
		ttl:    lockTTL,
		log:    log,
	}
}

// StartOpen запускает фоновое открытие позиции.
// Возвращает job id либо ErrOperationInProgress, если per-user лок занят
// (защита от double-submit: дубль клиентского запроса или гонка
// со входом, инициированным планировщиком).
func (jr *JobRunner) StartOpen(ctx context.Context, opp models.Opportunity) (string, error) {
	return jr.start(ctx, opp.UserID, models.JobKindOpen, func(ctx context.Context) (*int, error) {
		position, err := jr.pm.Open(ctx, opp)
		if err != nil {
			return nil, err
		}
		return &position.ID, nil
	})
}

// StartClose запускает фоновое закрытие позиции
func (jr *JobRunner) StartClose(ctx context.Context, userID, positionID int) (string, error) {
	return jr.start(ctx, userID, models.JobKindClose, func(ctx context.Context) (*int, error) {
		if _, err := jr.pm.Close(ctx, userID, positionID); err != nil {
			return nil, err
		}
		return &positionID, nil
	})
}

// RunOpenSync выполняет открытие в текущей горутине (для планировщиков,
// у которых уже есть свой цикл): тот же op-лок и тот же job-учёт,
// но вызывающий получает результат синхронно.
func (jr *JobRunner) RunOpenSync(ctx context.Context, opp models.Opportunity) (*models.Position, error) {
	acquired, err := jr.opLock.TryAcquire(ctx, opp.UserID, jr.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire op lock: %w", err)
	}
	if !acquired {
		return nil, ErrOperationInProgress
	}
	defer jr.releaseLock(opp.UserID)

	return jr.pm.Open(ctx, opp)
}

func (jr *JobRunner) start(ctx context.Context, userID int, kind string, run func(ctx context.Context) (*int, error)) (string, error) {
	acquired, err := jr.opLock.TryAcquire(ctx, userID, jr.ttl)
	if err != nil {
		return "", fmt.Errorf("acquire op lock: %w", err)
	}
	if !acquired {
		return "", ErrOperationInProgress
	}

	job := &models.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		Status: models.JobStatusRunning,
	}
	if err := jr.jobs.Create(ctx, job); err != nil {
		jr.releaseLock(userID)
		return "", fmt.Errorf("create job: %w", err)
	}

	go jr.execute(job, run)
	return job.ID, nil
}

// execute выполняет job в фоне. Терминальный статус пишется на всех
// путях выхода, включая панику; лок освобождается в defer независимо
// от исхода (fire-and-forget для вызывающего, но с гарантией release).
func (jr *JobRunner) execute(job *models.Job, run func(ctx context.Context) (*int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer jr.releaseLock(job.UserID)

	defer func() {
		if r := recover(); r != nil {
			jr.log.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.Int("user_id", job.UserID),
				zap.Any("panic", r))
			jr.finishFailed(job.ID, models.ErrKindInternal, models.StageUnknown,
				fmt.Sprintf("internal panic: %v", r))
		}
	}()

	positionID, err := run(ctx)
	if err != nil {
		kind, stage := models.ErrKindInternal, models.StageUnknown
		var engineErr *models.EngineError
		if errors.As(err, &engineErr) {
			kind, stage = engineErr.Kind, engineErr.Stage
		}
		jr.finishFailed(job.ID, kind, stage, err.Error())
		return
	}

	if err := jr.jobs.MarkCompleted(ctx, job.ID, positionID); err != nil {
		jr.log.Error("failed to mark job completed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// finishFailed пишет терминальный failed с отдельным контекстом:
// исходный мог быть отменён или истечь
func (jr *JobRunner) finishFailed(jobID, errCode, errStage, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	JobFailures.WithLabelValues(errStage).Inc()
	if err := jr.jobs.MarkFailed(ctx, jobID, errCode, errStage, errMsg); err != nil {
		jr.log.Error("failed to mark job failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

func (jr *JobRunner) releaseLock(userID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := jr.opLock.Release(ctx, userID); err != nil {
		jr.log.Error("failed to release op lock", zap.Int("user_id", userID), zap.Error(err))
	}
}

// Status возвращает job по id
func (jr *JobRunner) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return jr.jobs.Get(ctx, jobID)
}

// RecoverOrphaned помечает failed все job'ы, оставшиеся в running
// после падения процесса. Вызывается один раз при старте.
func (jr *JobRunner) RecoverOrphaned(ctx context.Context) error {
	n, err := jr.jobs.FailOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("fail orphaned jobs: %w", err)
	}
	if n > 0 {
		jr.log.Warn("orphaned jobs recovered", zap.Int64("count", n))
	}
	return nil
}
