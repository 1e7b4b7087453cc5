package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория job'ов
var (
	ErrJobNotFound = errors.New("job not found")
)

// JobRepository - работа с таблицей jobs.
// Job - фоновая операция открытия/закрытия позиции; вызывающий
// опрашивает её статус по непрозрачному id.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository создаёт новый экземпляр репозитория
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create регистрирует новый job в статусе running
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, kind, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobStatusRunning
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.UserID, job.Kind, job.Status, job.StartedAt,
	)
	return err
}

// Get возвращает job по id
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT id, user_id, kind, status, position_id, error_code, error_stage, error, started_at, finished_at
		FROM jobs
		WHERE id = $1`

	job := &models.Job{}
	var errCode, errStage, errMsg sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.Kind, &job.Status, &job.PositionID,
		&errCode, &errStage, &errMsg, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	job.ErrorCode = errCode.String
	job.ErrorStage = errStage.String
	job.Error = errMsg.String
	return job, nil
}

// MarkCompleted переводит job в completed с привязкой позиции
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, positionID *int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $2, position_id = $3, finished_at = $4 WHERE id = $1`,
		id, models.JobStatusCompleted, positionID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireJobAffected(res)
}

// MarkFailed переводит job в failed со структурированной ошибкой
// (код из таксономии + стадия, на которой произошёл сбой)
func (r *JobRepository) MarkFailed(ctx context.Context, id, errCode, errStage, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $2, error_code = $3, error_stage = $4, error = $5, finished_at = $6 WHERE id = $1`,
		id, models.JobStatusFailed, errCode, errStage, errMsg, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireJobAffected(res)
}

// FailOrphaned помечает failed все job'ы, оставшиеся в running
// после креша процесса. Вызывается один раз на старте сервера.
// Возвращает количество закрытых сирот.
func (r *JobRepository) FailOrphaned(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, error_code = $2, error_stage = $3, error = $4, finished_at = $5
		 WHERE status = $6`,
		models.JobStatusFailed, models.ErrKindInternal, models.StageUnknown,
		"server restarted while job was running", time.Now().UTC(),
		models.JobStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func requireJobAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}
