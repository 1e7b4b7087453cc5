package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория circuit breaker событий
var (
	ErrBreakerNotFound = errors.New("circuit breaker event not found")
)

const breakerColumns = `
	id, breaker_type, reason, scope, cooldown_seconds, auto_recovery,
	triggered_at, resolved_at, resolved_by`

// BreakerRepository - работа с таблицей circuit_breaker_events.
// История срабатываний не удаляется (аудит).
type BreakerRepository struct {
	db *sql.DB
}

// NewBreakerRepository создаёт новый экземпляр репозитория
func NewBreakerRepository(db *sql.DB) *BreakerRepository {
	return &BreakerRepository{db: db}
}

// Create записывает новое срабатывание breaker'а
func (r *BreakerRepository) Create(ctx context.Context, ev *models.CircuitBreakerEvent) error {
	query := `
		INSERT INTO circuit_breaker_events (breaker_type, reason, scope, cooldown_seconds, auto_recovery, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if ev.TriggeredAt.IsZero() {
		ev.TriggeredAt = time.Now().UTC()
	}

	return r.db.QueryRowContext(ctx, query,
		ev.BreakerType, ev.Reason, ev.Scope, ev.CooldownSeconds, ev.AutoRecovery, ev.TriggeredAt,
	).Scan(&ev.ID)
}

// ListActive возвращает неразрешённые срабатывания
func (r *BreakerRepository) ListActive(ctx context.Context) ([]*models.CircuitBreakerEvent, error) {
	query := `SELECT` + breakerColumns + `
		FROM circuit_breaker_events
		WHERE resolved_at IS NULL
		ORDER BY triggered_at`

	return r.queryEvents(ctx, query)
}

// History возвращает последние события (разрешённые и нет)
func (r *BreakerRepository) History(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error) {
	query := `SELECT` + breakerColumns + `
		FROM circuit_breaker_events
		ORDER BY triggered_at DESC
		LIMIT $1`

	return r.queryEvents(ctx, query, limit)
}

// Resolve помечает событие разрешённым.
// actor - "auto-recovery" для sweep'а или имя оператора.
func (r *BreakerRepository) Resolve(ctx context.Context, id int, actor string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE circuit_breaker_events SET resolved_at = $2, resolved_by = $3
		 WHERE id = $1 AND resolved_at IS NULL`,
		id, time.Now().UTC(), actor,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBreakerNotFound
	}
	return nil
}

func (r *BreakerRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.CircuitBreakerEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CircuitBreakerEvent
	for rows.Next() {
		ev := &models.CircuitBreakerEvent{}
		var resolvedBy sql.NullString
		err := rows.Scan(
			&ev.ID, &ev.BreakerType, &ev.Reason, &ev.Scope, &ev.CooldownSeconds, &ev.AutoRecovery,
			&ev.TriggeredAt, &ev.ResolvedAt, &resolvedBy,
		)
		if err != nil {
			return nil, err
		}
		ev.ResolvedBy = resolvedBy.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
