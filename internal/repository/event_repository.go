package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"deltahedge/internal/models"
)

// EventRepository - работа с таблицей events (журнал событий движка).
// События пишутся движком и читаются UI; broadcast по WebSocket
// идёт отдельно, журнал - источник истории.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создаёт новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create записывает событие в журнал
func (r *EventRepository) Create(ctx context.Context, ev *models.Event) error {
	query := `
		INSERT INTO events (timestamp, type, severity, user_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var meta interface{}
	if ev.Meta != nil {
		b, err := json.Marshal(ev.Meta)
		if err != nil {
			return err
		}
		meta = string(b)
	}

	return r.db.QueryRowContext(ctx, query,
		ev.Timestamp, ev.Type, ev.Severity, ev.UserID, ev.Message, meta,
	).Scan(&ev.ID)
}

// ListRecent возвращает последние события (все типы)
func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, message, meta
		FROM events
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.queryEvents(ctx, query, limit)
}

// ListByTypes возвращает последние события указанных типов
func (r *EventRepository) ListByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, message, meta
		FROM events
		WHERE type = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryEvents(ctx, query, pq.Array(types), limit)
}

// ListByUser возвращает последние события пользователя
func (r *EventRepository) ListByUser(ctx context.Context, userID, limit int) ([]*models.Event, error) {
	query := `
		SELECT id, timestamp, type, severity, user_id, message, meta
		FROM events
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.queryEvents(ctx, query, userID, limit)
}

// DeleteOlderThan удаляет события старше порога (ретенция журнала).
// Возвращает количество удалённых строк.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count возвращает общее количество событий в журнале
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	return count, err
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		ev := &models.Event{}
		var meta sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.Severity, &ev.UserID, &ev.Message, &meta); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &ev.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
