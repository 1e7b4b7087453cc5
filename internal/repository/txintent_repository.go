package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"deltahedge/internal/models"
)

// Ошибки репозитория транзакционных интентов
var (
	ErrTxIntentNotFound = errors.New("transaction intent not found")
	ErrTxIntentExists   = errors.New("transaction intent already exists")
)

// TxIntentRepository - работа с таблицей tx_intents.
// Записи никогда не удаляются (аудит и восстановление после рестарта).
type TxIntentRepository struct {
	db *sql.DB
}

// NewTxIntentRepository создаёт новый экземпляр репозитория
func NewTxIntentRepository(db *sql.DB) *TxIntentRepository {
	return &TxIntentRepository{db: db}
}

// Create создаёт новый транзакционный интент в состоянии BUILDING
func (r *TxIntentRepository) Create(ctx context.Context, intent *models.TxIntent) error {
	query := `
		INSERT INTO tx_intents (intent_id, state, signature, error, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	if intent.State == "" {
		intent.State = models.TxStateBuilding
	}

	meta, err := marshalMetadata(intent.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		intent.IntentID,
		intent.State,
		intent.Signature,
		intent.Error,
		meta,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTxIntentExists
		}
		return err
	}
	return nil
}

// GetByID возвращает интент по его идентификатору
func (r *TxIntentRepository) GetByID(ctx context.Context, intentID string) (*models.TxIntent, error) {
	query := `
		SELECT intent_id, state, signature, error, metadata, created_at, updated_at
		FROM tx_intents
		WHERE intent_id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, intentID))
}

// UpdateState записывает новое состояние интента.
// Допустимость перехода проверяет state machine (bot/txstate.go),
// репозиторий только персистит.
func (r *TxIntentRepository) UpdateState(ctx context.Context, intentID, state, signature, errMsg string, metadata map[string]string) error {
	query := `
		UPDATE tx_intents
		SET state = $2,
		    signature = CASE WHEN $3 <> '' THEN $3 ELSE signature END,
		    error = CASE WHEN $4 <> '' THEN $4 ELSE error END,
		    metadata = CASE WHEN $5::text <> '' THEN $5::jsonb ELSE metadata END,
		    updated_at = $6
		WHERE intent_id = $1`

	meta := ""
	if metadata != nil {
		m, err := marshalMetadata(metadata)
		if err != nil {
			return err
		}
		meta = m
	}

	res, err := r.db.ExecContext(ctx, query, intentID, state, signature, errMsg, meta, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTxIntentNotFound
	}
	return nil
}

// ListStuck возвращает интенты, зависшие в указанных состояниях
// дольше olderThan (для stuck-transaction recovery)
func (r *TxIntentRepository) ListStuck(ctx context.Context, states []string, olderThan time.Duration) ([]*models.TxIntent, error) {
	query := `
		SELECT intent_id, state, signature, error, metadata, created_at, updated_at
		FROM tx_intents
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at`

	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.db.QueryContext(ctx, query, pq.Array(states), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TxIntent
	for rows.Next() {
		intent, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TxIntentRepository) scanOne(row *sql.Row) (*models.TxIntent, error) {
	intent, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTxIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

func (r *TxIntentRepository) scanRow(row rowScanner) (*models.TxIntent, error) {
	intent := &models.TxIntent{}
	var meta sql.NullString
	err := row.Scan(
		&intent.IntentID,
		&intent.State,
		&intent.Signature,
		&intent.Error,
		&meta,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &intent.Metadata); err != nil {
			return nil, err
		}
	}
	return intent, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
