package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория пользовательских интентов
var (
	ErrIntentNotFound = errors.New("intent not found")
	// ErrIntentExists - уже есть pending/active интент на (user, asset).
	// Обеспечивается partial unique index в БД.
	ErrIntentExists = errors.New("active intent already exists for this user and asset")
)

const intentColumns = `
	id, user_id, asset, leverage, size_usd, min_funding_rate, max_funding_volatility,
	max_entry_price, expires_at, status, criteria_snapshot, position_id, error, created_at, updated_at`

// IntentRepository - работа с таблицей intents
type IntentRepository struct {
	db *sql.DB
}

// NewIntentRepository создаёт новый экземпляр репозитория
func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Create создаёт новый интент в статусе pending
func (r *IntentRepository) Create(ctx context.Context, intent *models.Intent) error {
	query := `
		INSERT INTO intents (user_id, asset, leverage, size_usd, min_funding_rate, max_funding_volatility,
			max_entry_price, expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	if intent.Status == "" {
		intent.Status = models.IntentStatusPending
	}

	err := r.db.QueryRowContext(ctx, query,
		intent.UserID, intent.Asset, intent.Leverage, intent.SizeUSD,
		intent.MinFundingRate, intent.MaxFundingVolatility, intent.MaxEntryPrice,
		intent.ExpiresAt, intent.Status, intent.CreatedAt, intent.UpdatedAt,
	).Scan(&intent.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIntentExists
		}
		return err
	}
	return nil
}

// GetByID возвращает интент по ID
func (r *IntentRepository) GetByID(ctx context.Context, id int) (*models.Intent, error) {
	query := `SELECT` + intentColumns + `FROM intents WHERE id = $1`

	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return intent, nil
}

// ListScannable возвращает все pending/active интенты в порядке создания.
// Порядок стабилен и задокументирован: creation time.
func (r *IntentRepository) ListScannable(ctx context.Context) ([]*models.Intent, error) {
	query := `SELECT` + intentColumns + `
		FROM intents
		WHERE status IN ($1, $2)
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, models.IntentStatusPending, models.IntentStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// ListByUser возвращает интенты пользователя (новые первыми)
func (r *IntentRepository) ListByUser(ctx context.Context, userID int, limit int) ([]*models.Intent, error) {
	query := `SELECT` + intentColumns + `
		FROM intents
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// UpdateStatus переводит интент в новый статус
func (r *IntentRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE intents SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireIntentAffected(res)
}

// Cancel отменяет интент если он ещё не терминален
func (r *IntentRepository) Cancel(ctx context.Context, id, userID int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE intents SET status = $3, updated_at = $4
		 WHERE id = $1 AND user_id = $2 AND status IN ($5, $6)`,
		id, userID, models.IntentStatusCancelled, time.Now().UTC(),
		models.IntentStatusPending, models.IntentStatusActive,
	)
	if err != nil {
		return err
	}
	return requireIntentAffected(res)
}

// SaveSnapshot сохраняет результат последней оценки критериев.
// Вызывается при каждой проверке независимо от исхода.
func (r *IntentRepository) SaveSnapshot(ctx context.Context, id int, snapshot *models.CriteriaSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE intents SET criteria_snapshot = $2, updated_at = $3 WHERE id = $1`,
		id, string(data), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireIntentAffected(res)
}

// MarkExecutedTx переводит интент в executed с привязкой position_id
// внутри переданной транзакции - атомарно со вставкой позиции.
func (r *IntentRepository) MarkExecutedTx(ctx context.Context, tx *sql.Tx, id, positionID int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE intents SET status = $2, position_id = $3, updated_at = $4 WHERE id = $1`,
		id, models.IntentStatusExecuted, positionID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireIntentAffected(res)
}

// MarkFailed переводит интент в failed с записью ошибки
func (r *IntentRepository) MarkFailed(ctx context.Context, id int, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE intents SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		id, models.IntentStatusFailed, errMsg, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireIntentAffected(res)
}

func scanIntent(row rowScanner) (*models.Intent, error) {
	intent := &models.Intent{}
	var snapshot sql.NullString
	var errMsg sql.NullString
	err := row.Scan(
		&intent.ID, &intent.UserID, &intent.Asset, &intent.Leverage, &intent.SizeUSD,
		&intent.MinFundingRate, &intent.MaxFundingVolatility, &intent.MaxEntryPrice,
		&intent.ExpiresAt, &intent.Status, &snapshot, &intent.PositionID, &errMsg,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		intent.Error = errMsg.String
	}
	if snapshot.Valid && snapshot.String != "" {
		intent.CriteriaSnapshot = &models.CriteriaSnapshot{}
		if err := json.Unmarshal([]byte(snapshot.String), intent.CriteriaSnapshot); err != nil {
			return nil, err
		}
	}
	return intent, nil
}

func requireIntentAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}
