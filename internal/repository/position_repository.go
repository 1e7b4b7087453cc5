package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

const positionColumns = `
	id, user_id, asset, leverage, total_pnl, status, opened_at, closed_at, updated_at,
	long_protocol, long_collateral_usd, long_borrowed_usd, long_health_factor, long_entry_price, long_mark_price,
	short_notional_usd, short_margin_usd, short_margin_fraction, short_entry_price, short_mark_price`

// PositionRepository - работа с таблицей positions.
// Денежные поля хранятся как NUMERIC и читаются в decimal.Decimal.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создаёт новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create вставляет новую позицию вне транзакции
func (r *PositionRepository) Create(ctx context.Context, p *models.Position) error {
	return r.create(ctx, r.db, p)
}

// CreateTx вставляет позицию внутри переданной БД-транзакции.
// Используется intent-сканером: вставка позиции и перевод интента
// в executed должны закоммититься вместе.
func (r *PositionRepository) CreateTx(ctx context.Context, tx *sql.Tx, p *models.Position) error {
	return r.create(ctx, tx, p)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *PositionRepository) create(ctx context.Context, q execQuerier, p *models.Position) error {
	query := `
		INSERT INTO positions (user_id, asset, leverage, total_pnl, status, opened_at, updated_at,
			long_protocol, long_collateral_usd, long_borrowed_usd, long_health_factor, long_entry_price, long_mark_price,
			short_notional_usd, short_margin_usd, short_margin_fraction, short_entry_price, short_mark_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`

	now := time.Now().UTC()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = models.PositionStatusOpen
	}

	long := p.LongLeg
	if long == nil {
		long = &models.LongLeg{}
	}
	short := p.ShortLeg
	if short == nil {
		short = &models.ShortLeg{}
	}

	return q.QueryRowContext(ctx, query,
		p.UserID, p.Asset, p.Leverage, p.TotalPnl, p.Status, p.OpenedAt, p.UpdatedAt,
		long.Protocol, long.CollateralUSD, long.BorrowedUSD, long.HealthFactor, long.EntryPrice, long.MarkPrice,
		short.NotionalUSD, short.MarginUSD, short.MarginFraction, short.EntryPrice, short.MarkPrice,
	).Scan(&p.ID)
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id int) (*models.Position, error) {
	query := `SELECT` + positionColumns + `FROM positions WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetOpenByUser возвращает открытые позиции пользователя
func (r *PositionRepository) GetOpenByUser(ctx context.Context, userID int) ([]*models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions
		WHERE user_id = $1 AND status = $2
		ORDER BY opened_at`

	return r.queryPositions(ctx, query, userID, models.PositionStatusOpen)
}

// CountOpenByUser возвращает количество открытых позиций пользователя
// (для проверки max_concurrent_positions)
func (r *PositionRepository) CountOpenByUser(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE user_id = $1 AND status = $2`,
		userID, models.PositionStatusOpen,
	).Scan(&count)
	return count, err
}

// ListByUser возвращает последние позиции пользователя (все статусы)
func (r *PositionRepository) ListByUser(ctx context.Context, userID, limit int) ([]*models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions
		WHERE user_id = $1
		ORDER BY opened_at DESC
		LIMIT $2`

	return r.queryPositions(ctx, query, userID, limit)
}

// ListByStatus возвращает все позиции в указанном статусе
// (asymmetric - для операторского обзора)
func (r *PositionRepository) ListByStatus(ctx context.Context, status string) ([]*models.Position, error) {
	query := `SELECT` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY opened_at`

	return r.queryPositions(ctx, query, status)
}

// Close архивирует позицию: статус closed, итоговый PnL, время закрытия
func (r *PositionRepository) Close(ctx context.Context, id int, totalPnl decimal.Decimal) error {
	return r.setTerminal(ctx, id, models.PositionStatusClosed, totalPnl)
}

// MarkAsymmetric помечает позицию как потерявшую одну ногу.
// Требует ручного/автоматизированного вмешательства, не повторных попыток.
func (r *PositionRepository) MarkAsymmetric(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, models.PositionStatusAsymmetric, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// MarkFailed помечает позицию как failed (unwind тоже не удался)
func (r *PositionRepository) MarkFailed(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, models.PositionStatusFailed, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *PositionRepository) setTerminal(ctx context.Context, id int, status string, totalPnl decimal.Decimal) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE positions SET status = $2, total_pnl = $3, closed_at = $4, updated_at = $4 WHERE id = $1`,
		id, status, totalPnl, now,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UserStats агрегирует статистику позиций пользователя одним запросом
func (r *PositionRepository) UserStats(ctx context.Context, userID int) (*models.UserStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(SUM(total_pnl) FILTER (WHERE status = $3), 0)
		FROM positions
		WHERE user_id = $1`

	stats := &models.UserStats{UserID: userID}
	err := r.db.QueryRowContext(ctx, query, userID,
		models.PositionStatusOpen, models.PositionStatusClosed, models.PositionStatusAsymmetric,
	).Scan(&stats.OpenCount, &stats.ClosedCount, &stats.AsymmetricCount, &stats.RealizedPnlUSD)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PositionRepository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{
		LongLeg:  &models.LongLeg{},
		ShortLeg: &models.ShortLeg{},
	}
	err := row.Scan(
		&p.ID, &p.UserID, &p.Asset, &p.Leverage, &p.TotalPnl, &p.Status, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
		&p.LongLeg.Protocol, &p.LongLeg.CollateralUSD, &p.LongLeg.BorrowedUSD, &p.LongLeg.HealthFactor,
		&p.LongLeg.EntryPrice, &p.LongLeg.MarkPrice,
		&p.ShortLeg.NotionalUSD, &p.ShortLeg.MarginUSD, &p.ShortLeg.MarginFraction,
		&p.ShortLeg.EntryPrice, &p.ShortLeg.MarkPrice,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPositionNotFound
	}
	return nil
}
