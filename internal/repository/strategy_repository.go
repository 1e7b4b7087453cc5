package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория стратегий
var (
	ErrStrategyNotFound = errors.New("strategy config not found")
)

const strategyColumns = `
	user_id, enabled, min_carry_apy, min_funding_rate, max_funding_volatility,
	size_pct_of_balance, max_concurrent_positions, max_leverage, exit_carry_apy,
	cooldown_minutes, cooldown_at_close, last_close_at, updated_at`

// StrategyRepository - работа с таблицей strategy_configs
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository создаёт новый экземпляр репозитория
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// Get возвращает конфигурацию стратегии пользователя
func (r *StrategyRepository) Get(ctx context.Context, userID int) (*models.StrategyConfig, error) {
	query := `SELECT` + strategyColumns + `FROM strategy_configs WHERE user_id = $1`

	cfg, err := scanStrategy(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStrategyNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// Upsert сохраняет конфигурацию стратегии.
// Значения обрезаются до процессных лимитов перед записью -
// в БД никогда не попадает конфигурация вне жёстких пределов.
// CooldownAtClose намеренно не трогается: его меняет только SetCooldownAtClose.
func (r *StrategyRepository) Upsert(ctx context.Context, cfg *models.StrategyConfig) error {
	cfg.Clamp()
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO strategy_configs (user_id, enabled, min_carry_apy, min_funding_rate, max_funding_volatility,
			size_pct_of_balance, max_concurrent_positions, max_leverage, exit_carry_apy,
			cooldown_minutes, cooldown_at_close, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			min_carry_apy = EXCLUDED.min_carry_apy,
			min_funding_rate = EXCLUDED.min_funding_rate,
			max_funding_volatility = EXCLUDED.max_funding_volatility,
			size_pct_of_balance = EXCLUDED.size_pct_of_balance,
			max_concurrent_positions = EXCLUDED.max_concurrent_positions,
			max_leverage = EXCLUDED.max_leverage,
			exit_carry_apy = EXCLUDED.exit_carry_apy,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		cfg.UserID, cfg.Enabled, cfg.MinCarryAPY, cfg.MinFundingRate, cfg.MaxFundingVolatility,
		cfg.SizePctOfBalance, cfg.MaxConcurrentPositions, cfg.MaxLeverage, cfg.ExitCarryAPY,
		cfg.CooldownMinutes, cfg.CooldownAtClose, cfg.UpdatedAt,
	)
	return err
}

// ListEnabled возвращает конфигурации всех пользователей
// с включённой автономной торговлей
func (r *StrategyRepository) ListEnabled(ctx context.Context) ([]*models.StrategyConfig, error) {
	query := `SELECT` + strategyColumns + `
		FROM strategy_configs
		WHERE enabled = TRUE
		ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StrategyConfig
	for rows.Next() {
		cfg, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// SetCooldownAtClose фиксирует cooldown в момент закрытия позиции.
// Анти-обход: автономный сканер проверяет cooldown против этого
// снапшота, а не против живого cooldown_minutes.
func (r *StrategyRepository) SetCooldownAtClose(ctx context.Context, userID int, closedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE strategy_configs
		 SET cooldown_at_close = cooldown_minutes, last_close_at = $2, updated_at = $3
		 WHERE user_id = $1`,
		userID, closedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

func scanStrategy(row rowScanner) (*models.StrategyConfig, error) {
	cfg := &models.StrategyConfig{}
	err := row.Scan(
		&cfg.UserID, &cfg.Enabled, &cfg.MinCarryAPY, &cfg.MinFundingRate, &cfg.MaxFundingVolatility,
		&cfg.SizePctOfBalance, &cfg.MaxConcurrentPositions, &cfg.MaxLeverage, &cfg.ExitCarryAPY,
		&cfg.CooldownMinutes, &cfg.CooldownAtClose, &cfg.LastCloseAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
