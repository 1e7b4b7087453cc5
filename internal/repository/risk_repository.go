package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория риск-состояния
var (
	ErrRiskNotFound = errors.New("risk tracking not found")
)

const riskColumns = `
	user_id, peak_balance_usd, current_balance_usd, has_peak,
	daily_trade_count, daily_trade_date, consecutive_failures, last_failure_reason,
	paused, pause_reason, updated_at`

// RiskRepository - работа с таблицей user_risk_tracking.
// Одна строка на пользователя; индивидуальная пауза хранится здесь же
// (per-user ось паузы живёт в БД, в отличие от глобальной in-memory оси).
type RiskRepository struct {
	db *sql.DB
}

// NewRiskRepository создаёт новый экземпляр репозитория
func NewRiskRepository(db *sql.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// Get возвращает риск-состояние пользователя
func (r *RiskRepository) Get(ctx context.Context, userID int) (*models.RiskTracking, error) {
	query := `SELECT` + riskColumns + `FROM user_risk_tracking WHERE user_id = $1`

	rt, err := scanRisk(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRiskNotFound
		}
		return nil, err
	}
	return rt, nil
}

// GetOrCreate возвращает риск-состояние, создавая пустую запись
// при первом обращении (до первого наблюдения баланса peak не задан)
func (r *RiskRepository) GetOrCreate(ctx context.Context, userID int) (*models.RiskTracking, error) {
	rt, err := r.Get(ctx, userID)
	if err == nil {
		return rt, nil
	}
	if !errors.Is(err, ErrRiskNotFound) {
		return nil, err
	}

	rt = &models.RiskTracking{
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_risk_tracking (user_id, updated_at)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Save персистит полное риск-состояние пользователя
func (r *RiskRepository) Save(ctx context.Context, rt *models.RiskTracking) error {
	rt.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO user_risk_tracking (user_id, peak_balance_usd, current_balance_usd, has_peak,
			daily_trade_count, daily_trade_date, consecutive_failures, last_failure_reason,
			paused, pause_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			peak_balance_usd = EXCLUDED.peak_balance_usd,
			current_balance_usd = EXCLUDED.current_balance_usd,
			has_peak = EXCLUDED.has_peak,
			daily_trade_count = EXCLUDED.daily_trade_count,
			daily_trade_date = EXCLUDED.daily_trade_date,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_failure_reason = EXCLUDED.last_failure_reason,
			paused = EXCLUDED.paused,
			pause_reason = EXCLUDED.pause_reason,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rt.UserID, rt.PeakBalanceUSD, rt.CurrentBalanceUSD, rt.HasPeak,
		rt.DailyTradeCount, rt.DailyTradeDate, rt.ConsecutiveFailures, rt.LastFailureReason,
		rt.Paused, rt.PauseReason, rt.UpdatedAt,
	)
	return err
}

// SetPaused ставит/снимает индивидуальную паузу пользователя
func (r *RiskRepository) SetPaused(ctx context.Context, userID int, paused bool, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_risk_tracking SET paused = $2, pause_reason = $3, updated_at = $4 WHERE user_id = $1`,
		userID, paused, reason, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRiskNotFound
	}
	return nil
}

// IsPaused возвращает флаг индивидуальной паузы пользователя.
// Отсутствие записи означает "не на паузе".
func (r *RiskRepository) IsPaused(ctx context.Context, userID int) (bool, error) {
	var paused bool
	err := r.db.QueryRowContext(ctx,
		`SELECT paused FROM user_risk_tracking WHERE user_id = $1`, userID,
	).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return paused, nil
}

func scanRisk(row rowScanner) (*models.RiskTracking, error) {
	rt := &models.RiskTracking{}
	var lastFailure, pauseReason, tradeDate sql.NullString
	err := row.Scan(
		&rt.UserID, &rt.PeakBalanceUSD, &rt.CurrentBalanceUSD, &rt.HasPeak,
		&rt.DailyTradeCount, &tradeDate, &rt.ConsecutiveFailures, &lastFailure,
		&rt.Paused, &pauseReason, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rt.DailyTradeDate = tradeDate.String
	rt.LastFailureReason = lastFailure.String
	rt.PauseReason = pauseReason.String
	return rt, nil
}
