package models

import "time"

// Job - фоновая операция открытия/закрытия позиции.
// API возвращает вызывающему непрозрачный JobID, по которому можно
// опрашивать терминальный статус. Job никогда не должен навсегда
// остаться в статусе running - см. bot.JobRunner и startup recovery.
type Job struct {
	ID         string     `json:"id" db:"id"` // uuid
	UserID     int        `json:"user_id" db:"user_id"`
	Kind       string     `json:"kind" db:"kind"`     // open, close
	Status     string     `json:"status" db:"status"` // running, completed, failed
	PositionID *int       `json:"position_id,omitempty" db:"position_id"`
	ErrorCode  string     `json:"error_code,omitempty" db:"error_code"`
	ErrorStage string     `json:"error_stage,omitempty" db:"error_stage"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Виды job'ов
const (
	JobKindOpen  = "open"
	JobKindClose = "close"
)

// Статусы job'ов
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
