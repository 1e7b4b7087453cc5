package models

import "time"

// Event представляет событие для слоя уведомлений (events.Hub).
// Несёт достаточно структурированных данных чтобы подписчик
// мог обновить UI без повторных запросов.
type Event struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	UserID    *int                   `json:"user_id,omitempty" db:"user_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // asset, size, leverage, ids (JSON в БД)
}

// Типы событий
const (
	EventTypePositionOpened = "POSITION_OPENED"
	EventTypePositionClosed = "POSITION_CLOSED"
	EventTypeUnwind         = "UNWIND"          // откат длинной ноги после сбоя короткой
	EventTypeAsymmetric     = "ASYMMETRIC"      // позиция осталась с одной ногой
	EventTypeBreaker        = "CIRCUIT_BREAKER" // срабатывание/разрешение breaker'а
	EventTypeUserPause      = "USER_PAUSE"      // индивидуальная пауза пользователя
	EventTypeError          = "ERROR"
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
