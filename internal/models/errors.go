package models

import "fmt"

// Виды ошибок движка (таксономия, не буквальные коды API)
const (
	ErrKindValidation        = "VALIDATION" // некорректная форма/диапазон входных данных
	ErrKindVenueAPI          = "VENUE_API"  // удалённый вызов к венью не удался
	ErrKindInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrKindPositionNotFound  = "POSITION_NOT_FOUND"  // нет позиции или уже закрыта
	ErrKindAsymmetric        = "ASYMMETRIC_POSITION" // позиция потеряла ногу и unwind не удался
	ErrKindRiskRejected      = "RISK_REJECTED"       // preflight или breaker заблокировал действие
	ErrKindRateLimit         = "RATE_LIMIT"
	ErrKindInternal          = "INTERNAL"
)

// Стадии операции. Позволяют оператору отличить
// "ничего не произошло" от "произошло частично".
const (
	StagePreflight = "preflight"
	StageLongLeg   = "long-leg"
	StageShortLeg  = "short-leg"
	StageUnwind    = "unwind"
	StageUnknown   = "unknown"
)

// EngineError - структурированная ошибка операции с позицией.
// Kind - вид из таксономии, Stage - на какой стадии произошёл сбой.
type EngineError struct {
	Kind  string
	Stage string
	Msg   string
	Err   error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Msg)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError создаёт EngineError
func NewEngineError(kind, stage, msg string, err error) *EngineError {
	if stage == "" {
		stage = StageUnknown
	}
	return &EngineError{Kind: kind, Stage: stage, Msg: msg, Err: err}
}
