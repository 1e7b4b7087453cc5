package models

import "time"

// TxIntent представляет одну попытку on-chain записи на lending-протоколе.
// Создаётся PositionManager'ом в начале операции с ногой,
// мутируется только через state machine (bot/txstate.go).
// Записи не удаляются - остаются для аудита и восстановления.
type TxIntent struct {
	IntentID  string            `json:"intent_id" db:"intent_id"`         // уникальный токен, генерируется вызывающим
	State     string            `json:"state" db:"state"`                 // см. константы ниже
	Signature string            `json:"signature" db:"signature"`         // идентификатор транзакции от сети (после submit)
	Error     string            `json:"error,omitempty" db:"error"`       // причина терминальной ошибки
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"` // снапшот выполняемого действия (JSON в БД)
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// Состояния транзакции. Переходы строго вперёд,
// TxStateFailed достижимо из любого нетерминального состояния.
const (
	TxStateBuilding   = "BUILDING"
	TxStateBuilt      = "BUILT"
	TxStateSigning    = "SIGNING"
	TxStateSigned     = "SIGNED"
	TxStateSubmitting = "SUBMITTING"
	TxStateSubmitted  = "SUBMITTED"
	TxStateConfirmed  = "CONFIRMED"
	TxStateFailed     = "FAILED"
)

// IsTerminalTxState возвращает true для терминальных состояний
func IsTerminalTxState(s string) bool {
	return s == TxStateConfirmed || s == TxStateFailed
}
