package models

import "time"

// PauseState - процессное состояние паузы торговли.
// Явный компонент, инжектируется по ссылке (не глобальная переменная),
// см. bot.PauseController.
type PauseState struct {
	Paused   bool      `json:"paused"`
	Scope    string    `json:"scope,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	PausedAt time.Time `json:"paused_at,omitempty"`
}

// Области действия паузы. ALL блокирует всё,
// более узкая область блокирует только совпадающие категории операций.
const (
	PauseScopeAll     = "ALL"
	PauseScopeEntry   = "ENTRY"
	PauseScopeExit    = "EXIT"
	PauseScopeLending = "VENUE_LENDING"
	PauseScopePerp    = "VENUE_PERP"
)

// Типы circuit breaker'ов
const (
	BreakerHealthFactor   = "HEALTH_FACTOR"   // пробой health factor на lending-протоколе
	BreakerMargin         = "MARGIN"          // пробой маржи на perp-бирже
	BreakerNegativeYield  = "NEGATIVE_YIELD"  // совокупная доходность ушла в минус
	BreakerPriceDeviation = "PRICE_DEVIATION" // расхождение цен между венью
	BreakerDepeg          = "DEPEG"           // депег стейбла
	BreakerGasPrice       = "GAS_PRICE"       // чрезмерная цена газа
	BreakerVenueOutage    = "VENUE_OUTAGE"    // недоступность венью
)

// CircuitBreakerEvent - одно срабатывание breaker'а.
// CooldownSeconds == 0 означает обязательное ручное разрешение.
type CircuitBreakerEvent struct {
	ID              int        `json:"id" db:"id"`
	BreakerType     string     `json:"breaker_type" db:"breaker_type"`
	Reason          string     `json:"reason" db:"reason"`
	Scope           string     `json:"scope" db:"scope"`
	CooldownSeconds int        `json:"cooldown_seconds" db:"cooldown_seconds"`
	AutoRecovery    bool       `json:"auto_recovery" db:"auto_recovery"`
	TriggeredAt     time.Time  `json:"triggered_at" db:"triggered_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy      string     `json:"resolved_by,omitempty" db:"resolved_by"`
}

// Active возвращает true если breaker ещё не разрешён
func (e *CircuitBreakerEvent) Active() bool {
	return e.ResolvedAt == nil
}

// RecoveryDue проверяет наступило ли время авто-восстановления
func (e *CircuitBreakerEvent) RecoveryDue(now time.Time) bool {
	if !e.AutoRecovery || e.ResolvedAt != nil {
		return false
	}
	return !now.Before(e.TriggeredAt.Add(time.Duration(e.CooldownSeconds) * time.Second))
}
