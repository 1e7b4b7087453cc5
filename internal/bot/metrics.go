package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды
// - Alertmanager: алерты на unwind-сбои, asymmetric позиции,
//   backoff воркеров и срабатывания breaker'ов

// ============ Позиции ============

// PositionsOpened - открытые позиции по активу и источнику входа
var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "positions",
		Name:      "opened_total",
		Help:      "Total number of combined positions opened",
	},
	[]string{"asset", "source"}, // source: manual, intent, autonomous
)

// PositionsClosed - закрытые позиции по активу
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Total number of combined positions closed",
	},
	[]string{"asset"},
)

// UnwindAttempts - попытки отката длинной ноги после сбоя короткой
var UnwindAttempts = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "positions",
		Name:      "unwind_attempts_total",
		Help:      "Number of long-leg unwind attempts after short-leg failure",
	},
)

// UnwindFailures - неудачные unwind'ы (asymmetric, нужен оператор)
var UnwindFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "positions",
		Name:      "unwind_failures_total",
		Help:      "Number of failed unwinds leaving an asymmetric position",
	},
)

// ============ Риск и паузы ============

// BreakerTriggers - срабатывания circuit breaker'ов по типу
var BreakerTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "risk",
		Name:      "breaker_triggers_total",
		Help:      "Number of circuit breaker activations",
	},
	[]string{"type"},
)

// DrawdownPauses - индивидуальные паузы по просадке
var DrawdownPauses = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "risk",
		Name:      "drawdown_pauses_total",
		Help:      "Number of per-user pauses triggered by drawdown breach",
	},
)

// ============ Планировщики ============

// IntentEvaluations - оценки критериев интентов по исходу
var IntentEvaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "scanner",
		Name:      "intent_evaluations_total",
		Help:      "Intent criteria evaluations by outcome",
	},
	[]string{"outcome"}, // passed, failed
)

// AutonomousEntries - автономные входы по активу
var AutonomousEntries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "scanner",
		Name:      "autonomous_entries_total",
		Help:      "Positions opened by the autonomous scanner",
	},
	[]string{"asset"},
)

// ============ Воркеры и job'ы ============

// WorkerCycleDuration - длительность цикла воркера
var WorkerCycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "deltahedge",
		Subsystem: "workers",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one worker cycle",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"worker"},
)

// WorkerCycleErrors - неудачные циклы воркеров
var WorkerCycleErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "workers",
		Name:      "cycle_errors_total",
		Help:      "Number of failed worker cycles",
	},
	[]string{"worker"},
)

// WorkerBackoffs - уходы воркеров в backoff
var WorkerBackoffs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "workers",
		Name:      "backoffs_total",
		Help:      "Number of worker backoff periods after repeated errors",
	},
	[]string{"worker"},
)

// JobFailures - терминальные сбои фоновых job'ов по стадии
var JobFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "deltahedge",
		Subsystem: "jobs",
		Name:      "failures_total",
		Help:      "Number of background jobs finished in failed status",
	},
	[]string{"stage"},
)
