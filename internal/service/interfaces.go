package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/bot"
	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*models.Position, error)
	GetOpenByUser(ctx context.Context, userID int) ([]*models.Position, error)
	CountOpenByUser(ctx context.Context, userID int) (int, error)
	ListByUser(ctx context.Context, userID, limit int) ([]*models.Position, error)
	UserStats(ctx context.Context, userID int) (*models.UserStats, error)
}

// IntentRepositoryInterface определяет интерфейс репозитория интентов
type IntentRepositoryInterface interface {
	Create(ctx context.Context, intent *models.Intent) error
	GetByID(ctx context.Context, id int) (*models.Intent, error)
	ListByUser(ctx context.Context, userID int, limit int) ([]*models.Intent, error)
	Cancel(ctx context.Context, id, userID int) error
}

// StrategyRepositoryInterface определяет интерфейс репозитория конфигураций стратегии
type StrategyRepositoryInterface interface {
	Get(ctx context.Context, userID int) (*models.StrategyConfig, error)
	Upsert(ctx context.Context, cfg *models.StrategyConfig) error
}

// CredentialRepositoryInterface определяет интерфейс репозитория ключей венью
type CredentialRepositoryInterface interface {
	Get(ctx context.Context, userID int, venue string) (*models.VenueCredential, error)
}

// EventRepositoryInterface определяет интерфейс репозитория журнала событий
type EventRepositoryInterface interface {
	Create(ctx context.Context, ev *models.Event) error
	ListRecent(ctx context.Context, limit int) ([]*models.Event, error)
	ListByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error)
	ListByUser(ctx context.Context, userID, limit int) ([]*models.Event, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// BreakerRepositoryInterface определяет интерфейс истории circuit breaker'ов
type BreakerRepositoryInterface interface {
	History(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ IntentRepositoryInterface = (*repository.IntentRepository)(nil)
var _ StrategyRepositoryInterface = (*repository.StrategyRepository)(nil)
var _ CredentialRepositoryInterface = (*repository.CredentialRepository)(nil)
var _ EventRepositoryInterface = (*repository.EventRepository)(nil)
var _ BreakerRepositoryInterface = (*repository.BreakerRepository)(nil)

// ============ Интерфейсы движка ============

// JobRunnerInterface - асинхронный запуск операций открытия/закрытия.
// Реализуется bot.JobRunner.
type JobRunnerInterface interface {
	StartOpen(ctx context.Context, opp models.Opportunity) (string, error)
	StartClose(ctx context.Context, userID, positionID int) (string, error)
	Status(ctx context.Context, jobID string) (*models.Job, error)
}

// PauseControllerInterface - глобальная пауза и circuit breaker'ы.
// Реализуется bot.PauseController.
type PauseControllerInterface interface {
	Pause(scope, reason, actor string)
	Resume(actor string)
	State() models.PauseState
	TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error)
	ResolveBreaker(ctx context.Context, id int, actor string) error
	ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error)
	ResumeUser(ctx context.Context, userID int) error
}

// CredentialStoreInterface - шифрование и сохранение ключей венью.
// Реализуется bot.CredentialSource.
type CredentialStoreInterface interface {
	Store(ctx context.Context, userID int, venueName, apiKey, secretKey, wallet string) error
}

// RiskManagerInterface - защитный контур пользователя.
// Реализуется bot.UserRiskManager.
type RiskManagerInterface interface {
	Status(ctx context.Context, userID int) (*models.RiskTracking, error)
	RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error
	RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error
}

// Проверяем, что движок реализует интерфейсы
var _ JobRunnerInterface = (*bot.JobRunner)(nil)
var _ PauseControllerInterface = (*bot.PauseController)(nil)
var _ CredentialStoreInterface = (*bot.CredentialSource)(nil)
var _ RiskManagerInterface = (*bot.UserRiskManager)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// PositionServiceInterface определяет интерфейс сервиса позиций
type PositionServiceInterface interface {
	Open(ctx context.Context, req *OpenPositionRequest) (string, error)
	Close(ctx context.Context, userID, positionID int) (string, error)
	Get(ctx context.Context, userID, positionID int) (*models.Position, error)
	ListOpen(ctx context.Context, userID int) ([]*models.Position, error)
	History(ctx context.Context, userID, limit int) ([]*models.Position, error)
	Stats(ctx context.Context, userID int) (*models.UserStats, error)
	JobStatus(ctx context.Context, userID int, jobID string) (*models.Job, error)
}

// IntentServiceInterface определяет интерфейс сервиса интентов
type IntentServiceInterface interface {
	Create(ctx context.Context, req *CreateIntentRequest) (*models.Intent, error)
	Get(ctx context.Context, userID, intentID int) (*models.Intent, error)
	List(ctx context.Context, userID, limit int) ([]*models.Intent, error)
	Cancel(ctx context.Context, userID, intentID int) error
}

// StrategyServiceInterface определяет интерфейс сервиса конфигурации стратегии
type StrategyServiceInterface interface {
	Get(ctx context.Context, userID int) (*models.StrategyConfig, error)
	Update(ctx context.Context, userID int, req *UpdateStrategyRequest) (*models.StrategyConfig, error)
}

// CredentialServiceInterface определяет интерфейс сервиса ключей венью
type CredentialServiceInterface interface {
	Store(ctx context.Context, req *StoreCredentialRequest) error
	Status(ctx context.Context, userID int) ([]*CredentialStatus, error)
}

// PauseServiceInterface определяет интерфейс сервиса паузы и breaker'ов
type PauseServiceInterface interface {
	Pause(scope, reason, actor string) (models.PauseState, error)
	Resume(actor string) models.PauseState
	State() models.PauseState
	TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error)
	ResolveBreaker(ctx context.Context, id int, actor string) error
	ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error)
	BreakerHistory(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error)
}

// RiskServiceInterface определяет интерфейс сервиса защитного контура
type RiskServiceInterface interface {
	Status(ctx context.Context, userID int) (*models.RiskTracking, error)
	RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error
	RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error
	Resume(ctx context.Context, userID int) error
}

// EventServiceInterface определяет интерфейс сервиса журнала событий
type EventServiceInterface interface {
	History(ctx context.Context, limit int) ([]*models.Event, error)
	HistoryByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error)
	HistoryByUser(ctx context.Context, userID, limit int) ([]*models.Event, error)
	Count(ctx context.Context) (int, error)
}

// Проверяем, что сервисы реализуют интерфейсы
var _ PositionServiceInterface = (*PositionService)(nil)
var _ IntentServiceInterface = (*IntentService)(nil)
var _ StrategyServiceInterface = (*StrategyService)(nil)
var _ CredentialServiceInterface = (*CredentialService)(nil)
var _ PauseServiceInterface = (*PauseService)(nil)
var _ RiskServiceInterface = (*RiskService)(nil)
var _ EventServiceInterface = (*EventService)(nil)

// EventService также служит стоком событий движка
var _ bot.EventSink = (*EventService)(nil)
