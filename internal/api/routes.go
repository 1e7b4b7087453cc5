package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"deltahedge/internal/api/handlers"
	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
	"deltahedge/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PositionService   service.PositionServiceInterface
	IntentService     service.IntentServiceInterface
	StrategyService   service.StrategyServiceInterface
	CredentialService service.CredentialServiceInterface
	PauseService      service.PauseServiceInterface
	RiskService       service.RiskServiceInterface
	EventService      service.EventServiceInterface

	Hub    *websocket.Hub
	Logger *zap.Logger

	// Admin-токен: сырой и/или bcrypt-хеш
	AdminToken       string
	AdminTokenBcrypt string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (требуют X-User-ID)
//
//	├── /positions/
//	│   ├── GET / - открытые позиции
//	│   ├── POST / - открыть позицию (202 + job id)
//	│   ├── GET /history - история позиций
//	│   ├── GET /stats - агрегированная статистика
//	│   ├── GET /{id} - конкретная позиция
//	│   └── POST /{id}/close - закрыть позицию (202 + job id)
//	├── /jobs/{id} - статус асинхронной операции
//	├── /intents/
//	│   ├── GET / - список интентов
//	│   ├── POST / - создать интент
//	│   ├── GET /{id} - конкретный интент
//	│   └── DELETE /{id} - отменить интент
//	├── /strategy/
//	│   ├── GET / - конфигурация стратегии
//	│   └── PATCH / - частичное обновление
//	├── /credentials/
//	│   ├── GET / - статус подключения венью
//	│   └── PUT / - сохранить ключи
//	├── /risk/
//	│   ├── GET / - состояние защитного контура
//	│   ├── POST /deposit - учесть депозит
//	│   ├── POST /withdrawal - учесть вывод
//	│   └── POST /resume - выход из авто-паузы
//	└── /events - журнал событий
//
// /api/v1/admin/ (требуют Bearer admin-токен)
//
//	├── GET/POST /pause - состояние/включение паузы
//	├── POST /resume - снятие паузы
//	├── GET /breakers - активные breaker'ы
//	├── GET /breakers/history - история срабатываний
//	├── POST /breakers/trigger - ручное срабатывание
//	└── POST /breakers/{id}/resolve - разрешение
//
// /ws/stream - WebSocket для real-time обновлений
// /health    - liveness probe
// /metrics   - Prometheus метрики
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. UserAuth / AdminAuth (для соответствующих групп)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	// Админские маршруты регистрируются раньше user-scoped:
	// mux не проваливается сквозь совпавший PathPrefix
	if deps.PauseService != nil {
		admin := router.PathPrefix("/api/v1/admin").Subrouter()
		admin.Use(middleware.AdminAuth(deps.AdminToken, deps.AdminTokenBcrypt))

		pauseHandler := handlers.NewPauseHandler(deps.PauseService)
		admin.HandleFunc("/pause", pauseHandler.State).Methods("GET")
		admin.HandleFunc("/pause", pauseHandler.Pause).Methods("POST")
		admin.HandleFunc("/resume", pauseHandler.Resume).Methods("POST")
		admin.HandleFunc("/breakers", pauseHandler.ActiveBreakers).Methods("GET")
		admin.HandleFunc("/breakers/history", pauseHandler.BreakerHistory).Methods("GET")
		admin.HandleFunc("/breakers/trigger", pauseHandler.TriggerBreaker).Methods("POST")
		admin.HandleFunc("/breakers/{id}/resolve", pauseHandler.ResolveBreaker).Methods("POST")
	}

	// API v1: user-scoped маршруты
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.UserAuth)

	if deps.PositionService != nil {
		positionHandler := handlers.NewPositionHandler(deps.PositionService)
		api.HandleFunc("/positions", positionHandler.List).Methods("GET")
		api.HandleFunc("/positions", positionHandler.Open).Methods("POST")
		api.HandleFunc("/positions/history", positionHandler.History).Methods("GET")
		api.HandleFunc("/positions/stats", positionHandler.Stats).Methods("GET")
		api.HandleFunc("/positions/{id}", positionHandler.Get).Methods("GET")
		api.HandleFunc("/positions/{id}/close", positionHandler.Close).Methods("POST")
		api.HandleFunc("/jobs/{id}", positionHandler.JobStatus).Methods("GET")
	}

	if deps.IntentService != nil {
		intentHandler := handlers.NewIntentHandler(deps.IntentService)
		api.HandleFunc("/intents", intentHandler.List).Methods("GET")
		api.HandleFunc("/intents", intentHandler.Create).Methods("POST")
		api.HandleFunc("/intents/{id}", intentHandler.Get).Methods("GET")
		api.HandleFunc("/intents/{id}", intentHandler.Cancel).Methods("DELETE")
	}

	if deps.StrategyService != nil {
		strategyHandler := handlers.NewStrategyHandler(deps.StrategyService)
		api.HandleFunc("/strategy", strategyHandler.Get).Methods("GET")
		api.HandleFunc("/strategy", strategyHandler.Update).Methods("PATCH")
	}

	if deps.CredentialService != nil {
		credentialHandler := handlers.NewCredentialHandler(deps.CredentialService)
		api.HandleFunc("/credentials", credentialHandler.Status).Methods("GET")
		api.HandleFunc("/credentials", credentialHandler.Store).Methods("PUT")
	}

	if deps.RiskService != nil {
		riskHandler := handlers.NewRiskHandler(deps.RiskService)
		api.HandleFunc("/risk", riskHandler.Status).Methods("GET")
		api.HandleFunc("/risk/deposit", riskHandler.RecordDeposit).Methods("POST")
		api.HandleFunc("/risk/withdrawal", riskHandler.RecordWithdrawal).Methods("POST")
		api.HandleFunc("/risk/resume", riskHandler.Resume).Methods("POST")
	}

	if deps.EventService != nil {
		eventHandler := handlers.NewEventHandler(deps.EventService)
		api.HandleFunc("/events", eventHandler.List).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
