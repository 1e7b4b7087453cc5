package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"deltahedge/internal/api"
	"deltahedge/internal/bot"
	"deltahedge/internal/config"
	"deltahedge/internal/logging"
	"deltahedge/internal/repository"
	"deltahedge/internal/service"
	"deltahedge/internal/venue"
	"deltahedge/internal/websocket"
)

func main() {
	// .env опционален: в проде конфигурация приходит из окружения
	_ = godotenv.Load()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("connected to database")

	// Инициализация репозиториев
	positionRepo := repository.NewPositionRepository(db)
	intentRepo := repository.NewIntentRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	credentialRepo := repository.NewCredentialRepository(db)
	eventRepo := repository.NewEventRepository(db)
	breakerRepo := repository.NewBreakerRepository(db)
	riskRepo := repository.NewRiskRepository(db)
	jobRepo := repository.NewJobRepository(db)
	txIntentRepo := repository.NewTxIntentRepository(db)
	opLockRepo := repository.NewOpLockRepository(db)
	advisoryLocker := repository.NewAdvisoryLocker(db)

	// Клиенты венью
	lendingClient := venue.NewLendingClient(
		cfg.Venue.LendingBaseURL,
		cfg.Venue.RequestTimeout,
		cfg.Venue.RateLimit,
		cfg.Venue.RateBurst,
		logger.Named("lending"),
	)
	perpClient := venue.NewPerpClient(
		cfg.Venue.PerpBaseURL,
		cfg.Venue.RequestTimeout,
		cfg.Venue.RateLimit,
		cfg.Venue.RateBurst,
		logger.Named("perp"),
	)

	// WebSocket hub для real-time обновлений
	hub := websocket.NewHub(logger.Named("ws"))
	go hub.Run()

	// Журнал событий: синхронный broadcast + асинхронная запись в БД
	eventService := service.NewEventService(eventRepo, logger.Named("events"))
	eventService.SetBroadcaster(hub)

	// Торговое ядро
	pauseController := bot.NewPauseController(breakerRepo, riskRepo, logger.Named("pause"))
	riskManager := bot.NewUserRiskManager(riskRepo, pauseController, cfg.Risk, logger.Named("risk"))
	credentialSource := bot.NewCredentialSource(credentialRepo, cfg.Security.EncryptionKey)
	consensus := bot.NewConsensusChecker(
		lendingClient,
		perpClient,
		cfg.Consensus.MaxDeviationPct,
		cfg.Consensus.SlippageBps,
		logger.Named("consensus"),
	)
	txStateMachine := bot.NewTxStateMachine(txIntentRepo, logger.Named("txstate"))
	txExecutor := bot.NewTxExecutor(txStateMachine, lendingClient, cfg.Engine.StuckTxTimeout, logger.Named("txexec"))

	positionManager := bot.NewPositionManager(
		db,
		positionRepo,
		intentRepo,
		strategyRepo,
		txExecutor,
		lendingClient,
		perpClient,
		consensus,
		pauseController,
		riskManager,
		credentialSource,
		cfg.Risk,
		eventService,
		logger.Named("positions"),
	)

	jobRunner := bot.NewJobRunner(jobRepo, opLockRepo, positionManager, cfg.Engine.OpLockTTL, logger.Named("jobs"))

	// Job'ы, осиротевшие после рестарта, помечаются failed
	if err := jobRunner.RecoverOrphaned(context.Background()); err != nil {
		logger.Warn("failed to recover orphaned jobs", zap.Error(err))
	}

	intentScanner := bot.NewIntentScanner(intentRepo, perpClient, pauseController, riskManager, jobRunner, logger.Named("intents"))
	autoScanner := bot.NewAutoScanner(
		strategyRepo,
		positionRepo,
		advisoryLocker,
		perpClient,
		lendingClient,
		pauseController,
		riskManager,
		credentialSource,
		jobRunner,
		cfg.Engine,
		logger.Named("autoscan"),
	)

	// Фоновые воркеры под supervisor'ом с backoff при серии ошибок
	supervisor := bot.NewSupervisor(cfg.Engine.WorkerErrorThreshold, cfg.Engine.WorkerBackoff, logger.Named("workers"))
	supervisor.Register("intent-scanner", cfg.Engine.IntentScanInterval, intentScanner.Scan)
	supervisor.Register("auto-scanner", cfg.Engine.AutoScanInterval, autoScanner.Scan)
	supervisor.Register("breaker-sweep", cfg.Engine.BreakerSweepInterval, func(ctx context.Context) error {
		_, err := pauseController.Sweep(ctx, time.Now())
		return err
	})
	supervisor.Register("stuck-tx-sweep", cfg.Engine.StuckTxSweepInterval, func(ctx context.Context) error {
		_, err := txExecutor.SweepStuck(ctx)
		return err
	})
	supervisor.Register("event-prune", 24*time.Hour, func(ctx context.Context) error {
		_, err := eventService.Prune(ctx, time.Now().AddDate(0, 0, -30))
		return err
	})

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	supervisor.Start(workerCtx)

	// Сервисный слой
	deps := &api.Dependencies{
		PositionService:   service.NewPositionService(positionRepo, jobRunner),
		IntentService:     service.NewIntentService(intentRepo),
		StrategyService:   service.NewStrategyService(strategyRepo),
		CredentialService: service.NewCredentialService(credentialSource, credentialRepo),
		PauseService:      service.NewPauseService(pauseController, breakerRepo),
		RiskService:       service.NewRiskService(riskManager, pauseController),
		EventService:      eventService,
		Hub:               hub,
		Logger:            logger.Named("http"),
		AdminToken:        cfg.Security.AdminToken,
		AdminTokenBcrypt:  cfg.Security.AdminTokenBcrypt,
	}

	// Настройка HTTP роутера
	router := api.SetupRoutes(deps)

	// HTTP сервер
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в отдельной горутине
	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if cfg.Server.UseHTTPS {
			if err := server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		} else {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("server failed", zap.Error(err))
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Сначала останавливаем воркеры, чтобы не стартовали новые операции
	cancelWorkers()
	supervisor.Stop(10 * time.Second)
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
