// Package integration contains integration tests for the delta-neutral engine.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle
// - WebSocket tests: connection, broadcast messaging
// - Database tests: schema, transactions, repositories
//
// Tests skip themselves when the test database is unreachable.
// Run with: go test ./tests/integration/...
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"deltahedge/internal/api"
	"deltahedge/internal/bot"
	"deltahedge/internal/config"
	"deltahedge/internal/repository"
	"deltahedge/internal/service"
	"deltahedge/internal/websocket"
)

// testEncryptionKey ровно 32 байта, как требует AES-256
const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// testAdminToken используется админскими endpoints в тестах
const testAdminToken = "integration-admin-token"

// TestConfig contains configuration for integration tests
type TestConfig struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	DB      *sql.DB
	Router  *mux.Router
	Server  *httptest.Server
	Hub     *websocket.Hub
	Repos   *TestRepositories
	Events  *service.EventService
	Cleanup func()
}

// TestRepositories contains all repository instances for testing
type TestRepositories struct {
	Position   *repository.PositionRepository
	Intent     *repository.IntentRepository
	Strategy   *repository.StrategyRepository
	Credential *repository.CredentialRepository
	Event      *repository.EventRepository
	Breaker    *repository.BreakerRepository
	Risk       *repository.RiskRepository
	Job        *repository.JobRepository
	OpLock     *repository.OpLockRepository
	Locker     *repository.AdvisoryLocker
}

// getTestConfig returns configuration from environment variables or defaults
func getTestConfig() TestConfig {
	return TestConfig{
		DBDriver:   getEnv("TEST_DB_DRIVER", "postgres"),
		DBHost:     getEnv("TEST_DB_HOST", "localhost"),
		DBPort:     getEnv("TEST_DB_PORT", "5432"),
		DBName:     getEnv("TEST_DB_NAME", "deltahedge_test"),
		DBUser:     getEnv("TEST_DB_USER", "postgres"),
		DBPassword: getEnv("TEST_DB_PASSWORD", "postgres"),
		DBSSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupTestDB creates a test database connection
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	cfg := getTestConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
	)

	db, err := sql.Open(cfg.DBDriver, connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil, func() {}
	}

	if err := db.Ping(); err != nil {
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
		return nil, func() {}
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}

	return db, cleanup
}

// initTestTables creates the schema used by repositories
func initTestTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL,
			asset TEXT NOT NULL,
			leverage NUMERIC NOT NULL,
			total_pnl NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'open',
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL,
			long_protocol TEXT NOT NULL DEFAULT '',
			long_collateral_usd NUMERIC NOT NULL DEFAULT 0,
			long_borrowed_usd NUMERIC NOT NULL DEFAULT 0,
			long_health_factor NUMERIC NOT NULL DEFAULT 0,
			long_entry_price NUMERIC NOT NULL DEFAULT 0,
			long_mark_price NUMERIC NOT NULL DEFAULT 0,
			short_notional_usd NUMERIC NOT NULL DEFAULT 0,
			short_margin_usd NUMERIC NOT NULL DEFAULT 0,
			short_margin_fraction NUMERIC NOT NULL DEFAULT 0,
			short_entry_price NUMERIC NOT NULL DEFAULT 0,
			short_mark_price NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS intents (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL,
			asset TEXT NOT NULL,
			leverage NUMERIC NOT NULL,
			size_usd NUMERIC NOT NULL,
			min_funding_rate NUMERIC,
			max_funding_volatility NUMERIC,
			max_entry_price NUMERIC,
			expires_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'pending',
			criteria_snapshot TEXT,
			position_id INTEGER,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS intents_user_asset_active
			ON intents (user_id, asset)
			WHERE status IN ('pending', 'active')`,
		`CREATE TABLE IF NOT EXISTS strategy_configs (
			user_id INTEGER PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			min_carry_apy NUMERIC NOT NULL DEFAULT 0,
			min_funding_rate NUMERIC NOT NULL DEFAULT 0,
			max_funding_volatility NUMERIC NOT NULL DEFAULT 0,
			size_pct_of_balance NUMERIC NOT NULL DEFAULT 0,
			max_concurrent_positions INTEGER NOT NULL DEFAULT 1,
			max_leverage NUMERIC NOT NULL DEFAULT 2,
			exit_carry_apy NUMERIC NOT NULL DEFAULT 0,
			cooldown_minutes INTEGER NOT NULL DEFAULT 60,
			cooldown_at_close BOOLEAN NOT NULL DEFAULT FALSE,
			last_close_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS venue_credentials (
			id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL,
			venue TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			secret_key TEXT NOT NULL DEFAULT '',
			wallet TEXT NOT NULL DEFAULT '',
			connected BOOLEAN NOT NULL DEFAULT FALSE,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, venue)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			user_id INTEGER,
			message TEXT NOT NULL DEFAULT '',
			meta TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
			id SERIAL PRIMARY KEY,
			breaker_type TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT 'ALL',
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			auto_recovery BOOLEAN NOT NULL DEFAULT FALSE,
			triggered_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			resolved_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS user_risk_tracking (
			user_id INTEGER PRIMARY KEY,
			peak_balance_usd NUMERIC NOT NULL DEFAULT 0,
			current_balance_usd NUMERIC NOT NULL DEFAULT 0,
			has_peak BOOLEAN NOT NULL DEFAULT FALSE,
			daily_trade_count INTEGER NOT NULL DEFAULT 0,
			daily_trade_date TEXT NOT NULL DEFAULT '',
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_failure_reason TEXT NOT NULL DEFAULT '',
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			pause_reason TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			position_id INTEGER,
			error_code TEXT NOT NULL DEFAULT '',
			error_stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS tx_intents (
			intent_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS position_op_locks (
			user_id INTEGER PRIMARY KEY,
			acquired_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// truncateTables очищает данные между тестами, схема остаётся
func truncateTables(db *sql.DB) error {
	tables := []string{
		"positions", "intents", "strategy_configs", "venue_credentials",
		"events", "circuit_breaker_events", "user_risk_tracking",
		"jobs", "tx_intents", "position_op_locks",
	}
	for _, table := range tables {
		if _, err := db.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// SetupTestServer creates a complete test server with all components.
//
// Торговое ядро (JobRunner/PositionManager) не поднимается: оно требует
// живые венью, поэтому position endpoints в этих тестах не проверяются.
// Всё остальное идёт через реальные слои: handler -> service -> repository -> БД.
func SetupTestServer(t *testing.T) *TestServer {
	db, dbCleanup := SetupTestDB(t)
	if db == nil {
		return nil
	}

	if err := initTestTables(db); err != nil {
		dbCleanup()
		t.Skipf("Skipping integration test: cannot initialize tables: %v", err)
		return nil
	}
	if err := truncateTables(db); err != nil {
		dbCleanup()
		t.Skipf("Skipping integration test: cannot truncate tables: %v", err)
		return nil
	}

	logger := zap.NewNop()

	hub := websocket.NewHub(logger)
	go hub.Run()

	repos := &TestRepositories{
		Position:   repository.NewPositionRepository(db),
		Intent:     repository.NewIntentRepository(db),
		Strategy:   repository.NewStrategyRepository(db),
		Credential: repository.NewCredentialRepository(db),
		Event:      repository.NewEventRepository(db),
		Breaker:    repository.NewBreakerRepository(db),
		Risk:       repository.NewRiskRepository(db),
		Job:        repository.NewJobRepository(db),
		OpLock:     repository.NewOpLockRepository(db),
		Locker:     repository.NewAdvisoryLocker(db),
	}

	eventService := service.NewEventService(repos.Event, logger)
	eventService.SetBroadcaster(hub)

	pauseController := bot.NewPauseController(repos.Breaker, repos.Risk, logger)
	riskManager := bot.NewUserRiskManager(repos.Risk, pauseController, config.RiskConfig{
		MaxDrawdownPct:      30,
		MaxDailyTrades:      20,
		MaxConsecutiveFails: 5,
		BorrowSafetyBuffer:  0.8,
	}, logger)
	credentialSource := bot.NewCredentialSource(repos.Credential, testEncryptionKey)

	deps := &api.Dependencies{
		IntentService:     service.NewIntentService(repos.Intent),
		StrategyService:   service.NewStrategyService(repos.Strategy),
		CredentialService: service.NewCredentialService(credentialSource, repos.Credential),
		PauseService:      service.NewPauseService(pauseController, repos.Breaker),
		RiskService:       service.NewRiskService(riskManager, pauseController),
		EventService:      eventService,
		Hub:               hub,
		Logger:            logger,
		AdminToken:        testAdminToken,
	}

	router := api.SetupRoutes(deps)
	server := httptest.NewServer(router)

	return &TestServer{
		DB:     db,
		Router: router,
		Server: server,
		Hub:    hub,
		Repos:  repos,
		Events: eventService,
		Cleanup: func() {
			server.Close()
			hub.Stop()
			dbCleanup()
		},
	}
}

// cleanupContext общий таймаут для прямых обращений к репозиториям в тестах
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
