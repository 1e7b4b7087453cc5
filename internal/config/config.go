package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Venue     VenueConfig
	Engine    EngineConfig
	Risk      RiskConfig
	Consensus ConsensusConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// AdminToken - общий админский credential для pause/resume.
	// Сравнивается constant-time (crypto/subtle).
	AdminToken string

	// AdminTokenBcrypt - альтернатива AdminToken: bcrypt-хеш токена.
	// Если задан, используется вместо сырого сравнения.
	AdminTokenBcrypt string

	// EncryptionKey - ключ AES-256 для шифрования venue credentials (32 байта)
	EncryptionKey string
}

// VenueConfig - настройки двух венью
type VenueConfig struct {
	LendingBaseURL string // Solana lending/margin протокол
	PerpBaseURL    string // Arbitrum perp-биржа
	RequestTimeout time.Duration
	RateLimit      float64 // запросов в секунду к каждой венью
	RateBurst      float64
}

// EngineConfig - настройки торгового ядра и воркеров
type EngineConfig struct {
	IntentScanInterval   time.Duration // цикл intent-сканера
	AutoScanInterval     time.Duration // цикл автономного сканера
	BreakerSweepInterval time.Duration // авто-восстановление breaker'ов
	StuckTxSweepInterval time.Duration // проверка зависших транзакций

	StuckTxTimeout time.Duration // SIGNED/SUBMITTED без CONFIRMED дольше этого = зависла
	OpLockTTL      time.Duration // TTL per-user лока "операция с позицией идёт"

	// Backoff воркеров: после WorkerErrorThreshold подряд ошибок
	// воркер отдыхает WorkerBackoff перед возвратом к обычному интервалу
	WorkerErrorThreshold int
	WorkerBackoff        time.Duration

	TrackedAssets []string // активы, которые оценивает автономный сканер
}

// RiskConfig - пороги риск-менеджера
type RiskConfig struct {
	MaxDrawdownPct      float64 // % просадки от пика для индивидуальной паузы
	MaxDailyTrades      int
	MaxConsecutiveFails int
	BorrowSafetyBuffer  float64 // множитель запаса borrow capacity при выборе протокола
}

// ConsensusConfig - проверка консенсуса цен между венью
type ConsensusConfig struct {
	MaxDeviationPct float64 // порог расхождения цен, %
	SlippageBps     float64 // базисные пункты для worst-case пары цен
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "deltahedge"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			AdminToken:       getEnv("ADMIN_TOKEN", ""),
			AdminTokenBcrypt: getEnv("ADMIN_TOKEN_BCRYPT", ""),
			EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
		},
		Venue: VenueConfig{
			LendingBaseURL: getEnv("LENDING_BASE_URL", "https://api.lending.example.com"),
			PerpBaseURL:    getEnv("PERP_BASE_URL", "https://api.perp.example.com"),
			RequestTimeout: getEnvAsDuration("VENUE_REQUEST_TIMEOUT", 10*time.Second),
			RateLimit:      getEnvAsFloat("VENUE_RATE_LIMIT", 10),
			RateBurst:      getEnvAsFloat("VENUE_RATE_BURST", 20),
		},
		Engine: EngineConfig{
			IntentScanInterval:   getEnvAsDuration("INTENT_SCAN_INTERVAL", 30*time.Second),
			AutoScanInterval:     getEnvAsDuration("AUTO_SCAN_INTERVAL", 60*time.Second),
			BreakerSweepInterval: getEnvAsDuration("BREAKER_SWEEP_INTERVAL", 30*time.Second),
			StuckTxSweepInterval: getEnvAsDuration("STUCK_TX_SWEEP_INTERVAL", 5*time.Second),
			StuckTxTimeout:       getEnvAsDuration("STUCK_TX_TIMEOUT", 15*time.Second),
			OpLockTTL:            getEnvAsDuration("OP_LOCK_TTL", 30*time.Second),
			WorkerErrorThreshold: getEnvAsInt("WORKER_ERROR_THRESHOLD", 5),
			WorkerBackoff:        getEnvAsDuration("WORKER_BACKOFF", 5*time.Minute),
			TrackedAssets:        getEnvAsList("TRACKED_ASSETS", []string{"SOL", "ETH", "BTC"}),
		},
		Risk: RiskConfig{
			MaxDrawdownPct:      getEnvAsFloat("MAX_DRAWDOWN_PCT", 20),
			MaxDailyTrades:      getEnvAsInt("MAX_DAILY_TRADES", 20),
			MaxConsecutiveFails: getEnvAsInt("MAX_CONSECUTIVE_FAILS", 3),
			BorrowSafetyBuffer:  getEnvAsFloat("BORROW_SAFETY_BUFFER", 1.2),
		},
		Consensus: ConsensusConfig{
			MaxDeviationPct: getEnvAsFloat("CONSENSUS_MAX_DEVIATION_PCT", 0.5),
			SlippageBps:     getEnvAsFloat("CONSENSUS_SLIPPAGE_BPS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования venue credentials
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting venue credentials")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Хотя бы один вариант админского credential обязателен
	if c.Security.AdminToken == "" && c.Security.AdminTokenBcrypt == "" {
		return fmt.Errorf("ADMIN_TOKEN or ADMIN_TOKEN_BCRYPT is required for pause/resume operations")
	}

	if c.Security.AdminToken != "" && len(c.Security.AdminToken) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.StuckTxTimeout <= 0 {
		return fmt.Errorf("STUCK_TX_TIMEOUT must be positive, got %v", c.Engine.StuckTxTimeout)
	}

	if c.Engine.OpLockTTL <= 0 {
		return fmt.Errorf("OP_LOCK_TTL must be positive, got %v", c.Engine.OpLockTTL)
	}

	if c.Engine.WorkerErrorThreshold < 1 {
		return fmt.Errorf("WORKER_ERROR_THRESHOLD must be at least 1, got %d", c.Engine.WorkerErrorThreshold)
	}

	if len(c.Engine.TrackedAssets) == 0 {
		return fmt.Errorf("TRACKED_ASSETS cannot be empty")
	}

	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("MAX_DRAWDOWN_PCT must be in (0, 100], got %v", c.Risk.MaxDrawdownPct)
	}

	if c.Risk.MaxDailyTrades < 1 {
		return fmt.Errorf("MAX_DAILY_TRADES must be at least 1, got %d", c.Risk.MaxDailyTrades)
	}

	if c.Risk.BorrowSafetyBuffer < 1 {
		return fmt.Errorf("BORROW_SAFETY_BUFFER must be >= 1, got %v", c.Risk.BorrowSafetyBuffer)
	}

	if c.Consensus.MaxDeviationPct <= 0 {
		return fmt.Errorf("CONSENSUS_MAX_DEVIATION_PCT must be positive, got %v", c.Consensus.MaxDeviationPct)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
