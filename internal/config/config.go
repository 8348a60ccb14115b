package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// StorageDriver は永続化方式を表す。
type StorageDriver string

const (
	// StorageJSON はDATA_DIR配下のJSONファイルに保存する。
	StorageJSON StorageDriver = "json"
	// StorageMemory はプロセス内のメモリにのみ保持する。再起動で消える。
	StorageMemory StorageDriver = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	DataDir       string
	StorageDriver StorageDriver

	// Server
	ServerHost string
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Loans
	LoanPeriod          time.Duration
	OverdueScanInterval time.Duration

	// Listing
	DefaultPageSize int

	// Auth
	BcryptCost int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitAuth    int

	// Observability
	MetricsEnabled bool
	LogLevel       string
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// Load は環境変数からConfigを読み込む。
// 解釈できない値はデフォルト値を使う。意味的に不正な値の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:             getEnvString("DATA_DIR", "./data"),
		StorageDriver:       StorageDriver(strings.ToLower(getEnvString("STORAGE_DRIVER", string(StorageJSON)))),
		ServerHost:          os.Getenv("SERVER_HOST"),
		ServerPort:          getEnvString("SERVER_PORT", "8000"),
		CORSAllowedOrigin:   getEnvString("CORS_ALLOWED_ORIGIN", "*"),
		LoanPeriod:          getEnvDuration("LOAN_PERIOD", 14*24*time.Hour),
		OverdueScanInterval: getEnvDuration("OVERDUE_SCAN_INTERVAL", time.Hour),
		DefaultPageSize:     getEnvInt("DEFAULT_PAGE_SIZE", 10),
		BcryptCost:          getEnvInt("BCRYPT_COST", bcrypt.DefaultCost),
		RateLimitGeneral:    getEnvInt("RATE_LIMIT_GENERAL", 120),
		RateLimitAuth:       getEnvInt("RATE_LIMIT_AUTH", 10),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
		LogLevel:            getEnvString("LOG_LEVEL", "info"),
	}

	var problems []string
	switch cfg.StorageDriver {
	case StorageJSON, StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_DRIVER must be json or memory, got %q", cfg.StorageDriver))
	}
	if cfg.LoanPeriod <= 0 {
		problems = append(problems, fmt.Sprintf("LOAN_PERIOD must be positive, got %s", cfg.LoanPeriod))
	}
	if cfg.DefaultPageSize < 1 {
		problems = append(problems, fmt.Sprintf("DEFAULT_PAGE_SIZE must be at least 1, got %d", cfg.DefaultPageSize))
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		problems = append(problems, fmt.Sprintf("BCRYPT_COST must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, cfg.BcryptCost))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
