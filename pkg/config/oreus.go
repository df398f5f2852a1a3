package config

import "time"

// Config holds runtime configuration for the orchestrator service.
type Config struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	WorkspaceRoot string

	DevServerPortBase  int
	DevServerPortCount int
	DevServerLogLines  int
	DevServerReady     time.Duration
	DevServerStop      time.Duration

	EnvEncryptionKey string

	DeployBackendURL     string
	DeployBackendToken   string
	DeployDispatchRetry  int
	DeployRequestTimeout time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("OREUS_ADDR", ":8000"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://oreus:oreus@db:5432/oreus?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		WorkspaceRoot:        GetString("OREUS_WORKSPACE_ROOT", "/tmp/oreus-projects"),
		DevServerPortBase:    GetInt("DEV_SERVER_PORT_BASE", 3000),
		DevServerPortCount:   GetInt("DEV_SERVER_PORT_COUNT", 100),
		DevServerLogLines:    GetInt("DEV_SERVER_LOG_LINES", 500),
		DevServerReady:       GetSeconds("DEV_SERVER_READY_SECONDS", 10*time.Second),
		DevServerStop:        GetSeconds("DEV_SERVER_STOP_SECONDS", 5*time.Second),
		EnvEncryptionKey:     GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		DeployBackendURL:     GetString("DEPLOY_BACKEND_URL", ""),
		DeployBackendToken:   GetString("DEPLOY_BACKEND_TOKEN", ""),
		DeployDispatchRetry:  GetInt("DEPLOY_DISPATCH_RETRIES", 3),
		DeployRequestTimeout: GetSeconds("DEPLOY_REQUEST_TIMEOUT_SECONDS", 30*time.Second),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
