package config

import "time"

// ServerConfig holds runtime configuration for the orchestration server.
type ServerConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	ProxyTokenSecret   string
	SecretsKey         string
	ProxyDomain        string
	AccessTokenTTL     time.Duration
	LogBuffer          int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int

	// Execution channel selection: "docker" drives the local daemon,
	// "vm" a Lima-style local virtual machine, "ssh" a dedicated host.
	ExecBackend string

	VMInstance string
	VMUser     string
	VMKeyPath  string

	SSHHost    string
	SSHPort    int
	SSHUser    string
	SSHKeyPath string
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://pinacle:pinacle@db:5432/pinacle?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		ProxyTokenSecret:   GetString("PROXY_TOKEN_SECRET", "supersecuresecret"),
		SecretsKey:         GetString("SECRETS_ENCRYPTION_KEY", "supersecuresecret"),
		ProxyDomain:        GetString("PROXY_DOMAIN", "pinacle.dev"),
		AccessTokenTTL:     GetDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		LogBuffer:          GetInt("WS_LOG_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ExecBackend:        GetString("EXEC_BACKEND", "docker"),
		VMInstance:         GetString("VM_INSTANCE", "pinacle"),
		VMUser:             GetString("VM_SSH_USER", "pinacle"),
		VMKeyPath:          GetString("VM_SSH_KEY_PATH", ""),
		SSHHost:            GetString("SSH_HOST", ""),
		SSHPort:            GetInt("SSH_PORT", 22),
		SSHUser:            GetString("SSH_USER", "root"),
		SSHKeyPath:         GetString("SSH_KEY_PATH", ""),
	}
}
