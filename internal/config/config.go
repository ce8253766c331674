package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - структура для хранения конфигурации сервера
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis Config
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass        string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	IncidentCacheTTL time.Duration `env:"INCIDENT_CACHE_TTL" envDefault:"5m"`

	// Webhook Config (эскалация инцидентов высокой важности)
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"1s"`

	// Session Config
	JWTSecret    string        `env:"JWT_SECRET"`
	AllowedRoles []string      `env:"ALLOWED_ROLES" envDefault:"police"`
	AuthTimeout  time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`

	// API Keys для внешнего сервиса инцидентов
	APIKeys []string `env:"API_KEYS"`
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvAsInt("REDIS_DB", 0),
		IncidentCacheTTL:  getEnvAsDuration("INCIDENT_CACHE_TTL", 5*time.Minute),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:    getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries: getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:  getEnvAsDuration("WEBHOOK_BASE_DELAY", time.Second),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedRoles:      getEnvAsList("ALLOWED_ROLES", []string{"police"}),
		AuthTimeout:       getEnvAsDuration("AUTH_TIMEOUT", 10*time.Second),
		APIKeys:           getEnvAsList("API_KEYS", nil),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	return cfg, nil
}

// RoleAllowed проверяет, может ли роль открыть сессию
func (c *Config) RoleAllowed(role string) bool {
	if len(c.AllowedRoles) == 0 {
		return true
	}
	for _, r := range c.AllowedRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// AgentConfig - конфигурация полевого клиента
type AgentConfig struct {
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	AuthToken string `env:"AUTH_TOKEN"`
	DeviceID  string `env:"DEVICE_ID" envDefault:"default"`
	StateDir  string `env:"STATE_DIR" envDefault:".falconwatch"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Routing Config
	RoutingURL      string        `env:"ROUTING_URL"`
	RoutingProfile  string        `env:"ROUTING_PROFILE" envDefault:"driving"`
	RoutingToken    string        `env:"ROUTING_TOKEN"`
	RoutingTimeout  time.Duration `env:"ROUTING_TIMEOUT" envDefault:"5s"`
	RoutingDebounce time.Duration `env:"ROUTING_DEBOUNCE" envDefault:"500ms"`
	RoutingRPS      float64       `env:"ROUTING_RPS" envDefault:"2"`

	// Clustering Config
	ClusterRadius    float64 `env:"CLUSTER_RADIUS" envDefault:"40"`
	ClusterMaxZoom   int     `env:"CLUSTER_MAX_ZOOM" envDefault:"16"`
	ClusterMinPoints int     `env:"CLUSTER_MIN_POINTS" envDefault:"4"`

	PatrolMode bool `env:"PATROL_MODE" envDefault:"false"`

	// ALERT_COMMAND - команда проигрывания тревожного звука, например "aplay alert.wav"
	AlertCommand   []string      `env:"ALERT_COMMAND"`
	StatusInterval time.Duration `env:"STATUS_INTERVAL" envDefault:"30s"`
}

// LoadAgentConfig загружает конфигурацию полевого клиента
func LoadAgentConfig() (*AgentConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}

	cfg := &AgentConfig{
		ServerURL:        strings.TrimRight(getEnv("SERVER_URL", "http://localhost:8080"), "/"),
		AuthToken:        os.Getenv("AUTH_TOKEN"),
		DeviceID:         getEnv("DEVICE_ID", "default"),
		StateDir:         getEnv("STATE_DIR", ".falconwatch"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RoutingURL:       strings.TrimRight(os.Getenv("ROUTING_URL"), "/"),
		RoutingProfile:   getEnv("ROUTING_PROFILE", "driving"),
		RoutingToken:     os.Getenv("ROUTING_TOKEN"),
		RoutingTimeout:   getEnvAsDuration("ROUTING_TIMEOUT", 5*time.Second),
		RoutingDebounce:  getEnvAsDuration("ROUTING_DEBOUNCE", 500*time.Millisecond),
		RoutingRPS:       getEnvAsFloat("ROUTING_RPS", 2),
		ClusterRadius:    getEnvAsFloat("CLUSTER_RADIUS", 40),
		ClusterMaxZoom:   getEnvAsInt("CLUSTER_MAX_ZOOM", 16),
		ClusterMinPoints: getEnvAsInt("CLUSTER_MIN_POINTS", 4),
		PatrolMode:       getEnvAsBool("PATROL_MODE", false),
		AlertCommand:     strings.Fields(os.Getenv("ALERT_COMMAND")),
		StatusInterval:   getEnvAsDuration("STATUS_INTERVAL", 30*time.Second),
	}

	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("AUTH_TOKEN environment variable is required")
	}

	return cfg, nil
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

// getEnvAsList разбирает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
