// Package config validates and loads StoryFill's environment
// configuration once at startup and logs the result with secrets
// redacted.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyfill/internal/logging"
)

// Config holds the validated environment configuration for the
// StoryFill server.
type Config struct {
	Port  string
	GoEnv string

	LogLevel       string
	AllowedOrigins []string

	RoomTTL            time.Duration
	DisconnectGrace    time.Duration
	PromptsPerPlayer   int
	MinPlayersToStart  int
	MaxPlayersPerRoom  int
	ShareTTL           time.Duration
	SocketIdleTimeout  time.Duration
	TemplatesFile      string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	RateLimitIPCreateRoom string
	RateLimitIPJoinRoom   string
	RateLimitSubmitBurst  string
	RateLimitSubmitWindow string

	OtelCollectorAddr string
}

// Load validates all required environment variables and returns a
// Config. It never panics; validation errors are aggregated into a
// single error so a misconfigured deployment fails fast with a
// complete list of what's wrong.
func Load() (*Config, error) {
	cfg := &Config{}
	var problems []string

	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	origins := getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	cfg.RoomTTL = durationFromSeconds("ROOM_TTL", 3600)
	cfg.DisconnectGrace = durationFromSeconds("DISCONNECT_GRACE", 30)
	cfg.PromptsPerPlayer = intFromEnv("PROMPTS_PER_PLAYER", 3)
	cfg.MinPlayersToStart = intFromEnv("MIN_PLAYERS_TO_START", 2)
	cfg.MaxPlayersPerRoom = intFromEnv("MAX_PLAYERS_PER_ROOM", 12)
	cfg.ShareTTL = durationFromSeconds("SHARE_TTL", 3600)
	cfg.SocketIdleTimeout = durationFromSeconds("SOCKET_IDLE_TIMEOUT", 60)
	cfg.TemplatesFile = os.Getenv("TEMPLATES_FILE")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitIPCreateRoom = getEnvOrDefault("RATE_LIMIT_IP_CREATE_ROOM", "10-M")
	cfg.RateLimitIPJoinRoom = getEnvOrDefault("RATE_LIMIT_IP_JOIN_ROOM", "30-M")
	cfg.RateLimitSubmitBurst = getEnvOrDefault("RATE_LIMIT_SUBMIT_BURST", "1-S")
	cfg.RateLimitSubmitWindow = getEnvOrDefault("RATE_LIMIT_SUBMIT_WINDOW", "60-M")

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(problems) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func durationFromSeconds(key string, def int) time.Duration {
	return time.Duration(intFromEnv(key, def)) * time.Second
}

func intFromEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func logValidatedConfig(cfg *Config) {
	logging.Info(nil, "environment configuration validated",
		zap.String("port", cfg.Port),
		zap.String("go_env", cfg.GoEnv),
		zap.Duration("room_ttl", cfg.RoomTTL),
		zap.Duration("disconnect_grace", cfg.DisconnectGrace),
		zap.Int("prompts_per_player", cfg.PromptsPerPlayer),
		zap.Int("min_players_to_start", cfg.MinPlayersToStart),
		zap.Int("max_players_per_room", cfg.MaxPlayersPerRoom),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
	)
}
