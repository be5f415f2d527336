// Package config loads process configuration into viper and exposes typed
// views of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var bindings = map[string]string{
	"server.port":            "PORT",
	"server.read_timeout":    "SERVER_READ_TIMEOUT",
	"server.write_timeout":   "SERVER_WRITE_TIMEOUT",
	"server.request_timeout": "SERVER_REQUEST_TIMEOUT",
	"server.allowed_origins": "SERVER_ALLOWED_ORIGINS",

	"database.driver":   "DATABASE_DRIVER",
	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"jwt.secret_key":           "JWT_SECRET_KEY",
	"jwt.expiry_hours":         "JWT_EXPIRY_HOURS",
	"jwt.child_expiry_minutes": "JWT_CHILD_EXPIRY_MINUTES",

	"argon2.time":        "ARGON2_TIME",
	"argon2.memory":      "ARGON2_MEMORY",
	"argon2.threads":     "ARGON2_THREADS",
	"argon2.key_length":  "ARGON2_KEY_LENGTH",
	"argon2.salt_length": "ARGON2_SALT_LENGTH",

	"auth.login_attempts": "AUTH_LOGIN_ATTEMPTS",
	"auth.login_window":   "AUTH_LOGIN_WINDOW",

	"scheduler.enabled":     "SCHEDULER_ENABLED",
	"scheduler.interval":    "SCHEDULER_INTERVAL",
	"scheduler.lock_key":    "SCHEDULER_LOCK_KEY",
	"scheduler.lock_ttl":    "SCHEDULER_LOCK_TTL",
	"scheduler.instance_id": "SCHEDULER_INSTANCE_ID",

	"events.queue": "EVENTS_QUEUE",

	"log.development": "LOG_DEVELOPMENT",
	"log.level":       "LOG_LEVEL",
}

// Init loads .env into the environment when present and binds every key.
// A missing .env file is not an error.
func Init(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	viper.AutomaticEnv()
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	SetDefaults()
	return nil
}

// SetDefaults registers defaults for every key this package reads.
func SetDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.request_timeout", 60*time.Second)
	viper.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("jwt.child_expiry_minutes", 60)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("auth.login_attempts", 10)
	viper.SetDefault("auth.login_window", 15*time.Minute)

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.interval", time.Hour)
	viper.SetDefault("scheduler.lock_key", "scheduler:tick")
	viper.SetDefault("scheduler.lock_ttl", 50*time.Minute)
	viper.SetDefault("scheduler.instance_id", "")

	viper.SetDefault("events.queue", "ledger_events")

	viper.SetDefault("log.development", false)
	viper.SetDefault("log.level", "info")
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	EventsQueue    string
}

func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:           viper.GetString("server.port"),
		ReadTimeout:    viper.GetDuration("server.read_timeout"),
		WriteTimeout:   viper.GetDuration("server.write_timeout"),
		RequestTimeout: viper.GetDuration("server.request_timeout"),
		AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
		EventsQueue:    viper.GetString("events.queue"),
	}
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time       uint32
	Memory     uint32
	Threads    uint8
	KeyLength  uint32
	SaltLength int
}

type AuthConfig struct {
	SecretKey     []byte
	Expiry        time.Duration
	ChildExpiry   time.Duration
	LoginAttempts int
	LoginWindow   time.Duration
	Argon2        Argon2Params
}

func LoadAuthConfig() (*AuthConfig, error) {
	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		return nil, errors.New("jwt.secret_key is required")
	}

	return &AuthConfig{
		SecretKey:     []byte(secret),
		Expiry:        time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour,
		ChildExpiry:   time.Duration(viper.GetInt("jwt.child_expiry_minutes")) * time.Minute,
		LoginAttempts: viper.GetInt("auth.login_attempts"),
		LoginWindow:   viper.GetDuration("auth.login_window"),
		Argon2: Argon2Params{
			Time:       uint32(viper.GetInt("argon2.time")),
			Memory:     uint32(viper.GetInt("argon2.memory")),
			Threads:    uint8(viper.GetInt("argon2.threads")),
			KeyLength:  uint32(viper.GetInt("argon2.key_length")),
			SaltLength: viper.GetInt("argon2.salt_length"),
		},
	}, nil
}
