package app

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env       string   `yaml:"env"`
	HTTPAddr  string   `yaml:"http_addr"`
	LogLevel  string   `yaml:"log_level"`
	CORSAllow []string `yaml:"cors_allow"`

	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	StoreBackend  string `yaml:"store_backend"` // redis | memory
	RedisAddr     string `yaml:"redis_addr"`    // host:port
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`

	Admission Admission `yaml:"admission"`
}

// Admission mirrors waitlist.Config in config-file friendly units
type Admission struct {
	Capacity           int `yaml:"capacity"`
	DropoutWindowMs    int `yaml:"dropout_window_ms"`
	DisconnectBufferMs int `yaml:"disconnect_buffer_ms"`
	WaitingSetTTLSec   int `yaml:"waiting_set_ttl_sec"`
	ParticipantTTLSec  int `yaml:"participant_ttl_sec"`
}

func defaults() Config {
	return Config{
		Env:             "dev",
		HTTPAddr:        ":8080",
		LogLevel:        "",
		CORSAllow:       []string{"http://localhost:8080"},
		SessionSecret:   "dev-secret-change",
		SessionTTL:      24 * time.Hour,
		StoreBackend:    "redis",
		RedisAddr:       "localhost:6379",
		RateLimitPerSec: 20,
		Admission: Admission{
			Capacity:           10,
			DropoutWindowMs:    30_000,
			DisconnectBufferMs: 3_000,
			WaitingSetTTLSec:   60 * 60,
			ParticipantTTLSec:  6 * 60 * 60,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file and env vars, in that
// order. An empty file path skips the file.
func LoadConfig(file string) (Config, error) {
	cfg := defaults()
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", file, err)
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.SessionSecret = getEnv("SESSION_SECRET", cfg.SessionSecret)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.RateLimitPerSec = getEnvFloat("RATE_LIMIT_PER_SEC", cfg.RateLimitPerSec)
	if v := os.Getenv("CORS_ALLOW"); v != "" {
		cfg.CORSAllow = splitCSV(v)
	}

	a := &cfg.Admission
	a.Capacity = getEnvInt("ROOM_CAPACITY", a.Capacity)
	a.DropoutWindowMs = getEnvInt("DROPOUT_WINDOW_MS", a.DropoutWindowMs)
	a.DisconnectBufferMs = getEnvInt("DISCONNECT_BUFFER_MS", a.DisconnectBufferMs)
	a.WaitingSetTTLSec = getEnvInt("WAITING_SET_TTL_SEC", a.WaitingSetTTLSec)
	a.ParticipantTTLSec = getEnvInt("PARTICIPANT_TTL_SEC", a.ParticipantTTLSec)

	if cfg.StoreBackend != "redis" && cfg.StoreBackend != "memory" {
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.Env == "prod" && cfg.SessionSecret == defaults().SessionSecret {
		return Config{}, fmt.Errorf("SESSION_SECRET must be set in prod")
	}
	log.Printf("config: env=%s addr=%s store=%s redis=%s capacity=%d\n",
		cfg.Env, cfg.HTTPAddr, cfg.StoreBackend, cfg.RedisAddr, cfg.Admission.Capacity)
	return cfg, nil
}

// getEnv returns the env var or a default
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getEnvInt parses an int env var with a fallback. Zero is a valid value
// (a capacity of 0 closes the room).
func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil && i >= 0 {
			return i
		}
	}
	return def
}

// getEnvFloat parses a non-negative float env var with a fallback
func getEnvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
