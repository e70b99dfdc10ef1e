package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        Server                     `yaml:"server"`
	LogLevel      string                     `yaml:"log-level"`
	StorageType   string                     `yaml:"storage-type"`
	SQLite        SQLite                     `yaml:"sqlite"`
	Postgres      Postgres                   `yaml:"postgres"`
	Redis         Redis                      `yaml:"redis"`
	Interest      Interest                   `yaml:"interest"`
	AutoCollect   AutoCollect                `yaml:"autocollect"`
	Notifications Notifications              `yaml:"notifications"`
	MaxInvest     map[string]int             `yaml:"max-invest-permissions"`
	DefaultMax    decimal.Decimal            `yaml:"default-max-invest-amount"`
	MinInvest     decimal.Decimal            `yaml:"min-invest-amount"`
	Presets       map[string]decimal.Decimal `yaml:"pre-selected-investments"`
	Presence      Presence                   `yaml:"presence"`
	Economy       Economy                    `yaml:"economy"`
	Auth          Auth                       `yaml:"auth"`
	Permissions   Permissions                `yaml:"permissions"`
}

type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors-origins"`
	RatePerSec  float64  `yaml:"rate-per-second"`
	RateBurst   int      `yaml:"rate-burst"`
}

type SQLite struct {
	File string `yaml:"file"`
}

type Postgres struct {
	URL string `yaml:"url"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Interest struct {
	RatePercent     decimal.Decimal `yaml:"rate-percent"`
	IntervalMinutes int             `yaml:"interval-minutes"`
	OfflineAccrual  bool            `yaml:"offline-accrual"`
	Workers         int             `yaml:"workers"`
}

// Interval is IntervalMinutes as a duration; non-positive stays non-positive.
func (i Interest) Interval() time.Duration {
	return time.Duration(i.IntervalMinutes) * time.Minute
}

type AutoCollect struct {
	Enabled    bool   `yaml:"enabled"`
	Permission string `yaml:"permission"`
}

type Channel struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

type Discord struct {
	WebhookURL string `yaml:"webhook-url"`
	Message    string `yaml:"message"`
}

type Notifications struct {
	Enabled        bool    `yaml:"enabled"`
	DefaultEnabled bool    `yaml:"default-enabled"`
	Chat           Channel `yaml:"chat"`
	ActionBar      Channel `yaml:"actionbar"`
	Discord        Discord `yaml:"discord"`
}

type Presence struct {
	TTL time.Duration `yaml:"ttl"`
}

type Economy struct {
	StartingBalance decimal.Decimal `yaml:"starting-balance"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token-ttl"`
}

// Permissions grants keys to everyone (Default), to named groups, and to
// accounts by uuid. Account entries may list group names or raw keys.
type Permissions struct {
	Default  []string            `yaml:"default"`
	Groups   map[string][]string `yaml:"groups"`
	Accounts map[string][]string `yaml:"accounts"`
}

// Storage is the subset of the config a gateway needs to open.
type Storage struct {
	Type          string
	SQLiteFile    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type CLIConfig struct {
	APIBaseURL string
}

func Default() Config {
	return Config{
		Server:      Server{Addr: ":8080", RatePerSec: 5, RateBurst: 10},
		LogLevel:    "info",
		StorageType: "sqlite",
		SQLite:      SQLite{File: "data/investments.db"},
		Redis:       Redis{Addr: "localhost:6379", Prefix: "investments:"},
		Interest: Interest{
			RatePercent:     decimal.NewFromInt(1),
			IntervalMinutes: 60,
			Workers:         8,
		},
		AutoCollect: AutoCollect{Enabled: true, Permission: "investments.autocollect"},
		Notifications: Notifications{
			Enabled:        true,
			DefaultEnabled: true,
			Chat:           Channel{Enabled: true, Message: "You earned %amount_short% from your investments (%rate%%)."},
			ActionBar:      Channel{Enabled: false, Message: "+%amount_short%"},
			Discord:        Discord{Message: "%account% earned %amount_full% at %rate%%"},
		},
		MaxInvest:  map[string]int{},
		DefaultMax: decimal.Zero,
		MinInvest:  decimal.NewFromInt(10_000),
		Presence:   Presence{TTL: 5 * time.Minute},
		Auth:       Auth{TokenTTL: 24 * time.Hour},
		Permissions: Permissions{
			Default: []string{"investments.use"},
		},
	}
}

// Load reads an optional .env, then the YAML file at path (skipped when path
// is empty), then environment overrides. A bad rate or interval is not an
// error here; the scheduler refuses to start on it instead.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Presence.TTL < 0 {
		return fmt.Errorf("presence.ttl must not be negative")
	}
	if c.MinInvest.IsNegative() {
		return fmt.Errorf("min-invest-amount must not be negative")
	}
	return nil
}

func (c Config) Storage() Storage {
	return Storage{
		Type:          c.StorageType,
		SQLiteFile:    c.SQLite.File,
		DatabaseURL:   c.Postgres.URL,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisPrefix:   c.Redis.Prefix,
	}
}

func applyEnv(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Addr = port
	} else {
		cfg.Server.Addr = envDefault("INVESTD_ADDR", cfg.Server.Addr)
	}
	cfg.LogLevel = envDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.StorageType = envDefault("INVESTD_STORAGE", cfg.StorageType)
	cfg.Postgres.URL = envDefault("DATABASE_URL", cfg.Postgres.URL)
	cfg.Redis.Addr = envDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Auth.Secret = envDefault("INVESTD_AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TokenTTL = envDurationDefault("INVESTD_TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Server.RatePerSec = envFloatDefault("INVESTD_RATE_PER_SECOND", cfg.Server.RatePerSec)
	cfg.Interest.OfflineAccrual = envBoolDefault("INVESTD_OFFLINE_ACCRUAL", cfg.Interest.OfflineAccrual)
	cfg.Notifications.Discord.WebhookURL = envDefault("INVESTD_DISCORD_WEBHOOK", cfg.Notifications.Discord.WebhookURL)
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("INVEST_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
