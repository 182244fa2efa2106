package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix 是所有环境变量的统一前缀，例如 SHAREGATE_LISTEN_ADDR。
const EnvPrefix = "SHAREGATE"

// RateLimits 对应分享动作在分钟/小时/天三个窗口内的上限。
type RateLimits struct {
	SharesPerMinute int `envconfig:"SHARES_PER_MINUTE" default:"5"`
	SharesPerHour   int `envconfig:"SHARES_PER_HOUR" default:"30"`
	SharesPerDay    int `envconfig:"SHARES_PER_DAY" default:"100"`
}

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabasePath      string `envconfig:"DATABASE_PATH" default:"sharegate.db"`
	SessionSecret     string `envconfig:"SESSION_SECRET" default:"sharegate-dev-secret"`
	GinMode           string `envconfig:"GIN_MODE" default:"release"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string `envconfig:"LOG_FORMAT" default:"json"`
	SuperRootUserName string `envconfig:"SUPER_ROOT_USER_NAME"`
	SuperRootPassword string `envconfig:"SUPER_ROOT_PASSWORD"`

	RateLimits RateLimits `envconfig:"RATE"`

	MaxMessageRunes    int           `envconfig:"MAX_MESSAGE_RUNES" default:"500"`
	MaxTargets         int           `envconfig:"MAX_TARGETS" default:"50"`
	TransactionTimeout time.Duration `envconfig:"TRANSACTION_TIMEOUT" default:"5s"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	IdleRetention      time.Duration `envconfig:"IDLE_RETENTION" default:"24h"`
	AnalyticsRetention time.Duration `envconfig:"ANALYTICS_RETENTION" default:"2160h"`
	AnalyticsMaxEvents int           `envconfig:"ANALYTICS_MAX_EVENTS" default:"50000"`
	NotifyBuffer       int           `envconfig:"NOTIFY_BUFFER" default:"256"`
}

// Load 从环境变量读取应用配置，并为缺失项提供默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default 返回不读取环境变量的默认配置，主要用于测试。
func Default() AppConfig {
	cfg := AppConfig{
		ListenAddr:    ":8080",
		DatabasePath:  "sharegate.db",
		SessionSecret: "sharegate-dev-secret",
		GinMode:       "release",
		LogLevel:      "info",
		LogFormat:     "json",
		RateLimits: RateLimits{
			SharesPerMinute: 5,
			SharesPerHour:   30,
			SharesPerDay:    100,
		},
		MaxMessageRunes:    500,
		MaxTargets:         50,
		TransactionTimeout: 5 * time.Second,
		SweepInterval:      time.Minute,
		IdleRetention:      24 * time.Hour,
		AnalyticsRetention: 90 * 24 * time.Hour,
		AnalyticsMaxEvents: 50000,
		NotifyBuffer:       256,
	}
	return cfg
}

// Validate 校验限流与保留策略，非法值直接拒绝启动。
func (c AppConfig) Validate() error {
	limits := c.RateLimits
	if limits.SharesPerMinute <= 0 || limits.SharesPerHour <= 0 || limits.SharesPerDay <= 0 {
		return fmt.Errorf("rate limits must be positive: %+v", limits)
	}
	if limits.SharesPerMinute > limits.SharesPerHour || limits.SharesPerHour > limits.SharesPerDay {
		return fmt.Errorf("rate limits must not shrink with larger windows: %+v", limits)
	}
	if c.MaxMessageRunes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_RUNES must be positive")
	}
	if c.MaxTargets <= 0 {
		return fmt.Errorf("MAX_TARGETS must be positive")
	}
	if c.TransactionTimeout <= 0 {
		return fmt.Errorf("TRANSACTION_TIMEOUT must be positive")
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	c.DatabasePath = strings.TrimSpace(c.DatabasePath)
	if c.DatabasePath == "" {
		c.DatabasePath = "sharegate.db"
	}
	c.SessionSecret = strings.TrimSpace(c.SessionSecret)
	if c.SessionSecret == "" {
		c.SessionSecret = "sharegate-dev-secret"
	}
	c.GinMode = strings.TrimSpace(c.GinMode)
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	c.SuperRootUserName = strings.TrimSpace(c.SuperRootUserName)
	c.SuperRootPassword = strings.TrimSpace(c.SuperRootPassword)
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleRetention <= 0 {
		c.IdleRetention = 24 * time.Hour
	}
	if c.AnalyticsRetention <= 0 {
		c.AnalyticsRetention = 90 * 24 * time.Hour
	}
	if c.AnalyticsMaxEvents <= 0 {
		c.AnalyticsMaxEvents = 50000
	}
	if c.NotifyBuffer <= 0 {
		c.NotifyBuffer = 256
	}
}
