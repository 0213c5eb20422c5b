// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Token    TokenConfig
	Realtime RealtimeConfig
	Bot      BotConfig
	Notify   NotifyConfig
	Otel     OtelConfig
}

type ServerConfig struct {
	Host             string   `env:"LIVECHAT_SERVER_HOST" envDefault:"0.0.0.0"`
	Port             int      `env:"LIVECHAT_SERVER_PORT" envDefault:"8080"`
	AllowedOrigins    []string `env:"LIVECHAT_ALLOWED_ORIGINS" envDefault:"*"`
	RejectEmptyOrigin bool     `env:"LIVECHAT_REJECT_EMPTY_ORIGIN" envDefault:"false"`
	RequireAuth       bool     `env:"LIVECHAT_REQUIRE_AUTH" envDefault:"false"`
}

type DatabaseConfig struct {
	URL string `env:"LIVECHAT_POSTGRES_URL" envDefault:"postgres://localhost:5432/livechat?sslmode=disable"`
}

type TokenConfig struct {
	SigningSecret string        `env:"LIVECHAT_TOKEN_SECRET"`
	TTL           time.Duration `env:"LIVECHAT_TOKEN_TTL" envDefault:"1h"`
}

// RealtimeConfig selects which realization of the channel protocol serves
// clients: the self-hosted relay or the centrifuge pub/sub node.
type RealtimeConfig struct {
	Backend         string `env:"LIVECHAT_REALTIME_BACKEND" envDefault:"relay"`
	AdminSlotPolicy string `env:"LIVECHAT_ADMIN_SLOT_POLICY" envDefault:"coview"`
}

type BotConfig struct {
	AnswerURL string        `env:"LIVECHAT_BOT_ANSWER_URL"`
	Timeout   time.Duration `env:"LIVECHAT_BOT_TIMEOUT" envDefault:"10s"`
}

type NotifyConfig struct {
	AdminWaitDeadline time.Duration `env:"LIVECHAT_ADMIN_WAIT_DEADLINE" envDefault:"2m"`
}

type OtelConfig struct {
	Enabled     bool   `env:"LIVECHAT_OTEL_ENABLED" envDefault:"false"`
	Environment string `env:"LIVECHAT_ENVIRONMENT" envDefault:"development"`
}

const (
	BackendRelay      = "relay"
	BackendCentrifuge = "centrifuge"

	PolicyCoview    = "coview"
	PolicyExclusive = "exclusive"
)

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Realtime.Backend {
	case BackendRelay, BackendCentrifuge:
	default:
		return fmt.Errorf("invalid LIVECHAT_REALTIME_BACKEND %q", c.Realtime.Backend)
	}
	switch c.Realtime.AdminSlotPolicy {
	case PolicyCoview, PolicyExclusive:
	default:
		return fmt.Errorf("invalid LIVECHAT_ADMIN_SLOT_POLICY %q", c.Realtime.AdminSlotPolicy)
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("LIVECHAT_TOKEN_TTL must be positive")
	}
	return nil
}
