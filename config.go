package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pixil98/go-errors"
)

const (
	defaultTickInterval = 10 * time.Millisecond
	defaultMoveCooldown = 200 * time.Millisecond
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 30 * time.Second
	defaultConnsPerIP   = 5
	defaultTotalConns   = 1000
)

// Config is the [cfg] table of cfg.toml
type Config struct {
	Port       int      `toml:"port"`
	Key        string   `toml:"key"`
	UnitSpeed  int      `toml:"unit_speed"`
	DefaultImg string   `toml:"default_img"`
	Privileged []string `toml:"privileged"`
	Map        string   `toml:"map"`

	TickInterval string `toml:"tick_interval"`
	MoveCooldown string `toml:"move_cooldown"`
	PingInterval string `toml:"ping_interval"`
	PingTimeout  string `toml:"ping_timeout"`

	LogFile           string `toml:"log_file"`
	Database          string `toml:"database"`
	AdminUser         string `toml:"admin_user"`
	AdminPasswordHash string `toml:"admin_password_hash"`
	MaxConnsPerIP     int    `toml:"max_conns_per_ip"`
	MaxTotalConns     int    `toml:"max_total_conns"`

	tick, cooldown, pingEvery, pingTimeout time.Duration
}

type configFile struct {
	Cfg Config `toml:"cfg"`
}

// DefaultConfig returns the reference configuration without a signing key
func DefaultConfig() *Config {
	return &Config{
		Port:          8080,
		UnitSpeed:     1,
		Map:           "map.toml",
		MaxConnsPerIP: defaultConnsPerIP,
		MaxTotalConns: defaultTotalConns,
		tick:          defaultTickInterval,
		cooldown:      defaultMoveCooldown,
		pingEvery:     defaultPingInterval,
		pingTimeout:   defaultPingTimeout,
	}
}

// LoadConfig reads and validates cfg.toml
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cf := configFile{Cfg: *DefaultConfig()}
	if err := toml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := &cf.Cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field and parses the duration strings
func (c *Config) Validate() error {
	el := errors.NewErrorList()

	if c.Key == "" {
		el.Add(fmt.Errorf("key is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		el.Add(fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UnitSpeed <= 0 {
		el.Add(fmt.Errorf("unit_speed must be positive"))
	}
	if c.MaxConnsPerIP <= 0 || c.MaxTotalConns <= 0 {
		el.Add(fmt.Errorf("connection limits must be positive"))
	}

	el.Add(parseDuration("tick_interval", c.TickInterval, &c.tick))
	el.Add(parseDuration("move_cooldown", c.MoveCooldown, &c.cooldown))
	el.Add(parseDuration("ping_interval", c.PingInterval, &c.pingEvery))
	el.Add(parseDuration("ping_timeout", c.PingTimeout, &c.pingTimeout))

	return el.Err()
}

// parseDuration leaves dst alone when s is empty
func parseDuration(name, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	*dst = d
	return nil
}

// TickDuration is the movement pass interval
func (c *Config) TickDuration() time.Duration { return c.tick }

// CooldownDuration is the minimum time between two timed steps of one unit
func (c *Config) CooldownDuration() time.Duration { return c.cooldown }

// PingIntervalDuration is the liveness sweep interval
func (c *Config) PingIntervalDuration() time.Duration { return c.pingEvery }

// PingTimeoutDuration is how long a connection may go without a ping
func (c *Config) PingTimeoutDuration() time.Duration { return c.pingTimeout }
