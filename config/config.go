package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // session-coordinator
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

type Postgres struct {
	DSN string `yaml:"dsn"` // empty disables the records store
}

type Redis struct {
	Addr     string `yaml:"addr"` // empty disables redis-backed admission tokens
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Relay struct {
	BaseURL string `yaml:"baseUrl"` // empty enables the no-op relay
}

type Room struct {
	GracePeriod         string `yaml:"gracePeriod"`         // default 30s
	LogWindow           int    `yaml:"logWindow"`           // default 500
	BusWindow           int    `yaml:"busWindow"`           // default 256
	AdmissionSeed       string `yaml:"admissionSeed"`       // default 90s
	AdmissionTokenTTL   string `yaml:"admissionTokenTtl"`   // default 2m
	CollaboratorTimeout string `yaml:"collaboratorTimeout"` // default 5s
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Relay    Relay    `yaml:"relay"`
	Room     Room     `yaml:"room"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "session-coordinator"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

func (r Room) GracePeriodOr(def time.Duration) time.Duration {
	return parseDurationOr(def, r.GracePeriod)
}

func (r Room) AdmissionSeedOr(def time.Duration) time.Duration {
	return parseDurationOr(def, r.AdmissionSeed)
}

func (r Room) AdmissionTokenTTLOr(def time.Duration) time.Duration {
	return parseDurationOr(def, r.AdmissionTokenTTL)
}

func (r Room) CollaboratorTimeoutOr(def time.Duration) time.Duration {
	return parseDurationOr(def, r.CollaboratorTimeout)
}

func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
