package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/AdmitLite/internal/admission"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

// Limits are the nested window quotas. Every accepted request counts
// against all four windows.
type Limits struct {
	PerSecond int `yaml:"per_second"`
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

// Backoff controls the per-identity failure penalty.
type Backoff struct {
	InitialMS  int     `yaml:"initial_ms"`
	MaxMS      int     `yaml:"max_ms"`
	Multiplier float64 `yaml:"multiplier"`
	Jitter     *bool   `yaml:"jitter"` // default true
}

type Cache struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Backoff       Backoff       `yaml:"backoff"`
	Cache         Cache         `yaml:"cache"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 1 << 20
	}
	return s.MaxBodyBytes
} // default 1MB; the ops API only carries small JSON bodies

// Admission maps the file config onto the limiter's Config. Defaults
// are filled here; hard validation happens in admission.New so a bad
// file fails at startup, not mid-traffic.
func (r *Root) Admission() admission.Config {
	cfg := admission.DefaultConfig()
	if r.Limits.PerSecond > 0 {
		cfg.PerSecond = r.Limits.PerSecond
	}
	if r.Limits.PerMinute > 0 {
		cfg.PerMinute = r.Limits.PerMinute
	}
	if r.Limits.PerHour > 0 {
		cfg.PerHour = r.Limits.PerHour
	}
	if r.Limits.PerDay > 0 {
		cfg.PerDay = r.Limits.PerDay
	}
	if r.Backoff.InitialMS > 0 {
		cfg.InitialBackoff = time.Duration(r.Backoff.InitialMS) * time.Millisecond
	}
	if r.Backoff.MaxMS > 0 {
		cfg.MaxBackoff = time.Duration(r.Backoff.MaxMS) * time.Millisecond
	}
	if r.Backoff.Multiplier > 0 {
		cfg.BackoffMultiplier = r.Backoff.Multiplier
	}
	if r.Backoff.Jitter != nil {
		cfg.Jitter = *r.Backoff.Jitter
	}
	return cfg
}

func (r *Root) CacheTTL() time.Duration {
	if r.Cache.TTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(r.Cache.TTLSeconds) * time.Second
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	return &cfg, nil
}
