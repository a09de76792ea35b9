package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		// Per-connection read buffer, also the request size ceiling.
		BufferSize int `yaml:"buffer_size"`
		// Idle timeout between requests on a keep-alive connection.
		KeepAliveTimeout string `yaml:"keep_alive_timeout"`
		ProxyProtocol    bool   `yaml:"proxy_protocol"`
	} `yaml:"server"`
	Admin struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"admin"`
	Security struct {
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	AccessLog struct {
		Enabled bool   `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"access_log"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		Period  string `yaml:"period"` // e.g. "168h"
	} `yaml:"retention"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Addr returns host:port for the core server listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// AdminAddr returns host:port for the admin HTTP server.
func (c *Config) AdminAddr() string {
	addr := c.Admin.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	p := c.Admin.Port
	if p == 0 {
		p = 8081
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ReadBufferSize returns the per-connection buffer size with the default applied.
func (c *Config) ReadBufferSize() int {
	if c.Server.BufferSize > 0 {
		return c.Server.BufferSize
	}
	return 4096
}

// KeepAlive returns the parsed keep-alive idle timeout.
func (c *Config) KeepAlive() time.Duration {
	if c.Server.KeepAliveTimeout != "" {
		if d, err := time.ParseDuration(c.Server.KeepAliveTimeout); err == nil && d > 0 {
			return d
		}
	}
	return 15 * time.Second
}

// RetentionPeriod returns the parsed access-log retention period.
func (c *Config) RetentionPeriod() time.Duration {
	if c.Retention.Period != "" {
		if d, err := time.ParseDuration(c.Retention.Period); err == nil && d > 0 {
			return d
		}
	}
	return 7 * 24 * time.Hour
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, adminAddr string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	adminPtr := flag.String("admin-addr", "127.0.0.1:8081", "admin HTTP listen address")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *adminPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// returns whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	splitHostPort := func(v string) (string, int, bool) {
		i := strings.LastIndexByte(v, ':')
		if i < 0 {
			return v, 0, false
		}
		p, err := strconv.Atoi(v[i+1:])
		if err != nil {
			return v, 0, false
		}
		return strings.Trim(v[:i], "[]"), p, true
	}

	if v := os.Getenv("LWAN_ADDR"); v != "" {
		envUsed = true
		if h, p, ok := splitHostPort(v); ok {
			cfg.Server.Address = h
			cfg.Server.Port = p
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("LWAN_ADMIN_ADDR"); v != "" {
		envUsed = true
		if h, p, ok := splitHostPort(v); ok {
			cfg.Admin.Address = h
			cfg.Admin.Port = p
		} else {
			cfg.Admin.Address = v
		}
	}
	if v := os.Getenv("LWAN_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			envUsed = true
			cfg.Server.BufferSize = n
		}
	}
	if v := os.Getenv("LWAN_KEEP_ALIVE_TIMEOUT"); v != "" {
		envUsed = true
		cfg.Server.KeepAliveTimeout = v
	}
	if v := os.Getenv("LWAN_PROXY_PROTOCOL"); v != "" {
		envUsed = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Server.ProxyProtocol = vl == "1" || vl == "true" || vl == "yes"
	}
	if v := os.Getenv("LWAN_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("LWAN_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("LWAN_ACCESS_LOG_PATH"); v != "" {
		envUsed = true
		cfg.AccessLog.Enabled = true
		cfg.AccessLog.DBPath = v
	}
	if v := os.Getenv("LWAN_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Enabled = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("LWAN_RETENTION_PERIOD"); v != "" {
		envUsed = true
		cfg.Retention.Period = v
	}
	if v := os.Getenv("LWAN_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LWAN_LOG_FORMAT"); v != "" {
		envUsed = true
		cfg.Logging.Format = v
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies environment
// overrides. A missing file is not an error; overrides apply to a zero config.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `LWAN_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("LWAN_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
