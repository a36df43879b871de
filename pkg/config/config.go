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
		// BaseURL is the externally reachable origin used by the
		// dispatcher for loopback continuation requests. Defaults to
		// http://127.0.0.1:<port> when empty.
		BaseURL string `yaml:"base_url"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		DataPath    string `yaml:"data_path"`
		CatalogPath string `yaml:"catalog_path"`
	} `yaml:"storage"`
	Pipeline struct {
		Background          *bool  `yaml:"background"`
		BatchSize           int    `yaml:"batch_size"`
		TimeBudgetSec       int    `yaml:"time_budget_sec"`
		MemoryLimitMB       int    `yaml:"memory_limit_mb"`
		LockTTLSec          int    `yaml:"lock_ttl_sec"`
		LockStaleSec        int    `yaml:"lock_stale_sec"`
		LockRefreshSec      int    `yaml:"lock_refresh_sec"`
		DispatchTTLSec      int    `yaml:"dispatch_ttl_sec"`
		StallDelaySec       int    `yaml:"stall_delay_sec"`
		MissingLockGraceSec int    `yaml:"missing_lock_grace_sec"`
		WatchdogCron        string `yaml:"watchdog_cron"`
	} `yaml:"pipeline"`
	Notify struct {
		SMTPAddr string `yaml:"smtp_addr"`
		From     string `yaml:"from"`
		To       string `yaml:"to"`
	} `yaml:"notify"`
	Security struct {
		CORS struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		APIKeys struct {
			Backend []string `yaml:"backend"`
			Admin   []string `yaml:"admin"`
		} `yaml:"api_keys"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Addr returns host:port for the HTTP server.
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

// LoopbackURL returns the origin the dispatcher posts continuation
// requests to.
func (c *Config) LoopbackURL() string {
	if c.Server.BaseURL != "" {
		return strings.TrimRight(c.Server.BaseURL, "/")
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("http://127.0.0.1:%d", p)
}

// BackgroundEnabled reports whether the self-dispatching background mode
// is on. Defaults to true; disabling it makes feed generation run
// synchronously inside the triggering request.
func (c *Config) BackgroundEnabled() bool {
	if c.Pipeline.Background == nil {
		return true
	}
	return *c.Pipeline.Background
}

func secOr(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}

// TimeBudget is the wall-clock budget of one processing slice.
func (c *Config) TimeBudget() time.Duration { return secOr(c.Pipeline.TimeBudgetSec, 30) }

// LockTTL is the lifetime of the process lock transient.
func (c *Config) LockTTL() time.Duration { return secOr(c.Pipeline.LockTTLSec, 120) }

// LockStaleAfter is the age beyond which a lock is treated as abandoned.
func (c *Config) LockStaleAfter() time.Duration { return secOr(c.Pipeline.LockStaleSec, 300) }

// LockRefreshInterval is how often a long item loop must re-stamp the lock.
func (c *Config) LockRefreshInterval() time.Duration { return secOr(c.Pipeline.LockRefreshSec, 30) }

// DispatchTTL is the lifetime of a continuation nonce.
func (c *Config) DispatchTTL() time.Duration { return secOr(c.Pipeline.DispatchTTLSec, 300) }

// StallDelay is how long a feed file may stop growing before the feed is
// declared stuck.
func (c *Config) StallDelay() time.Duration { return secOr(c.Pipeline.StallDelaySec, 120) }

// MissingLockGrace is how long the watchdog tolerates a processing flag
// with no lock before restarting the pipeline.
func (c *Config) MissingLockGrace() time.Duration { return secOr(c.Pipeline.MissingLockGraceSec, 180) }

// WatchdogCron returns the health-check cron expression.
func (c *Config) WatchdogCron() string {
	if c.Pipeline.WatchdogCron == "" {
		return "*/5 * * * *"
	}
	return c.Pipeline.WatchdogCron
}

// BatchSize returns the number of work items persisted per batch.
func (c *Config) BatchSize() int {
	if c.Pipeline.BatchSize <= 0 {
		return 200
	}
	return c.Pipeline.BatchSize
}

// MemoryLimit returns the memory budget in bytes; the runner yields its
// slice at 90% of this value.
func (c *Config) MemoryLimit() uint64 {
	mb := c.Pipeline.MemoryLimitMB
	if mb <= 0 {
		mb = 256
	}
	return uint64(mb) * 1024 * 1024
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
func ParseCommandFlags() (addr string, dataPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dataPtr := flag.String("data", "./.feedforge", "Data directory (store, feeds, state)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dataPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies FEEDFORGE_* environment overrides onto cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if host := os.Getenv("FEEDFORGE_ADDRESS"); host != "" {
		envUsed = true
		cfg.Server.Address = host
	}
	if port := os.Getenv("FEEDFORGE_PORT"); port != "" {
		if pi, err := strconv.Atoi(port); err == nil {
			envUsed = true
			cfg.Server.Port = pi
		}
	}
	if v := os.Getenv("FEEDFORGE_BASE_URL"); v != "" {
		envUsed = true
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("FEEDFORGE_DATA_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("FEEDFORGE_CATALOG_PATH"); v != "" {
		envUsed = true
		cfg.Storage.CatalogPath = v
	}
	if v := os.Getenv("FEEDFORGE_BACKGROUND"); v != "" {
		envUsed = true
		b := !(strings.EqualFold(v, "0") || strings.EqualFold(v, "false") || strings.EqualFold(v, "no"))
		cfg.Pipeline.Background = &b
	}
	if v := os.Getenv("FEEDFORGE_TIME_BUDGET_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			envUsed = true
			cfg.Pipeline.TimeBudgetSec = n
		}
	}
	if v := os.Getenv("FEEDFORGE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			envUsed = true
			cfg.Pipeline.BatchSize = n
		}
	}
	if v := os.Getenv("FEEDFORGE_WATCHDOG_CRON"); v != "" {
		envUsed = true
		cfg.Pipeline.WatchdogCron = v
	}
	if v := os.Getenv("FEEDFORGE_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("FEEDFORGE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("FEEDFORGE_API_BACKEND_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Backend = parseList(v)
	}
	if v := os.Getenv("FEEDFORGE_API_ADMIN_KEYS"); v != "" {
		envUsed = true
		cfg.Security.APIKeys.Admin = parseList(v)
	}
	if v := os.Getenv("FEEDFORGE_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if c := os.Getenv("FEEDFORGE_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("FEEDFORGE_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// EffectiveConfigResult captures the fully resolved runtime configuration
// and where its values came from.
type EffectiveConfigResult struct {
	Config   *Config
	Addr     string
	DataPath string
	Source   string
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file is not fatal; env and defaults still apply.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the FEEDFORGE_CONFIG environment variable when the flag was
// not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("FEEDFORGE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
