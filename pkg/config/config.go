package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EffectiveConfigResult is the merged config plus where it came from
// ("flags", "config", "env" or combinations).
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which flags were explicitly
// set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "admin HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and CHAINBOT_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHAINBOT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("CHAINBOT_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHAINBOT_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		envUsed = true
		cfg.Bot.Token = v
	}
	if v := os.Getenv("BOT_NAME"); v != "" {
		envUsed = true
		cfg.Bot.Name = v
	}
	if v := os.Getenv("CHAINBOT_API_BASE_URL"); v != "" {
		envUsed = true
		cfg.Bot.BaseURL = v
	}
	if v := os.Getenv("CHAINBOT_POLL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Bot.PollTimeout = Duration(d)
		}
	}
	if v := os.Getenv("CHAINBOT_PUBLISH_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Publish.RPS = f
		}
	}
	if v := os.Getenv("CHAINBOT_PUBLISH_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Publish.Burst = n
		}
	}
	if v := os.Getenv("CHAINBOT_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Enabled = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("CHAINBOT_RETENTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Retention.Window = Duration(d)
		}
	}
	if v := os.Getenv("CHAINBOT_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	return envUsed
}

// LoadEffective merges the config file (when present), env overrides and
// explicit flags into one effective result. Flags win over env, env wins
// over file.
func LoadEffective(flagAddr, flagDB, cfgPath string, setFlags map[string]bool) (EffectiveConfigResult, error) {
	var sources []string
	cfg, err := Load(cfgPath)
	switch {
	case err == nil:
		sources = append(sources, "config")
	case os.IsNotExist(err):
		cfg = &Config{}
	default:
		return EffectiveConfigResult{}, err
	}

	if LoadEnvOverrides(cfg) {
		sources = append(sources, "env")
	}

	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = flagAddr
		sources = append(sources, "flags")
	}
	dbPath := cfg.Storage.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = flagDB
	}

	src := strings.Join(sources, "+")
	if src == "" {
		src = "defaults"
	}
	return EffectiveConfigResult{Config: cfg, Addr: addr, DBPath: dbPath, Source: src}, nil
}
