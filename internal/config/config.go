package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "THERMOGATE_"

type Config struct {
	HTTPAddr  string
	AdminAddr string // gRPC health; empty disables it

	Env string // "dev" | "prod"

	// Storage
	Store    string // "sqlite" | "mongo" | "memory"
	DBPath   string // e.g. "./data/thermogate.db"
	MongoURI string
	MongoDB  string

	// Vault. MasterKey is hex and must never be logged.
	MasterKey string
	VaultPath string

	UsersPath string

	// Origins
	OperatorOrigins []string
	DeviceOrigin    string

	HistoryLimit    int
	LoginRatePerMin int

	// Telemetry retention
	RetentionDays      int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)
}

// fileConfig is the optional YAML overlay. Keys mirror the environment
// variable names without the prefix, in lower case.
type fileConfig struct {
	HTTPAddr           string   `yaml:"http_addr"`
	AdminAddr          string   `yaml:"admin_addr"`
	Env                string   `yaml:"env"`
	Store              string   `yaml:"store"`
	DBPath             string   `yaml:"db_path"`
	MongoURI           string   `yaml:"mongo_uri"`
	MongoDB            string   `yaml:"mongo_db"`
	MasterKey          string   `yaml:"master_key"`
	VaultPath          string   `yaml:"vault_path"`
	UsersPath          string   `yaml:"users_path"`
	OperatorOrigins    []string `yaml:"operator_origins"`
	DeviceOrigin       string   `yaml:"device_origin"`
	HistoryLimit       int      `yaml:"history_limit"`
	LoginRatePerMin    int      `yaml:"login_rate_per_min"`
	RetentionDays      int      `yaml:"retention_days"`
	PruneIntervalHours int      `yaml:"prune_interval_hours"`
}

// Load reads the YAML file at path, or the one named by THERMOGATE_CONFIG
// when path is empty, and applies the environment on top of it. No file at
// all is fine.
func Load(path string) (Config, error) {
	var f fileConfig
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return fromEnv(f), nil
}

// FromEnv builds a Config from the environment alone.
func FromEnv() Config {
	return fromEnv(fileConfig{})
}

func fromEnv(f fileConfig) Config {
	env := strings.ToLower(getenvDefault("ENV", or(f.Env, "dev")))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	origins := splitCSV(os.Getenv(envPrefix + "OPERATOR_ORIGINS"))
	if origins == nil {
		origins = f.OperatorOrigins
	}

	return Config{
		HTTPAddr:  getenvDefault("HTTP_ADDR", or(f.HTTPAddr, ":300")),
		AdminAddr: getenvDefault("ADMIN_ADDR", f.AdminAddr),
		Env:       env,

		Store:    strings.ToLower(getenvDefault("STORE", or(f.Store, "sqlite"))),
		DBPath:   getenvDefault("DB_PATH", or(f.DBPath, "./data/thermogate.db")),
		MongoURI: getenvDefault("MONGO_URI", f.MongoURI),
		MongoDB:  getenvDefault("MONGO_DB", or(f.MongoDB, "thermogate")),

		MasterKey: getenvDefault("MASTER_KEY", f.MasterKey),
		VaultPath: getenvDefault("VAULT_PATH", or(f.VaultPath, "./secrets/encrypted-keys.enc")),
		UsersPath: getenvDefault("USERS_PATH", or(f.UsersPath, "./users.json")),

		OperatorOrigins: origins,
		DeviceOrigin:    getenvDefault("DEVICE_ORIGIN", or(f.DeviceOrigin, "https://esp32.local")),

		HistoryLimit:    getenvInt("HISTORY_LIMIT", orInt(f.HistoryLimit, 100)),
		LoginRatePerMin: getenvInt("LOGIN_RATE_PER_MIN", orInt(f.LoginRatePerMin, 10)),

		RetentionDays:      getenvInt("RETENTION_DAYS", f.RetentionDays),
		PruneIntervalHours: getenvInt("PRUNE_INTERVAL_HOURS", orInt(f.PruneIntervalHours, 6)),
	}
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MasterKey) == "" {
		errs = append(errs, errors.New(envPrefix+"MASTER_KEY is required"))
	}
	switch c.Store {
	case "sqlite", "memory":
	case "mongo":
		if c.MongoURI == "" {
			errs = append(errs, errors.New(envPrefix+"MONGO_URI is required when STORE=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	for _, o := range c.OperatorOrigins {
		if strings.EqualFold(strings.TrimRight(o, "/"), strings.TrimRight(c.DeviceOrigin, "/")) {
			errs = append(errs, fmt.Errorf("origin %q is both an operator and the device origin", o))
		}
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(envPrefix + key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func or(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
