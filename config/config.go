/*
Package config resolves server settings.

PRECEDENCE (lowest to highest):
  1. built-in defaults
  2. .env file (never overrides variables already set in the environment)
  3. environment variables
  4. command-line flags

ENVIRONMENT:
  PORT                   HTTP port (8080)
  STORE_BACKEND          memory | sqlite | postgres (sqlite)
  SQLITE_PATH            SQLite file, ":memory:" allowed (caixa.db)
  DATABASE_URL           Postgres DSN, required for the postgres backend
  CATALOG_CSV_URL        catalog CSV, http(s) URL or local path
  IMPORT_ON_START        seed the catalog from CATALOG_CSV_URL before serving
  CATALOG_SYNC_INTERVAL  re-import the catalog this often (0, off)
  LOCK_TIMEOUT           bounded wait for product locks (5s)
  CORS_ORIGINS           comma-separated allowed origins (*)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by STORE_BACKEND / -backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the resolved server settings.
type Config struct {
	Port          int
	Backend       string
	SQLitePath    string
	DatabaseURL   string
	CatalogURL    string
	ImportOnStart bool
	SyncInterval  time.Duration
	LockTimeout   time.Duration
	CORSOrigins   []string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:        8080,
		Backend:     BackendSQLite,
		SQLitePath:  "caixa.db",
		LockTimeout: 5 * time.Second,
		CORSOrigins: []string{"*"},
	}
}

// Load reads envFile (if it exists), the environment, then args.
func Load(envFile string, args []string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := fromEnv(Default())
	if err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("caixa", flag.ContinueOnError)
	fset.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fset.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: memory, sqlite or postgres")
	fset.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, `SQLite database path (":memory:" for in-memory)`)
	fset.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
	fset.StringVar(&cfg.CatalogURL, "catalog-url", cfg.CatalogURL, "catalog CSV URL or file path")
	fset.BoolVar(&cfg.ImportOnStart, "import-on-start", cfg.ImportOnStart, "import the catalog before serving")
	fset.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "re-import the catalog periodically (0 disables)")
	fset.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "maximum wait for product locks")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	return cfg, cfg.Validate()
}

func fromEnv(cfg Config) (Config, error) {
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: PORT %q is not a number", ErrInvalid, v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("STORE_BACKEND"); ok {
		cfg.Backend = v
	}
	if v, ok := lookup("SQLITE_PATH"); ok {
		cfg.SQLitePath = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookup("CATALOG_CSV_URL"); ok {
		cfg.CatalogURL = v
	}
	if v, ok := lookup("IMPORT_ON_START"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: IMPORT_ON_START %q is not a boolean", ErrInvalid, v)
		}
		cfg.ImportOnStart = b
	}
	if v, ok := lookup("CATALOG_SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: CATALOG_SYNC_INTERVAL %q: %v", ErrInvalid, v, err)
		}
		cfg.SyncInterval = d
	}
	if v, ok := lookup("LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: LOCK_TIMEOUT %q: %v", ErrInvalid, v, err)
		}
		cfg.LockTimeout = d
	}
	if v, ok := lookup("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}
	return cfg, nil
}

// lookup treats empty variables as unset.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite backend needs a database path", ErrInvalid)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres backend needs DATABASE_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if c.ImportOnStart && c.CatalogURL == "" {
		return fmt.Errorf("%w: import on start needs CATALOG_CSV_URL", ErrInvalid)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: sync interval must not be negative", ErrInvalid)
	}
	if c.SyncInterval > 0 && c.CatalogURL == "" {
		return fmt.Errorf("%w: catalog sync needs CATALOG_CSV_URL", ErrInvalid)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("%w: lock timeout must be positive", ErrInvalid)
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
