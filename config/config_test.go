package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "STORE_BACKEND", "SQLITE_PATH", "DATABASE_URL",
	"CATALOG_CSV_URL", "IMPORT_ON_START", "CATALOG_SYNC_INTERVAL", "LOCK_TIMEOUT", "CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	// GIVEN: environment selects postgres on port 9000
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/caixa")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("CORS_ORIGINS", "https://caixa.example, http://localhost:5173")

	// WHEN: a flag overrides the port
	cfg, err := Load("", []string{"-port", "9100"})

	// THEN: flags win, env fills the rest
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/caixa", cfg.DatabaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"https://caixa.example", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// godotenv never overrides a variable that is set, even to "".
	clearEnv(t)
	os.Unsetenv("CATALOG_CSV_URL")
	os.Unsetenv("IMPORT_ON_START")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"CATALOG_CSV_URL=https://docs.example/export?format=csv\nIMPORT_ON_START=true\n",
	), 0o644))

	cfg, err := Load(path, nil)

	require.NoError(t, err)
	assert.Equal(t, "https://docs.example/export?format=csv", cfg.CatalogURL)
	assert.True(t, cfg.ImportOnStart)
}

func TestLoad_MissingDotEnvIsFine(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"), nil)

	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"unknown backend", nil, []string{"-backend", "mysql"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}, nil},
		{"import without url", nil, []string{"-import-on-start"}},
		{"zero lock timeout", nil, []string{"-lock-timeout", "0s"}},
		{"sync without url", nil, []string{"-sync-interval", "1m"}},
		{"bad sync interval env", map[string]string{"CATALOG_SYNC_INTERVAL": "often"}, nil},
		{"bad port env", map[string]string{"PORT": "http"}, nil},
		{"port out of range", nil, []string{"-port", "70000"}},
		{"bad bool env", map[string]string{"IMPORT_ON_START": "maybe"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("", tt.args)

			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
