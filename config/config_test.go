package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "Warp HR", cfg.CompanyName)
	assert.Equal(t, 10*time.Second, cfg.DocumentTimeout)
	assert.Equal(t, 15*time.Minute, cfg.RegenerationInterval)
	assert.Equal(t, 3, cfg.RemoteStore.RetryMax)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.SeedDemo)
}

func TestLoadFrom_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", " Remote ")
	t.Setenv("REMOTE_STORE_URL", "http://records:9000")
	t.Setenv("REMOTE_STORE_TIMEOUT", "2s")
	t.Setenv("CORS_ORIGINS", "https://hr.example.com,https://admin.example.com")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("SEED_DEMO", "true")

	cfg, err := LoadFrom(nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendRemote, cfg.StoreBackend)
	assert.Equal(t, 2*time.Second, cfg.RemoteStore.Timeout)
	assert.Equal(t, []string{"https://hr.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.SeedDemo)
}

func TestLoadFrom_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COMPANY_NAME=Acme Trading\n"), 0o600))
	// Registered so the value godotenv sets is cleared after the test
	t.Setenv("COMPANY_NAME", "")
	os.Unsetenv("COMPANY_NAME")

	n, err := LoadEnv([]string{path, filepath.Join(t.TempDir(), "missing.env")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := LoadFrom(nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme Trading", cfg.CompanyName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "postgres"}, "invalid STORE_BACKEND"},
		{"remote without url", map[string]string{"STORE_BACKEND": "remote"}, "requires REMOTE_STORE_URL"},
		{"bad port", map[string]string{"PORT": "70000"}, "invalid PORT"},
		{"negative retries", map[string]string{"REMOTE_STORE_RETRY_MAX": "-1"}, "must be non-negative"},
		{"zero document timeout", map[string]string{"DOCUMENT_TIMEOUT": "0s"}, "DOCUMENT_TIMEOUT must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFrom(nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
