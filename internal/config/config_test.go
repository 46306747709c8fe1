package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gofulcrum/internal/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gofulcrum.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sample = `
server:
  addr: ":8181"
  shutdown_timeout: 5s
log:
  env: development
webhooks:
  Main:
    database_dsn: memory://
    api_key: k1
    storage:
      root: ./media
    include_objects: "form:1,2"
    exclude_objects: "record:9"
`

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	require.Equal(t, ":8181", cfg.Server.Addr)
	require.Equal(t, ":9090", cfg.Server.GRPCAddr)
	require.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, "development", cfg.Log.Env)
	require.Equal(t, "info", cfg.Log.Level)

	wh, err := cfg.Webhook("main")
	require.NoError(t, err)
	require.Equal(t, "main", wh.Name)
	require.Equal(t, "memory://", wh.DatabaseDSN)
	require.Equal(t, 20, wh.PerPage)
	require.True(t, wh.Include.Has("form", "2"))
	require.True(t, wh.Exclude.Has("record", "9"))
	require.Equal(t, "./media", wh.Storage.Root)

	_, err = cfg.Webhook("other")
	require.ErrorIs(t, err, errs.ErrConfigNotFound)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GOFULCRUM_SERVER_ADDR", ":7000")
	t.Setenv("GOFULCRUM_WEBHOOKS_MAIN_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, "from-env", cfg.Webhooks["main"].APIKey)
}

func TestLoad_BadFilter(t *testing.T) {
	_, err := Load(writeConfig(t, `
webhooks:
  main:
    database_dsn: memory://
    api_key: k
    include_objects: "widget:1"
`))
	require.ErrorIs(t, err, errs.ErrBadFilter)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
webhooks:
  main:
    database_dsn: memory://
`))
	require.ErrorContains(t, err, "api_key is required")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
