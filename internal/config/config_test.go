package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Applies_Defaults(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	req.NoError(os.WriteFile(path, []byte("app:\n  jwt_secret: test\n"), 0o600))

	cfg, err := Load(path)
	req.NoError(err)
	req.Equal("test", cfg.App.JWTSecret)
	req.Equal(8080, cfg.App.Port)
	req.Equal(25*time.Second, cfg.PingInterval)
	req.Equal(60*time.Second, cfg.ReadDeadline)
	req.Equal(10*time.Second, cfg.WriteDeadline)
	req.EqualValues(65536, cfg.WS.MaxMessageSizeBytes)
	req.Equal(4, cfg.Pipeline.Workers)
}

func Test_Load_Overrides(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	req.NoError(os.WriteFile(path, []byte(`
app:
  port: 9090
ws:
  ping_interval_seconds: 5
pipeline:
  workers: 8
`), 0o600))

	cfg, err := Load(path)
	req.NoError(err)
	req.Equal(9090, cfg.App.Port)
	req.Equal(5*time.Second, cfg.PingInterval)
	req.Equal(8, cfg.Pipeline.Workers)
}

func Test_Load_Missing_File(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
