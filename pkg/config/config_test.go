package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Transport)
	assert.Equal(t, ":7878", cfg.ListenAddr)
	assert.Equal(t, 1024, cfg.ReadBufferSize)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.True(t, cfg.Discovery)
	assert.NotEmpty(t, cfg.DeviceName)

	svc, err := cfg.Service()
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultService(), svc)
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "linkchat.yaml")
	require.NoError(t, os.WriteFile(file, []byte("device_name: from-file\nlisten_addr: \":9000\"\ndial_timeout: 3s\n"), 0o644))

	t.Setenv("LINKCHAT_LISTEN_ADDR", ":9100")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("transport", "tcp", "")
	require.NoError(t, flags.Parse([]string{"--transport", "ws"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag(KeyTransport, flags.Lookup("transport")))

	cfg, err := Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.DeviceName)
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, 3*time.Second, cfg.DialTimeout)
	assert.Equal(t, "ws", cfg.Transport)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Transport:      "carrier-pigeon",
		ServiceUUID:    "not-a-uuid",
		ReadBufferSize: 0,
		DialTimeout:    time.Second,
		ScanTimeout:    time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 3)
}
