package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

// EnvPrefix is prepended to every environment override, e.g.
// LINKCHAT_LISTEN_ADDR.
const EnvPrefix = "LINKCHAT"

// Keys shared by viper, config files and flag bindings.
const (
	KeyDeviceName      = "device_name"
	KeyTransport       = "transport"
	KeyListenAddr      = "listen_addr"
	KeyServiceName     = "service_name"
	KeyServiceUUID     = "service_uuid"
	KeyReadBufferSize  = "read_buffer_size"
	KeyDialTimeout     = "dial_timeout"
	KeyDiscovery       = "discovery"
	KeyScanTimeout     = "scan_timeout"
	KeyLogLevel        = "log_level"
	KeyLogFile         = "log_file"
	KeyMetricsAddr     = "metrics_addr"
	KeyMetricsInterval = "metrics_interval"
)

// Transports lists the transport names the CLI can build.
var Transports = []string{"tcp", "ws"}

type Config struct {
	DeviceName      string        `mapstructure:"device_name"`
	Transport       string        `mapstructure:"transport"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	ServiceName     string        `mapstructure:"service_name"`
	ServiceUUID     string        `mapstructure:"service_uuid"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	Discovery       bool          `mapstructure:"discovery"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFile         string        `mapstructure:"log_file"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "linkchat"
}

// SetDefaults registers every key with its default so that environment
// overrides are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDeviceName, defaultDeviceName())
	v.SetDefault(KeyTransport, "tcp")
	v.SetDefault(KeyListenAddr, ":7878")
	v.SetDefault(KeyServiceName, protocol.DefaultServiceName)
	v.SetDefault(KeyServiceUUID, protocol.DefaultServiceUUID)
	v.SetDefault(KeyReadBufferSize, 1024)
	v.SetDefault(KeyDialTimeout, 10*time.Second)
	v.SetDefault(KeyDiscovery, true)
	v.SetDefault(KeyScanTimeout, 5*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyMetricsInterval, time.Minute)
}

// Load resolves the configuration from defaults, the optional file, the
// environment and any flags already bound to v, in increasing priority.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if _, perr := uuid.Parse(c.ServiceUUID); perr != nil {
		err = multierr.Append(err, fmt.Errorf("service_uuid %q: %w", c.ServiceUUID, perr))
	}
	if !knownTransport(c.Transport) {
		err = multierr.Append(err, fmt.Errorf("transport %q: must be one of %s", c.Transport, strings.Join(Transports, ", ")))
	}
	if c.ReadBufferSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize))
	}
	if c.DialTimeout <= 0 {
		err = multierr.Append(err, errors.New("dial_timeout must be positive"))
	}
	if c.ScanTimeout <= 0 {
		err = multierr.Append(err, errors.New("scan_timeout must be positive"))
	}
	if c.MetricsAddr != "" && c.MetricsInterval <= 0 {
		err = multierr.Append(err, errors.New("metrics_interval must be positive when metrics are enabled"))
	}
	return err
}

func knownTransport(name string) bool {
	for _, t := range Transports {
		if t == name {
			return true
		}
	}
	return false
}

// Service is the rendezvous record shared verbatim by both sides.
func (c *Config) Service() (protocol.Service, error) {
	return protocol.ParseService(c.ServiceName, c.ServiceUUID)
}

// Local is the identity this device announces.
func (c *Config) Local() protocol.PeerIdentity {
	return protocol.PeerIdentity{Address: c.ListenAddr, Name: c.DeviceName}
}
