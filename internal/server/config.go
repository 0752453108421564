package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/astrosync/astrosync/internal/core/observability/log"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds server configuration
type Config struct {
	// Network settings
	QUICAddr      string `yaml:"quic_addr"`
	WebSocketAddr string `yaml:"websocket_addr"`
	WebSocketPath string `yaml:"websocket_path"`
	MaxClients    int    `yaml:"max_clients"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	// SourceID identifies this server process in envelopes.
	SourceID int32 `yaml:"source_id"`

	// Simulation settings
	TickRate         int     `yaml:"tick_rate"`
	SpatialCellSizeM float64 `yaml:"spatial_cell_size_m"`

	// Visibility settings
	FocusRadiusM     float64 `yaml:"focus_radius_m"`
	StrategicRadiusM float64 `yaml:"strategic_radius_m"`

	// Persistence settings
	DatabasePath  string   `yaml:"database_path"`
	FlushInterval Duration `yaml:"flush_interval"`

	// Message settings
	MaxFrameSize      int      `yaml:"max_frame_size"`
	SendQueueSize     int      `yaml:"send_queue_size"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	CompressThreshold int      `yaml:"compress_threshold"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Level maps the configured level name onto the logger's scale. Unknown
// names fall back to info.
func (c Config) Level() log.Level {
	switch c.LogLevel {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		QUICAddr:          "127.0.0.1:7350",
		WebSocketAddr:     "127.0.0.1:7351",
		WebSocketPath:     "/ws",
		MaxClients:        10_000,
		SourceID:          1,
		TickRate:          30,
		SpatialCellSizeM:  512,
		FocusRadiusM:      2_000,
		StrategicRadiusM:  50_000,
		DatabasePath:      "astrosync.db",
		FlushInterval:     Duration(10 * time.Second),
		MaxFrameSize:      8 * 1024 * 1024,
		SendQueueSize:     256,
		HandshakeTimeout:  Duration(10 * time.Second),
		CompressThreshold: 1024,
		LogLevel:          "info",
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error; the defaults stand.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to parse config file")
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return errors.Wrap(ErrInvalidConfig, "tick_rate must be positive")
	}
	if c.QUICAddr == "" && c.WebSocketAddr == "" {
		return errors.Wrap(ErrInvalidConfig, "at least one listen address is required")
	}
	if c.SpatialCellSizeM <= 0 {
		return errors.Wrap(ErrInvalidConfig, "spatial_cell_size_m must be positive")
	}
	if c.FocusRadiusM <= 0 || c.StrategicRadiusM <= 0 {
		return errors.Wrap(ErrInvalidConfig, "visibility radii must be positive")
	}
	return nil
}
