package config

import (
	"time"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

// PrecacheConfig is the `precache` section of spec.md §6.
type PrecacheConfig struct {
	// Location is the precache root directory.
	Location string `mapstructure:"location" validate:"required" yaml:"location"`
	// Index is the tracking store's path, or a basename resolved under Location.
	Index string `mapstructure:"index" validate:"required" yaml:"index"`
	// Size is the budget; unlimited disables eviction on size pressure.
	Size ByteSizeOrUnlimited `mapstructure:"size" yaml:"size"`
	// AgeThreshold is deprecated in favour of Expiry; see applyBackCompat.
	AgeThreshold *time.Duration `mapstructure:"age_threshold" yaml:"age_threshold,omitempty"`
	// Expiry is how long an entry may go unaccessed before eviction.
	Expiry DurationOrUnlimited `mapstructure:"expiry" yaml:"expiry"`
	// ChunkSize is the checksum index's chunk alignment.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"required" yaml:"chunk_size"`
}

// IrodsConfig is the `irods` section of spec.md §6.
type IrodsConfig struct {
	// MaxConnections bounds the remote-store client connection pool.
	MaxConnections int `mapstructure:"max_connections" validate:"required,min=1" yaml:"max_connections"`
}

// HTTPDConfig is the `httpd` section of spec.md §6.
type HTTPDConfig struct {
	BindAddress string              `mapstructure:"bind_address" validate:"required,ipv4" yaml:"bind_address"`
	Listen      int                 `mapstructure:"listen" validate:"min=0,max=65535" yaml:"listen"`
	Timeout     DurationOrUnlimited `mapstructure:"timeout" yaml:"timeout"`
	// Authentication names the ordered handlers to try, e.g. ["basic_auth", "arvados_auth"].
	Authentication []string `mapstructure:"authentication" validate:"dive,oneof=basic_auth arvados_auth" yaml:"authentication"`
}

// BasicAuthConfig is the `basic_auth` section of spec.md §6.
type BasicAuthConfig struct {
	URL   string          `mapstructure:"url" validate:"omitempty,url" yaml:"url"`
	Cache DurationOrNever `mapstructure:"cache" yaml:"cache"`
}

// ArvadosAuthConfig is the `arvados_auth` section of spec.md §6.
type ArvadosAuthConfig struct {
	APIHost    string          `mapstructure:"api_host" validate:"omitempty,hostname_rfc1123|ipv4" yaml:"api_host"`
	APIVersion string          `mapstructure:"api_version" validate:"omitempty,oneof=v1" yaml:"api_version"`
	Cache      DurationOrNever `mapstructure:"cache" yaml:"cache"`
}

// LoggingConfig is the `logging` section of spec.md §6.
type LoggingConfig struct {
	// Output is a file path, or the literal "STDERR".
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
	// Level is one of the original's five levels, not slog's four.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warning error critical" yaml:"level"`
}

// TelemetryConfig is an ambient section not named by spec.md §6: it
// configures the OpenTelemetry tracing the teacher's internal/telemetry
// wires up (SPEC_FULL.md §11), opt-in and disabled by default.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls the Pyroscope continuous profiler wired from
// internal/telemetry/profiling.go, opt-in and disabled by default.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig toggles the Prometheus registry and the /_metrics route
// registered by internal/httpapi. Ambient, not named by spec.md §6.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}
