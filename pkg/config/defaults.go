package config

import (
	"time"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
	"github.com/wtsi-hgi/irobot/internal/logger"
)

// DefaultConfig returns a Config that passes Validate unmodified, matching
// the sample config `irobot init` writes.
func DefaultConfig() *Config {
	return &Config{
		Precache: PrecacheConfig{
			Location:  "/var/lib/irobot/precache",
			Index:     "tracker.db",
			Size:      ByteSizeOrUnlimited{Unlimited: true},
			Expiry:    DurationOrUnlimited{Unlimited: true},
			ChunkSize: 64 * bytesize.MiB,
		},
		Irods: IrodsConfig{
			MaxConnections: 4,
		},
		HTTPD: HTTPDConfig{
			BindAddress: "0.0.0.0",
			Listen:      5000,
			Timeout:     DurationOrUnlimited{Duration: 30 * time.Second},
			// Empty by default: an operator must opt into an authentication
			// handler once its credentials (basic_auth.url, arvados_auth.api_host)
			// are configured.
			Authentication: nil,
		},
		BasicAuth: BasicAuthConfig{
			Cache: DurationOrNever{Never: true},
		},
		ArvadosAuth: ArvadosAuthConfig{
			APIVersion: "v1",
			Cache:      DurationOrNever{Never: true},
		},
		Logging: LoggingConfig{
			Output: "STDERR",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyBackCompat folds the deprecated precache.age_threshold into expiry,
// per DESIGN.md's recorded Open Question decision (spec.md §9: the source's
// age_threshold/expiry distinction is inconsistent; this config merges
// them and preserves the old key only for one release).
func applyBackCompat(cfg *Config) {
	if cfg.Precache.AgeThreshold == nil {
		return
	}
	logger.Warn("precache.age_threshold is deprecated, use precache.expiry instead",
		logger.Path("precache.age_threshold"))
	cfg.Precache.Expiry = DurationOrUnlimited{Duration: *cfg.Precache.AgeThreshold}
	cfg.Precache.AgeThreshold = nil
}
