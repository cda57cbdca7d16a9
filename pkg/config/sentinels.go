package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wtsi-hgi/irobot/internal/bytesize"
)

// ByteSizeOrUnlimited is precache.size's shape: a concrete byte budget, or
// the sentinel "unlimited" disabling eviction on size pressure.
type ByteSizeOrUnlimited struct {
	Unlimited bool
	Size      bytesize.ByteSize
}

// Bytes returns the budget in bytes, or 0 when unlimited.
func (b ByteSizeOrUnlimited) Bytes() int64 {
	if b.Unlimited {
		return 0
	}
	return b.Size.Int64()
}

func (b ByteSizeOrUnlimited) String() string {
	if b.Unlimited {
		return "unlimited"
	}
	return b.Size.String()
}

// UnmarshalText implements encoding.TextUnmarshaler, for viper/mapstructure
// string decoding and YAML round-tripping.
func (b *ByteSizeOrUnlimited) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.EqualFold(s, "unlimited") {
		*b = ByteSizeOrUnlimited{Unlimited: true}
		return nil
	}
	size, err := bytesize.ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSizeOrUnlimited{Size: size}
	return nil
}

// MarshalYAML renders the sentinel form for SaveConfig.
func (b ByteSizeOrUnlimited) MarshalYAML() (any, error) {
	return b.String(), nil
}

// DurationOrUnlimited is precache.expiry and httpd.timeout's shape.
type DurationOrUnlimited struct {
	Unlimited bool
	Duration  time.Duration
}

func (d *DurationOrUnlimited) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.EqualFold(s, "unlimited") {
		*d = DurationOrUnlimited{Unlimited: true}
		return nil
	}
	parsed, err := parseFlexibleDuration(s)
	if err != nil {
		return err
	}
	*d = DurationOrUnlimited{Duration: parsed}
	return nil
}

func (d DurationOrUnlimited) String() string {
	if d.Unlimited {
		return "unlimited"
	}
	return d.Duration.String()
}

func (d DurationOrUnlimited) MarshalYAML() (any, error) {
	return d.String(), nil
}

// DurationOrNever is basic_auth.cache and arvados_auth.cache's shape. Never
// disables the handler's response cache (every request re-validates).
type DurationOrNever struct {
	Never    bool
	Duration time.Duration
}

func (d *DurationOrNever) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if strings.EqualFold(s, "never") {
		*d = DurationOrNever{Never: true}
		return nil
	}
	parsed, err := parseFlexibleDuration(s)
	if err != nil {
		return err
	}
	*d = DurationOrNever{Duration: parsed}
	return nil
}

func (d DurationOrNever) String() string {
	if d.Never {
		return "never"
	}
	return d.Duration.String()
}

func (d DurationOrNever) MarshalYAML() (any, error) {
	return d.String(), nil
}

// parseFlexibleDuration accepts stdlib duration syntax ("30s", "5m", "1h")
// plus a bare "<n>years" form, for precache.expiry's year unit.
func parseFlexibleDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "years") {
		var years float64
		if _, err := fmt.Sscanf(s, "%fyears", &years); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(years * 365 * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(s)
}
