package debugbar

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/peterbourgon/debugbar/dbgdump"
	"github.com/peterbourgon/debugbar/dbgredact"
	"gopkg.in/yaml.v3"
)

// Config is the configuration surface of the debug bar. The zero value isn't
// useful; start from DefaultConfig.
type Config struct {
	// Enabled turns the debug bar on or off. If nil, the host application's
	// debug flag decides.
	Enabled *bool `yaml:"enabled" json:"enabled,omitempty"`

	// PerRequestBytes is the cumulative size of all full dumps a single
	// request may store.
	PerRequestBytes int `yaml:"per_request_bytes" json:"per_request_bytes" validate:"gte=1,lte=1073741824"`

	// TTLSeconds is how long stored dumps and late logs are retrievable.
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds" validate:"gte=1,lte=604800"`

	// Dump limits full dumps.
	Dump dbgdump.Limits `yaml:"dump" json:"dump"`

	// Preview limits inline previews. They're clamped to the dump limits.
	Preview dbgdump.Limits `yaml:"preview" json:"preview"`

	// Redaction lists the keys whose values are masked.
	Redaction dbgredact.Config `yaml:"redaction" json:"redaction"`

	// PerformanceTracking records timestamps and durations of views.
	PerformanceTracking bool `yaml:"performance_tracking" json:"performance_tracking"`

	// FullDumps stores a full dump of each view's local data.
	FullDumps bool `yaml:"full_dumps" json:"full_dumps"`

	// Collectors enables or disables collectors by name. Collectors which
	// aren't listed are enabled.
	Collectors map[string]bool `yaml:"collectors" json:"collectors,omitempty" validate:"dive,keys,collectorname,endkeys"`

	// LateLogs is the number of late log entries kept per request.
	LateLogs int `yaml:"late_logs" json:"late_logs" validate:"gte=0,lte=10000"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PerRequestBytes:     1 * 1024 * 1024,
		TTLSeconds:          3600,
		Dump:                dbgdump.DefaultLimits,
		Preview:             dbgdump.DefaultPreviewLimits,
		Redaction:           dbgredact.DefaultConfig(),
		PerformanceTracking: true,
		LateLogs:            100,
	}
}

// LoadConfig reads a YAML config file. Keys missing from the file take their
// default values. The result is validated.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var (
	configValidate    = validator.New(validator.WithRequiredStructEnabled())
	collectorNameExpr = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

func init() {
	_ = configValidate.RegisterValidation("collectorname", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String && collectorNameExpr.MatchString(fl.Field().String())
	})
}

// Validate returns an error describing every invalid field, including
// redaction patterns which don't compile.
func (cfg *Config) Validate() error {
	var errs []error

	if err := configValidate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := dbgredact.Compile(cfg.Redaction); err != nil {
		errs = append(errs, fmt.Errorf("redaction: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	return nil
}

// IsEnabled resolves the enabled flag against the host's debug flag.
func (cfg *Config) IsEnabled(hostDebug bool) bool {
	if cfg.Enabled == nil {
		return hostDebug
	}
	return *cfg.Enabled
}

// TTL returns TTLSeconds as a duration.
func (cfg *Config) TTL() time.Duration {
	return time.Duration(cfg.TTLSeconds) * time.Second
}

// CollectorEnabled returns false only if the named collector is explicitly
// disabled.
func (cfg *Config) CollectorEnabled(name string) bool {
	enabled, ok := cfg.Collectors[name]
	return !ok || enabled
}
