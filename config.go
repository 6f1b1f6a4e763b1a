package kiln

import (
	"fmt"
	"os"

	"github.com/junioryono/kiln/internal/compiler"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Stage selects when recipes are assembled.
type Stage string

const (
	// Development assembles and constructs on first request.
	Development Stage = "development"
	// Production assembles every static binding and creates singletons in New.
	Production Stage = "production"
)

func (s Stage) String() string {
	return string(s)
}

// Config holds injector settings. The zero value of each field selects its
// default.
type Config struct {
	Stage Stage `yaml:"stage"`

	// MaxUnitSize is the size budget of one compiled unit. Larger recipes are
	// split into linked units.
	MaxUnitSize int `yaml:"max_unit_size"`

	// DisableInlining links every dependency instead of inlining small
	// unscoped ones into the requesting unit.
	DisableInlining bool `yaml:"disable_inlining"`

	// LogLevel builds a production zap logger at that level when no logger is
	// supplied. Empty disables logging.
	LogLevel string `yaml:"log_level"`

	MetricsNamespace string `yaml:"metrics_namespace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Stage:            Development,
		MaxUnitSize:      compiler.DefaultBudget,
		MetricsNamespace: "kiln",
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read kiln config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration on top of DefaultConfig and
// validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills zero fields with defaults.
func (c *Config) Validate() error {
	switch c.Stage {
	case "":
		c.Stage = Development
	case Development, Production:
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidConfig, c.Stage)
	}

	if c.MaxUnitSize < 0 {
		return fmt.Errorf("%w: max_unit_size must not be negative, got %d", ErrInvalidConfig, c.MaxUnitSize)
	}
	if c.MaxUnitSize == 0 {
		c.MaxUnitSize = compiler.DefaultBudget
	}

	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
		}
	}

	if c.MetricsNamespace == "" {
		c.MetricsNamespace = "kiln"
	}
	return nil
}

func (c Config) logger() (*zap.Logger, error) {
	if c.LogLevel == "" {
		return zap.NewNop(), nil
	}

	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
