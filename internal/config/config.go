// Package config loads the read-only startup configuration.
//
// Files are YAML. Unknown keys are rejected, missing keys take the factory
// defaults, and the merged result is checked against an embedded CUE
// schema. Cycling sequence problems are reported as batch configuration
// errors so callers see the same INVALID_CONFIGURATION code the state
// machine uses.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reviewpc/internal/batch"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/images"
	"github.com/roach88/reviewpc/internal/logging"
	"github.com/roach88/reviewpc/internal/timeout"
)

// Config is the full configuration file.
type Config struct {
	Batch   BatchConfig   `yaml:"batch" json:"batch"`
	Timeout TimeoutConfig `yaml:"timeout" json:"timeout"`
	Lag     LagConfig     `yaml:"lag" json:"lag"`
	Images  ImagesConfig  `yaml:"images" json:"images"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
}

// BatchConfig controls batch sizing.
type BatchConfig struct {
	DefaultSize     int      `yaml:"default_size" json:"default_size"`
	CyclingEnabled  bool     `yaml:"cycling_enabled" json:"cycling_enabled"`
	CyclingSequence Sequence `yaml:"cycling_sequence" json:"cycling_sequence"`
	CancelPolicy    string   `yaml:"cancel_policy" json:"cancel_policy"`
	AutoStartNext   bool     `yaml:"auto_start_next" json:"auto_start_next"`
}

// TimeoutConfig controls the per-image countdown.
type TimeoutConfig struct {
	DefaultSeconds float64 `yaml:"default_seconds" json:"default_seconds"`
}

// LagConfig controls injected lag.
type LagConfig struct {
	DurationSeconds float64 `yaml:"duration_seconds" json:"duration_seconds"`
}

// ImagesConfig locates the image sets.
type ImagesConfig struct {
	NormalDir  string `yaml:"normal_dir" json:"normal_dir"`
	WaitImage  string `yaml:"wait_image" json:"wait_image"`
	TimeoutDir string `yaml:"timeout_dir" json:"timeout_dir"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	File       string `yaml:"file" json:"file"`
	Level      string `yaml:"level" json:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// AuditConfig locates the SQLite audit trail. Empty disables it.
type AuditConfig struct {
	Database string `yaml:"database" json:"database"`
}

// Defaults returns the factory configuration.
func Defaults() Config {
	return Config{
		Batch: BatchConfig{
			DefaultSize:     batch.DefaultBatchSize,
			CyclingSequence: Sequence{1, 2, 3, 4, 5, 6},
			CancelPolicy:    batch.KeepTallies.String(),
		},
		Timeout: TimeoutConfig{DefaultSeconds: 10},
		Lag:     LagConfig{DurationSeconds: 3},
		Log: LogConfig{
			File:       logging.DefaultFile,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Empty
// input yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. Sequence errors come back as
// *batch.ConfigError; everything else as ValidationErrors.
func (c *Config) Validate() error {
	if c.Batch.CyclingSequence == nil {
		c.Batch.CyclingSequence = Sequence{}
	}
	if c.Batch.CyclingEnabled || len(c.Batch.CyclingSequence) > 0 {
		if err := batch.ValidateSequence(c.Batch.CyclingSequence); err != nil {
			return err
		}
	}
	return validateSchema(c)
}

// Settings converts the configuration into engine startup settings.
func (c *Config) Settings() (engine.Settings, error) {
	policy, err := batch.ParseCancelPolicy(c.Batch.CancelPolicy)
	if err != nil {
		return engine.Settings{}, err
	}
	return engine.Settings{
		BatchSize:       c.Batch.DefaultSize,
		CyclingEnabled:  c.Batch.CyclingEnabled,
		CyclingSequence: append([]int(nil), c.Batch.CyclingSequence...),
		CancelPolicy:    policy,
		AutoStartNext:   c.Batch.AutoStartNext,
		TimeoutDefault:  timeout.Seconds(c.Timeout.DefaultSeconds),
		LagDuration:     timeout.Seconds(c.Lag.DurationSeconds),
	}, nil
}

// ImageDirs returns the image locations.
func (c *Config) ImageDirs() images.Dirs {
	return images.Dirs{
		NormalDir:  c.Images.NormalDir,
		WaitImage:  c.Images.WaitImage,
		TimeoutDir: c.Images.TimeoutDir,
	}
}

// LogOptions returns the file logging options.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		File:       c.Log.File,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Sequence is a cycling sequence. In YAML it is either a list of integers
// or the terminal's comma syntax, "1,2,3".
type Sequence []int

// UnmarshalYAML accepts a list or a comma-separated scalar.
func (s *Sequence) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		seq, err := ParseSequence(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*s = seq
		return nil
	case yaml.SequenceNode:
		var list []int
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: cycling_sequence must be a list or \"1,2,3\"", node.Line)
	}
}

// String renders the comma syntax.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, n := range s {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// ParseSequence parses "1,2,3". Whitespace is ignored and empty input gives
// an empty sequence. Ranges are not checked here; see
// batch.ValidateSequence.
func ParseSequence(s string) (Sequence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Sequence{}, nil
	}
	fields := strings.Split(s, ",")
	out := make(Sequence, 0, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, &batch.ConfigError{
				Code:     batch.ErrCodeInvalidConfiguration,
				Message:  fmt.Sprintf("cycling sequence element %q is not an integer", f),
				Position: i,
			}
		}
		out = append(out, n)
	}
	return out, nil
}
