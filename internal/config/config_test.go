package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/batch"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, 6, s.BatchSize)
	assert.False(t, s.CyclingEnabled)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, s.CyclingSequence)
	assert.Equal(t, 10*time.Second, s.TimeoutDefault)
	assert.Equal(t, 3*time.Second, s.LagDuration)
	assert.Equal(t, batch.KeepTallies, s.CancelPolicy)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "review_pc.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Sequence{2, 4, 6}, cfg.Batch.CyclingSequence)
	assert.Equal(t, "images/timeout", cfg.Images.TimeoutDir)
	assert.Equal(t, "review_pc.db", cfg.Audit.Database)

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.True(t, s.CyclingEnabled)
	assert.True(t, s.AutoStartNext)
	assert.Equal(t, batch.DiscardTallies, s.CancelPolicy)
	assert.Equal(t, 7500*time.Millisecond, s.TimeoutDefault)
	assert.Equal(t, 2*time.Second, s.LagDuration)

	lo := cfg.LogOptions()
	assert.Equal(t, "debug", lo.Level)
	assert.Equal(t, 5, lo.MaxSizeMB)
	assert.True(t, lo.Compress)

	dirs := cfg.ImageDirs()
	assert.Equal(t, "images/wait.png", dirs.WaitImage)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("timeout:\n  default_seconds: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, cfg.Timeout.DefaultSeconds)
	assert.Equal(t, 6, cfg.Batch.DefaultSize)
	assert.Equal(t, 3.0, cfg.Lag.DurationSeconds)
}

func TestParse_SequenceAsList(t *testing.T) {
	cfg, err := Parse([]byte("batch:\n  cycling_enabled: true\n  cycling_sequence: [0, 3]\n"))
	require.NoError(t, err)
	assert.Equal(t, Sequence{0, 3}, cfg.Batch.CyclingSequence)
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("batch:\n  default_sise: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_sise")
}

func TestParse_SequenceErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"out of range", "batch:\n  cycling_sequence: \"1,7\"\n"},
		{"negative", "batch:\n  cycling_sequence: [-1]\n"},
		{"empty while enabled", "batch:\n  cycling_enabled: true\n  cycling_sequence: \"\"\n"},
		{"not a number", "batch:\n  cycling_sequence: \"1,two\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, batch.IsInvalidConfiguration(err), "got %v", err)
		})
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"batch size", "batch:\n  default_size: 9\n", "batch.default_size"},
		{"timeout", "timeout:\n  default_seconds: 0\n", "timeout.default_seconds"},
		{"lag", "lag:\n  duration_seconds: -1\n", "lag.duration_seconds"},
		{"cancel policy", "batch:\n  cancel_policy: rollback\n", "batch.cancel_policy"},
		{"log level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			require.NotEmpty(t, verrs)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence(" 1, 2 ,3 ")
	require.NoError(t, err)
	assert.Equal(t, Sequence{1, 2, 3}, seq)
	assert.Equal(t, "1,2,3", seq.String())

	seq, err = ParseSequence("")
	require.NoError(t, err)
	assert.Empty(t, seq)

	_, err = ParseSequence("1,,2")
	var ce *batch.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Position)
}

func TestSchema_Embedded(t *testing.T) {
	assert.Contains(t, Schema(), "#Config")
}

func TestLoad_WrapsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch:\n  default_size: 9\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}
