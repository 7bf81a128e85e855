package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reviewpc/internal/engine"
)

func TestLoadScenario_File(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenarioDir, "cycling_sequence.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "cycling_sequence", s.Name)
	require.NotNil(t, s.Settings)
	assert.Equal(t, []int{2, 0, 1}, []int(s.Settings.CyclingSequence))
	assert.True(t, *s.Settings.CyclingEnabled)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseScenario_SequenceAsList(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: list
description: "list syntax"
settings:
  cycling_enabled: true
  cycling_sequence: [3, 3]
steps:
  - command: configure_cycling
    enabled: false
    sequence: [1, 2]
`))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, []int(s.Settings.CyclingSequence))

	c, err := s.Steps[0].command()
	require.NoError(t, err)
	assert.Equal(t, engine.CmdConfigureCycling, c.Name)
	assert.False(t, c.Enabled)
	assert.Equal(t, []int{1, 2}, c.Sequence)
}

func TestStep_Command(t *testing.T) {
	size := 4
	secs := 1.5

	c, err := Step{Command: "set_batch_size", Size: &size}.command()
	require.NoError(t, err)
	assert.Equal(t, 4, c.Size)

	c, err = Step{Command: "override_timeout", Seconds: &secs}.command()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, c.Duration)

	c, err = Step{Command: "inject_lag"}.command()
	require.NoError(t, err)
	assert.Zero(t, c.Duration, "zero means the configured lag")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{command: start}]",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsteps: [{command: start}]",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d",
			want: "steps list is required",
		},
		{
			name: "two inputs in one step",
			yaml: "name: n\ndescription: d\nsteps: [{command: start, key: N}]",
			want: "exactly one of command, key or advance",
		},
		{
			name: "empty step",
			yaml: "name: n\ndescription: d\nsteps: [{expect: {ok: 1}}]",
			want: "exactly one of command, key or advance",
		},
		{
			name: "unknown key",
			yaml: "name: n\ndescription: d\nsteps: [{key: F5}]",
			want: "steps[0]",
		},
		{
			name: "bad duration",
			yaml: "name: n\ndescription: d\nsteps: [{advance: soon}]",
			want: "advance",
		},
		{
			name: "negative duration",
			yaml: "name: n\ndescription: d\nsteps: [{advance: -1s}]",
			want: "must not be negative",
		},
		{
			name: "unknown command",
			yaml: "name: n\ndescription: d\nsteps: [{command: reboot}]",
			want: `unknown command "reboot"`,
		},
		{
			name: "set_batch_size without size",
			yaml: "name: n\ndescription: d\nsteps: [{command: set_batch_size}]",
			want: "requires size",
		},
		{
			name: "override without seconds",
			yaml: "name: n\ndescription: d\nsteps: [{command: override_timeout}]",
			want: "requires seconds",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nsteps: [{command: start}]\nassertion: []",
			want: "failed to parse YAML",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps: [{command: start}]\nassertions: [{type: trace_contains}]",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "event_count without count",
			yaml: "name: n\ndescription: d\nsteps: [{command: start}]\nassertions: [{type: event_count, kind: key_handled}]",
			want: "non-negative count is required",
		},
		{
			name: "event_order entry without kind",
			yaml: "name: n\ndescription: d\nsteps: [{command: start}]\nassertions: [{type: event_order, events: [{fields: {ok: 1}}]}]",
			want: "assertions[0].events[0]: kind is required",
		},
		{
			name: "audit_row without table",
			yaml: "name: n\ndescription: d\nsteps: [{command: start}]\nassertions: [{type: audit_row, expect: {ok: 1}}]",
			want: "table is required",
		},
		{
			name: "out of range cycling sequence",
			yaml: "name: n\ndescription: d\nsettings: {cycling_enabled: true, cycling_sequence: \"1,9\"}\nsteps: [{command: start}]",
			want: "INVALID_CONFIGURATION",
		},
		{
			name: "bad cancel policy",
			yaml: "name: n\ndescription: d\nsettings: {cancel_policy: shred}\nsteps: [{command: start}]",
			want: "cancel policy",
		},
		{
			name: "non-positive timeout",
			yaml: "name: n\ndescription: d\nsettings: {timeout_seconds: 0}\nsteps: [{command: start}]",
			want: "timeout_seconds must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "c.txt", "lag_one.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	all, err := Discover(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "lag_one.yaml"),
	}, all)

	lag, err := Discover(dir, "lag_*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "lag_one.yaml")}, lag)

	_, err = Discover(dir, "[")
	assert.Error(t, err)

	_, err = Discover(filepath.Join(dir, "missing"), "")
	assert.Error(t, err)
}
