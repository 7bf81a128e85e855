package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// writeFile writes body to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// writeConfig writes a config whose log file stays inside dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	body := "log:\n  file: " + filepath.Join(dir, "logs", "review_pc.log") + "\n" + extra
	return writeFile(t, dir, "review_pc.yaml", body)
}

// execute runs cmd with args and stdin, returning stdout and stderr.
func execute(cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

const passingScenario = `name: two_accepts
description: "Two accepts complete a batch"
settings:
  batch_size: 2
steps:
  - command: start
    expect: { state: Running, index: 1 }
  - key: N
  - key: N
    expect: { state: WaitingConfirm, ok: 2 }
  - key: Enter
    expect: { state: Idle }
assertions:
  - type: event_contains
    kind: batch_closed
    fields: { outcome: confirmed, ok: 2 }
`

const failingScenario = `name: wrong_tally
description: "Expects a tally the engine never reaches"
settings:
  batch_size: 1
steps:
  - command: start
  - key: M
    expect: { ok: 1 }
`
