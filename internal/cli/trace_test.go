package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSession runs a console session against dbPath.
func recordSession(t *testing.T, dir, dbPath, sessionID, input string) {
	t.Helper()
	cfg := writeConfig(t, dir, "batch:\n  default_size: 2\n")
	_, _, err := execute(newTestRunCommand("text", sessionID), input, "--config", cfg, "--db", dbPath)
	require.NoError(t, err)
}

func TestTrace_LatestSession(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	recordSession(t, dir, dbPath, "sess-a", "start\nn\nn\nenter\n")
	recordSession(t, dir, dbPath, "sess-b", "start\nm\n")

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Session sess-b")
	assert.Contains(t, out, "+0.000s  [1] batch_started batch=1 size=2")
	assert.Contains(t, out, "Unfinished: batch 1 open, last state Running")
}

func TestTrace_NamedSessionWithKindFilter(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	recordSession(t, dir, dbPath, "sess-a", "start\nn\nn\nenter\n")
	recordSession(t, dir, dbPath, "sess-b", "start\n")

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "",
		"--db", dbPath, "--session", "sess-a", "--kind", "batch_closed", "--kind", "key_handled")
	require.NoError(t, err)

	var resp struct {
		Status    string      `json:"status"`
		SessionID string      `json:"session_id"`
		Data      TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "sess-a", resp.SessionID)
	assert.Equal(t, 4, resp.Data.Stats.TotalEvents)
	assert.Equal(t, 3, resp.Data.Stats.ByKind["key_handled"])
	assert.Equal(t, 1, resp.Data.Stats.ByKind["batch_closed"])
	assert.True(t, resp.Data.Stats.Finished)
	assert.Equal(t, "Idle", resp.Data.Stats.LastState)
	assert.Equal(t, float64(2), resp.Data.Settings["batch_size"])

	last := resp.Data.Timeline[len(resp.Data.Timeline)-1]
	assert.Equal(t, "key_handled", last.Kind)
	assert.Equal(t, "Enter - Batch confirmed", last.Fields["description"])
}

func TestTrace_List(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	recordSession(t, dir, dbPath, "sess-a", "start\nn\nn\nenter\n")
	recordSession(t, dir, dbPath, "sess-b", "start\n")

	out, _, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), "", "--db", dbPath, "--list")
	require.NoError(t, err)

	var resp struct {
		Data []SessionSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	byID := map[string]SessionSummary{}
	for _, s := range resp.Data {
		byID[s.SessionID] = s
	}
	assert.True(t, byID["sess-a"].Finished)
	assert.False(t, byID["sess-b"].Finished)
	assert.Equal(t, "Running", byID["sess-b"].LastState)
}

func TestTrace_UnknownKind(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	recordSession(t, dir, dbPath, "sess-a", "start\n")

	_, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath, "--kind", "explosion")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown event kind "explosion"`)
}

func TestTrace_UnknownSession(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	recordSession(t, dir, dbPath, "sess-a", "start\n")

	_, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", dbPath, "--session", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found: nope")
}

func TestTrace_NonExistentDatabase(t *testing.T) {
	_, _, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "", "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}
