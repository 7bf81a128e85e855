package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/reviewpc/internal/canonical"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// GoldenSuffix is the golden file extension.
const GoldenSuffix = ".golden"

// TraceBytes renders a trace as canonical JSON lines: a header line with
// the scenario name, then one line per event with its fields and t_ms,
// the manual clock offset.
func TraceBytes(scenarioName string, trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer

	header, err := canonical.Marshal(map[string]any{
		"scenario_name": scenarioName,
		"events":        len(trace),
	})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for _, ev := range trace {
		line, err := canonical.Marshal(ev.canonicalMap())
		if err != nil {
			return nil, fmt.Errorf("event seq %d: %w", ev.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result, opts...); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against its golden file.
// Options are applied after the defaults, so a test can point the fixture
// dir elsewhere.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	traceBytes, err := TraceBytes(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	all := append([]goldie.Option{
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(GoldenSuffix),
	}, opts...)
	g := goldie.New(t, all...)
	g.Assert(t, scenarioName, traceBytes)

	return nil
}
