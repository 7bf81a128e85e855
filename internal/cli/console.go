package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/reviewpc/internal/canonical"
	"github.com/roach88/reviewpc/internal/config"
	"github.com/roach88/reviewpc/internal/engine"
	"github.com/roach88/reviewpc/internal/events"
	"github.com/roach88/reviewpc/internal/fault"
	"github.com/roach88/reviewpc/internal/keys"
	"github.com/roach88/reviewpc/internal/timeout"
)

const consoleHelp = `keys:     n (OK)  m (NG)  enter (confirm)  esc (cancel)
commands: start  pause  resume  stop  size N  cycle on|off 1,2,3
          timeout SECS  lag [SECS]  popup  crash
console:  status  help  quit`

// inputAction is one parsed console line. Exactly one field is set.
type inputAction struct {
	event  *engine.Event
	status bool
	help   bool
	quit   bool
}

var simpleCommands = map[string]engine.CommandName{
	"start":  engine.CmdStart,
	"pause":  engine.CmdPause,
	"resume": engine.CmdResume,
	"stop":   engine.CmdStop,
	"popup":  engine.CmdInjectPopup,
	"crash":  engine.CmdInjectCrash,
}

// parseInput turns a console line into an action. Blank lines yield a zero
// action.
func parseInput(line string) (inputAction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return inputAction{}, nil
	}
	word, args := strings.ToLower(fields[0]), fields[1:]

	switch word {
	case "quit", "exit", "q":
		return inputAction{quit: true}, nil
	case "status":
		return inputAction{status: true}, nil
	case "help", "?":
		return inputAction{help: true}, nil
	}

	if name, ok := simpleCommands[word]; ok {
		if len(args) > 0 {
			return inputAction{}, fmt.Errorf("%s takes no arguments", word)
		}
		return commandAction(engine.Command{Name: name}), nil
	}

	switch word {
	case "size":
		if len(args) != 1 {
			return inputAction{}, fmt.Errorf("usage: size N")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return inputAction{}, fmt.Errorf("size: %q is not an integer", args[0])
		}
		return commandAction(engine.Command{Name: engine.CmdSetBatchSize, Size: n}), nil

	case "lag":
		if len(args) > 1 {
			return inputAction{}, fmt.Errorf("usage: lag [SECS]")
		}
		var d time.Duration
		if len(args) == 1 {
			secs, err := parseSeconds(args[0])
			if err != nil {
				return inputAction{}, fmt.Errorf("lag: %w", err)
			}
			d = timeout.Seconds(secs)
		}
		return commandAction(engine.Command{Name: engine.CmdInjectLag, Duration: d}), nil

	case "timeout":
		if len(args) != 1 {
			return inputAction{}, fmt.Errorf("usage: timeout SECS")
		}
		secs, err := parseSeconds(args[0])
		if err != nil {
			return inputAction{}, fmt.Errorf("timeout: %w", err)
		}
		return commandAction(engine.Command{Name: engine.CmdOverrideTimeout, Duration: timeout.Seconds(secs)}), nil

	case "cycle":
		if len(args) != 2 {
			return inputAction{}, fmt.Errorf("usage: cycle on|off 1,2,3")
		}
		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on":
			enabled = true
		case "off":
		default:
			return inputAction{}, fmt.Errorf("cycle: expected on or off, got %q", args[0])
		}
		seq, err := config.ParseSequence(args[1])
		if err != nil {
			return inputAction{}, err
		}
		return commandAction(engine.Command{
			Name:     engine.CmdConfigureCycling,
			Enabled:  enabled,
			Sequence: seq,
		}), nil
	}

	k, err := keys.ParseKey(word)
	if err != nil {
		return inputAction{}, fmt.Errorf("unknown input %q (type help)", fields[0])
	}
	if len(args) > 0 {
		return inputAction{}, fmt.Errorf("key %s takes no arguments", k.Label())
	}
	ev := engine.KeyEvent(k)
	return inputAction{event: &ev}, nil
}

func commandAction(c engine.Command) inputAction {
	ev := engine.CommandEvent(c)
	return inputAction{event: &ev}
}

func parseSeconds(s string) (float64, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number of seconds", s)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("seconds must be positive, got %s", s)
	}
	return secs, nil
}

// console serialises output from the engine goroutine and the input loop.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// writeJSON writes v as one canonical JSON line.
func (c *console) writeJSON(v map[string]any) {
	data, err := canonical.Marshal(v)
	if err != nil {
		c.printf("{\"error\":%q}\n", err.Error())
		return
	}
	c.printf("%s\n", data)
}

// Event is a bus handler that prints every engine event.
func (c *console) Event(ev events.Event) {
	if c.json {
		c.writeJSON(ev.Fields())
		return
	}
	c.printf("%s\n", eventLine(ev.Seq, string(ev.Kind()), ev.Payload.Fields()))
}

func (c *console) Rejected(line string, err error) {
	if c.json {
		c.writeJSON(map[string]any{"input": line, "error": err.Error()})
		return
	}
	c.printf("ignored: %v\n", err)
}

func (c *console) Status(s engine.Snapshot) {
	if c.json {
		c.writeJSON(snapshotMap(s))
		return
	}
	c.printf("%s\n", s.Status())
}

func (c *console) Presenter() fault.Presenter {
	return fault.PresenterFunc{
		Popup: func(p fault.Popup) {
			if c.json {
				c.writeJSON(map[string]any{"dialog": "popup", "title": p.Title, "message": p.Message})
				return
			}
			c.printf("*** %s: %s ***\n", p.Title, p.Message)
		},
		Crash: func(cr fault.Crash) {
			if c.json {
				c.writeJSON(map[string]any{"dialog": "crash", "title": cr.Title, "message": cr.Message})
				return
			}
			c.printf("*** %s ***\n%s\n%s\n[%s]\n", cr.Title, cr.Message, cr.Info, strings.Join(cr.Buttons, "] ["))
		},
	}
}

// eventLine renders "[seq] kind k=v ..." with keys sorted.
func eventLine(seq int64, kind string, fields map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", seq, kind)
	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if s, ok := v.(string); ok && strings.ContainsAny(s, " =") {
			v = strconv.Quote(s)
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	return b.String()
}

func snapshotMap(s engine.Snapshot) map[string]any {
	return map[string]any{
		"session_id":           s.SessionID,
		"state":                s.State.String(),
		"batch":                s.BatchNumber,
		"size":                 s.BatchSize,
		"image":                s.Image,
		"ok":                   s.OK,
		"ng":                   s.NG,
		"timeouts":             s.Timeouts,
		"awaiting_timeout_key": s.AwaitingTimeoutKey,
		"timeout_remaining_ms": s.TimeoutRemaining.Milliseconds(),
		"lag_pending":          s.LagPending,
		"status":               s.Status(),
	}
}
