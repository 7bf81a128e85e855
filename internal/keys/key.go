// Package keys routes reviewer keystrokes to the batch state machine.
package keys

import (
	"fmt"
	"strings"
)

// Key is a discrete reviewer key.
type Key int

const (
	// Accept judges the current image OK (terminal key N).
	Accept Key = iota + 1
	// Reject judges the current image NG (terminal key M).
	Reject
	// Confirm accepts a completed batch (terminal key Enter).
	Confirm
	// Cancel declines a completed batch (terminal key Esc).
	Cancel
)

var keyLabels = map[Key]string{
	Accept:  "N",
	Reject:  "M",
	Confirm: "Enter",
	Cancel:  "Esc",
}

var keyNames = map[Key]string{
	Accept:  "accept",
	Reject:  "reject",
	Confirm: "confirm",
	Cancel:  "cancel",
}

var aliases = map[string]Key{
	"n":       Accept,
	"accept":  Accept,
	"ok":      Accept,
	"m":       Reject,
	"reject":  Reject,
	"ng":      Reject,
	"enter":   Confirm,
	"return":  Confirm,
	"confirm": Confirm,
	"esc":     Cancel,
	"escape":  Cancel,
	"cancel":  Cancel,
}

// Label returns the terminal key identifier (N, M, Enter, Esc).
func (k Key) Label() string {
	if l, ok := keyLabels[k]; ok {
		return l
	}
	return "?"
}

func (k Key) String() string {
	if n, ok := keyNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Key(%d)", int(k))
}

// ParseKey accepts a terminal identifier or a key name, case-insensitively.
func ParseKey(s string) (Key, error) {
	if k, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown key %q", s)
}
