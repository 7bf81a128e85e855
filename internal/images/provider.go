// Package images lists the pictures a review session cycles through.
//
// The engine never decodes pixels. It asks for counts and for the name of
// the image at an index; indices wrap around the available set.
package images

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind selects an image set.
type Kind string

const (
	// Normal images are shown for review.
	Normal Kind = "normal"
	// Timeout images replace a stalled image.
	Timeout Kind = "timeout"
	// Wait is the placeholder shown for images not reached yet.
	Wait Kind = "wait"
)

// Extensions are the file suffixes recognised as images.
var Extensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif"}

// Source is what the engine needs from an image provider.
type Source interface {
	ImageCount(kind Kind) int
	ImageAt(kind Kind, index int) (string, error)
}

// Dirs locates the image sets on disk. Empty fields are skipped.
type Dirs struct {
	NormalDir  string
	WaitImage  string
	TimeoutDir string
}

// Provider holds image paths per kind.
//
// Thread-safety: immutable after construction.
type Provider struct {
	normal  []string
	timeout []string
	wait    string
}

// NewStatic builds a provider from explicit names.
func NewStatic(normal, timeout []string, wait string) *Provider {
	return &Provider{
		normal:  append([]string(nil), normal...),
		timeout: append([]string(nil), timeout...),
		wait:    wait,
	}
}

// Load scans the configured directories. A missing directory yields an
// empty set, not an error; an unreadable one is an error.
func Load(d Dirs) (*Provider, error) {
	p := &Provider{}

	var err error
	if p.normal, err = scan(d.NormalDir); err != nil {
		return nil, fmt.Errorf("load normal images: %w", err)
	}
	if p.timeout, err = scan(d.TimeoutDir); err != nil {
		return nil, fmt.Errorf("load timeout images: %w", err)
	}
	if d.WaitImage != "" {
		if _, statErr := os.Stat(d.WaitImage); statErr == nil {
			p.wait = d.WaitImage
		} else {
			slog.Warn("wait image not found", "path", d.WaitImage)
		}
	}

	slog.Info("images loaded",
		"normal", len(p.normal),
		"timeout", len(p.timeout),
		"wait", p.wait != "",
	)
	return p, nil
}

// ImageCount returns the number of images of kind. Wait counts as one when
// configured.
func (p *Provider) ImageCount(kind Kind) int {
	switch kind {
	case Normal:
		return len(p.normal)
	case Timeout:
		return len(p.timeout)
	case Wait:
		if p.wait != "" {
			return 1
		}
	}
	return 0
}

// ImageAt returns the image at index, wrapping around the set. Timeout
// falls back to the wait image when no timeout images exist.
func (p *Provider) ImageAt(kind Kind, index int) (string, error) {
	var set []string
	switch kind {
	case Normal:
		set = p.normal
	case Timeout:
		set = p.timeout
		if len(set) == 0 && p.wait != "" {
			return p.wait, nil
		}
	case Wait:
		if p.wait != "" {
			return p.wait, nil
		}
	default:
		return "", fmt.Errorf("unknown image kind %q", kind)
	}
	if len(set) == 0 {
		return "", fmt.Errorf("no %s images", kind)
	}
	i := index % len(set)
	if i < 0 {
		i += len(set)
	}
	return set[i], nil
}

func scan(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("image directory not found", "dir", dir)
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, x := range Extensions {
		if ext == x {
			return true
		}
	}
	return false
}
