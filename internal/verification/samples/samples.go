// Package samples reads per-channel sample series out of acquisition files.
package samples

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnsupportedFormat reports a file type no registered reader understands.
var ErrUnsupportedFormat = errors.New("unsupported sample format")

// Channel is one named series of samples.
type Channel struct {
	Name   string
	Values []float64
}

// Reader extracts every channel from a file.
type Reader interface {
	Channels(path string) ([]Channel, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(path string) ([]Channel, error)

func (f ReaderFunc) Channels(path string) ([]Channel, error) { return f(path) }

// Registry dispatches to a Reader by file extension.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Reader
}

// NewRegistry returns a registry with every reader compiled into this build.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Reader)}
	r.Register(".csv", CSVReader{})
	registerBuildReaders(r)
	return r
}

// Register binds reader to ext (with or without the leading dot).
func (r *Registry) Register(ext string, reader Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = reader
}

// Supports reports whether ext has a reader.
func (r *Registry) Supports(ext string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byExt[normalizeExt(ext)]
	return ok
}

// Channels reads path with the reader registered for its extension.
func (r *Registry) Channels(path string) ([]Channel, error) {
	ext := normalizeExt(filepath.Ext(path))
	r.mu.RLock()
	reader, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return reader.Channels(path)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
