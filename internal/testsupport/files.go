package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteFile creates path with size bytes (at least one), filling it with the
// file's base name repeated so a moved copy can be told apart from another.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	pattern := []byte(filepath.Base(path))
	data := bytes.Repeat(pattern, int(size)/len(pattern)+1)[:size]
	mustWrite(t, path, data)
}

// WriteSampleCSV writes a header of channels followed by rows lines, with
// value(row, col) supplying each sample.
func WriteSampleCSV(t testing.TB, path string, channels []string, rows int, value func(row, col int) float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString(strings.Join(channels, ","))
	b.WriteByte('\n')
	for row := 0; row < rows; row++ {
		for col := range channels {
			if col > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%g", value(row, col))
		}
		b.WriteByte('\n')
	}
	mustWrite(t, path, []byte(b.String()))
}

func mustWrite(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
