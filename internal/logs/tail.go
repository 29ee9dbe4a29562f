package logs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const chunkSize = 64 * 1024

// Last returns up to n trailing lines of path and the offset just past them.
// A missing file yields no lines and offset zero.
func Last(path string, n int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	size := info.Size()
	if n <= 0 || size == 0 {
		return nil, size, nil
	}

	// Read backwards until the buffer holds n complete lines or the file start.
	var buf []byte
	pos := size
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := min(int64(chunkSize), pos)
		pos -= step
		chunk := make([]byte, step)
		if _, err := file.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		buf = append(chunk, buf...)
	}

	lines := splitLines(buf)
	if pos > 0 && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, size, nil
}

// Follow polls path from offset and calls emit for every complete line until
// ctx is done. A truncated or replaced file is read again from the start.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var pending []byte
	for {
		next, partial, err := readFrom(path, offset, pending, emit)
		if err != nil {
			return err
		}
		offset, pending = next, partial

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, pending []byte, emit func(string)) (int64, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil, nil
		}
		return offset, pending, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, pending, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset, pending = 0, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, pending, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, chunkSize)
	for {
		chunk, err := reader.ReadBytes('\n')
		offset += int64(len(chunk))
		if len(chunk) > 0 && chunk[len(chunk)-1] == '\n' {
			line := append(pending, chunk[:len(chunk)-1]...)
			pending = nil
			emit(string(bytes.TrimSuffix(line, []byte{'\r'})))
		} else {
			pending = append(pending, chunk...)
		}
		if errors.Is(err, io.EOF) {
			return offset, pending, nil
		}
		if err != nil {
			return offset, pending, fmt.Errorf("read log file: %w", err)
		}
	}
}

func splitLines(buf []byte) []string {
	buf = bytes.TrimSuffix(buf, []byte{'\n'})
	if len(buf) == 0 {
		return nil
	}
	parts := bytes.Split(buf, []byte{'\n'})
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(bytes.TrimSuffix(p, []byte{'\r'}))
	}
	return lines
}
