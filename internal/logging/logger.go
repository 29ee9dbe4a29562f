package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"daqpull/internal/config"
)

// Options describes logger construction parameters.
//
// Every OutputPaths entry receives records at Level and above. ErrorOutputPaths
// entries receive only errors. A path named in both lists is opened once, at
// Level. stderr is skipped when stdout is an output, since both usually reach
// the same terminal or journal.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

type output struct {
	path     string
	minLevel slog.Leveler
}

// New constructs a slog logger that fans records out to each configured path.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	var build func(io.Writer, slog.Leveler, bool) slog.Handler
	switch format {
	case "json":
		build = newJSONHandler
	case "console":
		build = newPrettyHandler
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	outputs := planOutputs(
		defaultSlice(opts.OutputPaths, []string{"stdout"}),
		defaultSlice(opts.ErrorOutputPaths, []string{"stderr"}),
		levelVar,
	)
	handlers := make([]slog.Handler, 0, len(outputs))
	for _, out := range outputs {
		w, err := openOutput(out.path)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, build(w, out.minLevel, addSource))
	}
	return slog.New(newFanoutHandler(handlers...)), nil
}

// NewFromConfig creates a logger using application config defaults. CLI
// commands log to stdout only; the daemon adds its per-run file itself.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

func planOutputs(outputPaths, errorPaths []string, level slog.Leveler) []output {
	var plan []output
	seen := map[string]struct{}{}
	add := func(path string, min slog.Leveler) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		plan = append(plan, output{path: path, minLevel: min})
	}
	for _, p := range outputPaths {
		add(p, level)
	}
	_, toStdout := seen["stdout"]
	for _, p := range errorPaths {
		if toStdout && strings.TrimSpace(p) == "stderr" {
			continue
		}
		add(p, errorFloor{level})
	}
	return plan
}

// errorFloor admits errors, or anything above a stricter configured level.
type errorFloor struct{ base slog.Leveler }

func (e errorFloor) Level() slog.Level {
	return max(e.base.Level(), slog.LevelError)
}

func openOutput(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSlice(value []string, fallback []string) []string {
	if len(value) == 0 {
		return append([]string(nil), fallback...)
	}
	return append([]string(nil), value...)
}
