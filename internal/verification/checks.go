package verification

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"

	"daqpull/internal/units"
	"daqpull/internal/verification/samples"
)

// Finding kinds.
const (
	FindingStuckChannel = "stuck_channel"
	FindingTooSmall     = "too_small"
	FindingTooLarge     = "too_large"
	FindingUnknownUnit  = "unknown_unit"
)

// Finding is one advisory plausibility problem.
type Finding struct {
	Kind   string
	Detail string
}

func (f Finding) String() string { return f.Kind + ": " + f.Detail }

// Report is the outcome of checking one file.
type Report struct {
	Path            string
	Size            int64
	ChannelsChecked int
	// ChannelsSkipped is set when no reader exists for the file format.
	ChannelsSkipped bool
	Findings        []Finding
}

// OK reports whether the file passed every check.
func (r Report) OK() bool { return len(r.Findings) == 0 }

// Summary renders the findings one per line.
func (r Report) Summary() string {
	lines := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		lines = append(lines, f.String())
	}
	return strings.Join(lines, "\n")
}

// StuckRun reports whether values contains at least runLength consecutive
// zero deltas between successive samples.
func StuckRun(values []float64, runLength int) bool {
	if runLength <= 0 || len(values) < runLength+1 {
		return false
	}
	deltas := make([]float64, len(values)-1)
	floats.SubTo(deltas, values[1:], values[:len(values)-1])
	run := 0
	for _, d := range deltas {
		if d != 0 {
			run = 0
			continue
		}
		run++
		if run >= runLength {
			return true
		}
	}
	return false
}

// Checker runs the plausibility checks.
type Checker struct {
	registry  *units.Registry
	reader    samples.Reader
	runLength int
}

// NewChecker builds a checker.
func NewChecker(registry *units.Registry, reader samples.Reader, runLength int) *Checker {
	return &Checker{registry: registry, reader: reader, runLength: runLength}
}

// Check inspects the file at path owned by hostname. Findings are advisory;
// the returned error is reserved for failures to inspect the file at all.
func (c *Checker) Check(hostname, path string) (Report, error) {
	report := Report{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return report, fmt.Errorf("stat %s: %w", path, err)
	}
	report.Size = info.Size()

	channels, err := c.reader.Channels(path)
	switch {
	case isUnsupported(err):
		report.ChannelsSkipped = true
	case err != nil:
		return report, fmt.Errorf("read channels: %w", err)
	default:
		report.ChannelsChecked = len(channels)
		var stuck []string
		for _, ch := range channels {
			if StuckRun(ch.Values, c.runLength) {
				stuck = append(stuck, ch.Name)
			}
		}
		if len(stuck) > 0 {
			report.Findings = append(report.Findings, Finding{
				Kind:   FindingStuckChannel,
				Detail: "faulty values detected: " + strings.Join(stuck, ", "),
			})
		}
	}

	unit, ok := c.registry.Lookup(hostname)
	if !ok {
		report.Findings = append(report.Findings, Finding{
			Kind:   FindingUnknownUnit,
			Detail: fmt.Sprintf("unit %q is not in the registry; size bounds unknown", hostname),
		})
		return report, nil
	}
	report.Findings = append(report.Findings, CheckSize(unit, report.Size)...)
	return report, nil
}

// CheckSize compares size against the unit's expected bounds.
func CheckSize(unit units.Unit, size int64) []Finding {
	switch {
	case size < unit.MinFileSize:
		return []Finding{{
			Kind:   FindingTooSmall,
			Detail: fmt.Sprintf("file seems too small: %s (expected at least %s)", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(unit.MinFileSize))),
		}}
	case unit.MaxFileSize > 0 && size > unit.MaxFileSize:
		return []Finding{{
			Kind:   FindingTooLarge,
			Detail: fmt.Sprintf("file seems too large: %s (expected at most %s)", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(unit.MaxFileSize))),
		}}
	}
	return nil
}
