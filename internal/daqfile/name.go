// Package daqfile parses and formats acquisition file names of the form
//
//	<name>-<yyyy>-<mm>-<dd>T<HH>-<MM>-<SS>.<micro><+-hhmm>-<seq>.<ext>
//
// for example medal-3-2016-06-04T22-24-42.411571+0200-0000001.hdf5.
package daqfile

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidName reports a file name that does not follow the acquisition naming scheme.
var ErrInvalidName = errors.New("invalid acquisition file name")

const stampLayout = "2006-01-02T15-04-05.000000-0700"

var namePattern = regexp.MustCompile(`^(.+)-(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{6}[+-]\d{4})-(\d+)(\.[A-Za-z0-9]+)$`)

// Name is a parsed acquisition file name.
type Name struct {
	Unit      string
	StartedAt time.Time
	Sequence  int64
	// SequenceWidth preserves zero padding so String round-trips.
	SequenceWidth int
	Ext           string
}

// Parse strictly parses the base name of p.
func Parse(p string) (Name, error) {
	base := path.Base(p)
	m := namePattern.FindStringSubmatch(base)
	if m == nil {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, base)
	}
	started, err := time.Parse(stampLayout, m[2])
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q: bad timestamp: %v", ErrInvalidName, base, err)
	}
	seq, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q: bad sequence: %v", ErrInvalidName, base, err)
	}
	return Name{
		Unit:          m[1],
		StartedAt:     started,
		Sequence:      seq,
		SequenceWidth: len(m[3]),
		Ext:           m[4],
	}, nil
}

// String formats the name back into its wire form.
func (n Name) String() string {
	width := n.SequenceWidth
	if width <= 0 {
		width = 7
	}
	return fmt.Sprintf("%s-%s-%0*d%s", n.Unit, n.StartedAt.Format(stampLayout), width, n.Sequence, n.Ext)
}

// DatePath returns the yyyy/mm/dd partition the file belongs to, in the
// file's own recorded offset.
func (n Name) DatePath() string {
	return path.Join(
		fmt.Sprintf("%04d", n.StartedAt.Year()),
		fmt.Sprintf("%02d", int(n.StartedAt.Month())),
		fmt.Sprintf("%02d", n.StartedAt.Day()),
	)
}
