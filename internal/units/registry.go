// Package units holds the immutable registry of acquisition units the
// pipeline pulls from.
package units

import (
	"fmt"
	"slices"
	"time"

	"daqpull/internal/config"
)

const mib = 1024 * 1024

// Unit is one acquisition unit. Values are fixed at startup.
type Unit struct {
	Hostname             string
	Address              string
	User                 string
	BandwidthBytesPerSec int64
	// Timeout is the inactivity window after which the unit counts as inactive.
	Timeout         time.Duration
	RecordingLength time.Duration
	MinFileSize     int64
	MaxFileSize     int64
}

// Remote returns the rsync source spec for root on this unit.
func (u Unit) Remote(root string) string {
	return fmt.Sprintf("%s@%s:%s/", u.User, u.Address, root)
}

// BandwidthKiB returns the transfer cap in rsync's KiB/s unit, rounded up.
func (u Unit) BandwidthKiB() int64 {
	if u.BandwidthBytesPerSec <= 0 {
		return 0
	}
	kib := (u.BandwidthBytesPerSec + 1023) / 1024
	if kib < 1 {
		kib = 1
	}
	return kib
}

// Registry is the read-only set of known units, ordered as configured.
type Registry struct {
	ordered []Unit
	byHost  map[string]Unit
}

// New builds a registry. Hostnames must be unique.
func New(list []Unit) (*Registry, error) {
	r := &Registry{
		ordered: make([]Unit, 0, len(list)),
		byHost:  make(map[string]Unit, len(list)),
	}
	for _, u := range list {
		if u.Hostname == "" {
			return nil, fmt.Errorf("unit without hostname")
		}
		if _, dup := r.byHost[u.Hostname]; dup {
			return nil, fmt.Errorf("duplicate unit %q", u.Hostname)
		}
		r.byHost[u.Hostname] = u
		r.ordered = append(r.ordered, u)
	}
	return r, nil
}

// FromConfig converts the configured fleet table.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	list := make([]Unit, 0, len(cfg.Units))
	for _, u := range cfg.Units {
		list = append(list, Unit{
			Hostname:             u.Hostname,
			Address:              u.Address,
			User:                 u.User,
			BandwidthBytesPerSec: u.BandwidthBytesPerSec,
			Timeout:              minutes(u.TimeoutMinutes),
			RecordingLength:      minutes(u.RecordingMinutes),
			MinFileSize:          int64(u.MinFileSizeMiB * mib),
			MaxFileSize:          int64(u.MaxFileSizeMiB * mib),
		})
	}
	return New(list)
}

func minutes(value float64) time.Duration {
	return time.Duration(value * float64(time.Minute))
}

// Lookup returns the unit with the given hostname.
func (r *Registry) Lookup(hostname string) (Unit, bool) {
	if r == nil {
		return Unit{}, false
	}
	u, ok := r.byHost[hostname]
	return u, ok
}

// All returns a copy of every unit in configuration order.
func (r *Registry) All() []Unit {
	if r == nil {
		return nil
	}
	return slices.Clone(r.ordered)
}

// Hostnames returns every hostname in configuration order.
func (r *Registry) Hostnames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.ordered))
	for _, u := range r.ordered {
		names = append(names, u.Hostname)
	}
	return names
}

// Len reports the number of units.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}
