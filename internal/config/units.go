package config

import (
	"fmt"
	"net/netip"
	"strings"
)

// Unit describes one acquisition unit in the fleet table.
type Unit struct {
	Hostname             string  `toml:"hostname"`
	Address              string  `toml:"address"`
	User                 string  `toml:"user"`
	BandwidthBytesPerSec int64   `toml:"bandwidth_bytes_per_sec"`
	TimeoutMinutes       float64 `toml:"timeout_minutes"`
	RecordingMinutes     float64 `toml:"recording_minutes"`
	MinFileSizeMiB       float64 `toml:"min_file_size_mib"`
	MaxFileSizeMiB       float64 `toml:"max_file_size_mib"`
}

// UnitGroup expands into Count numbered units sharing the same settings.
// Members are named <prefix>-1 .. <prefix>-<count>; the first member is
// addressed at AddressBase and each following member at the next address.
type UnitGroup struct {
	Prefix               string  `toml:"prefix"`
	Count                int     `toml:"count"`
	AddressBase          string  `toml:"address_base"`
	User                 string  `toml:"user"`
	BandwidthBytesPerSec int64   `toml:"bandwidth_bytes_per_sec"`
	TimeoutMinutes       float64 `toml:"timeout_minutes"`
	RecordingMinutes     float64 `toml:"recording_minutes"`
	MinFileSizeMiB       float64 `toml:"min_file_size_mib"`
	MaxFileSizeMiB       float64 `toml:"max_file_size_mib"`
}

// Expand returns the units described by the group.
func (g UnitGroup) Expand() ([]Unit, error) {
	prefix := strings.TrimSpace(g.Prefix)
	if prefix == "" {
		return nil, fmt.Errorf("unit_groups.prefix must be set")
	}
	if g.Count <= 0 {
		return nil, fmt.Errorf("unit_groups[%s].count must be positive", prefix)
	}
	base, err := netip.ParseAddr(strings.TrimSpace(g.AddressBase))
	if err != nil {
		return nil, fmt.Errorf("unit_groups[%s].address_base: %w", prefix, err)
	}
	units := make([]Unit, 0, g.Count)
	addr := base
	for i := 1; i <= g.Count; i++ {
		if i > 1 {
			addr = addr.Next()
		}
		if !addr.IsValid() {
			return nil, fmt.Errorf("unit_groups[%s]: address range overflows after %s", prefix, base)
		}
		units = append(units, Unit{
			Hostname:             fmt.Sprintf("%s-%d", prefix, i),
			Address:              addr.String(),
			User:                 g.User,
			BandwidthBytesPerSec: g.BandwidthBytesPerSec,
			TimeoutMinutes:       g.TimeoutMinutes,
			RecordingMinutes:     g.RecordingMinutes,
			MinFileSizeMiB:       g.MinFileSizeMiB,
			MaxFileSizeMiB:       g.MaxFileSizeMiB,
		})
	}
	return units, nil
}

// expandUnitGroups folds every group into Units, after the explicitly listed units.
func (c *Config) expandUnitGroups() error {
	for _, group := range c.UnitGroups {
		expanded, err := group.Expand()
		if err != nil {
			return err
		}
		c.Units = append(c.Units, expanded...)
	}
	c.UnitGroups = nil
	return nil
}

func (c *Config) normalizeUnits() error {
	if err := c.expandUnitGroups(); err != nil {
		return err
	}
	for i := range c.Units {
		u := &c.Units[i]
		u.Hostname = strings.TrimSpace(u.Hostname)
		u.Address = strings.TrimSpace(u.Address)
		u.User = strings.TrimSpace(u.User)
	}
	return nil
}

func (c *Config) validateUnits() error {
	if len(c.Units) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("units must list at least one acquisition unit; edit %s (create with 'daqpull config init')", defaultPath)
	}
	seen := make(map[string]struct{}, len(c.Units))
	for _, u := range c.Units {
		if u.Hostname == "" {
			return fmt.Errorf("units.hostname must be set")
		}
		if strings.ContainsAny(u.Hostname, "/\\ ") {
			return fmt.Errorf("units[%s].hostname must not contain path separators or spaces", u.Hostname)
		}
		if _, dup := seen[u.Hostname]; dup {
			return fmt.Errorf("units[%s] is listed more than once", u.Hostname)
		}
		seen[u.Hostname] = struct{}{}
		if u.Address == "" {
			return fmt.Errorf("units[%s].address must be set", u.Hostname)
		}
		if u.User == "" {
			return fmt.Errorf("units[%s].user must be set", u.Hostname)
		}
		if u.BandwidthBytesPerSec <= 0 {
			return fmt.Errorf("units[%s].bandwidth_bytes_per_sec must be positive", u.Hostname)
		}
		if u.TimeoutMinutes <= 0 {
			return fmt.Errorf("units[%s].timeout_minutes must be positive", u.Hostname)
		}
		if u.RecordingMinutes <= 0 {
			return fmt.Errorf("units[%s].recording_minutes must be positive", u.Hostname)
		}
		if u.MinFileSizeMiB < 0 {
			return fmt.Errorf("units[%s].min_file_size_mib must be >= 0", u.Hostname)
		}
		if u.MaxFileSizeMiB <= 0 || u.MaxFileSizeMiB < u.MinFileSizeMiB {
			return fmt.Errorf("units[%s].max_file_size_mib must be positive and >= min_file_size_mib", u.Hostname)
		}
	}
	return nil
}
