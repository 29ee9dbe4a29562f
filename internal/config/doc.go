// Package config loads, normalizes, and validates daqpull configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SSH_KEY_PATH. The Config type centralizes every knob the daemon and CLI
// need, including the fleet table of acquisition units that the unit
// registry is built from.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, expanded unit groups, and clear validation errors.
package config
