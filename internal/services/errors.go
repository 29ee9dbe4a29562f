package services

import (
	"errors"
	"fmt"
	"strings"
)

// Failure classes. Wrap tags an error with one of them so callers can decide
// between retrying on the next cycle and asking an operator for help.
var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

var kinds = []struct {
	marker error
	name   string
}{
	{ErrConfiguration, "configuration"},
	{ErrValidation, "validation"},
	{ErrTimeout, "timeout"},
	{ErrTransient, "transient"},
	{ErrExternalTool, "external_tool"},
}

// Wrap returns "<marker>: stage: operation: message[: err]". Empty parts
// are dropped and a nil marker means ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	var parts []string
	for _, p := range []string{stage, operation, message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = "service failure"
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// Retryable reports whether err may clear up on its own. Validation and
// configuration failures need a person.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrValidation) && !errors.Is(err, ErrConfiguration)
}

// Kind names the failure class of err for metrics labels; "other" when untagged.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.name
		}
	}
	return "other"
}
