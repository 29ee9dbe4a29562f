package services

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	unitKey          contextKey = "unit"
	stageKey         contextKey = "stage"
	correlationIDKey contextKey = "correlation_id"
)

// WithUnit annotates context with the acquisition unit hostname.
func WithUnit(ctx context.Context, hostname string) context.Context {
	if hostname == "" {
		return ctx
	}
	return context.WithValue(ctx, unitKey, hostname)
}

// UnitFromContext returns the unit hostname if present.
func UnitFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(unitKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithCorrelationID annotates context with the identifier that follows one file
// through every stage.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// NewCorrelationID returns a fresh random identifier.
func NewCorrelationID() string {
	return uuid.NewString()
}
