package kv

import (
	"context"
	"errors"
	"time"
)

// Recorder receives per-operation telemetry from store implementations
type Recorder interface {
	RecordOperation(ctx context.Context, op string, outcome string, duration time.Duration)
	RecordLookup(ctx context.Context, op string, hit bool)
}

// Outcome labels
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
	OutcomeMalformed   = "malformed"
)

// Outcome classifies err into a metric label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConnectionUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, ErrMalformedArgument):
		return OutcomeMalformed
	default:
		return OutcomeFailed
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordLookup(context.Context, string, bool)                     {}

// NopRecorder discards all telemetry
var NopRecorder Recorder = nopRecorder{}
