package kv

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")

	// ErrConnectionUnavailable is returned when no connection to the store could be
	// obtained: the pool is exhausted or closed, or the store is unreachable
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrPoolExhausted is returned when every pooled connection stayed busy past
	// the wait timeout. The store is reachable, so it is not an outage.
	ErrPoolExhausted = fmt.Errorf("pool exhausted: %w", ErrConnectionUnavailable)

	// ErrOperationFailed is returned when the store rejected a command or the
	// command did not complete in time
	ErrOperationFailed = errors.New("operation failed")

	// ErrMalformedArgument is returned for invalid keys, values or expirations
	ErrMalformedArgument = errors.New("malformed argument")
)

// OpError describes a failed facade call
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kv %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kv %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps cause with kind so that errors.Is matches both
func NewOpError(op, key string, kind, cause error) error {
	switch {
	case cause == nil:
		return &OpError{Op: op, Key: key, Err: kind}
	case errors.Is(cause, kind):
		return &OpError{Op: op, Key: key, Err: cause}
	default:
		return &OpError{Op: op, Key: key, Err: fmt.Errorf("%w: %w", kind, cause)}
	}
}

// IsNotFound reports whether err means the key is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidateKey rejects empty keys
func ValidateKey(op, key string) error {
	if key == "" {
		return NewOpError(op, key, ErrMalformedArgument, errors.New("empty key"))
	}
	return nil
}

// ValidateWrite rejects empty keys and negative expirations
func ValidateWrite(op, key string, ttl time.Duration) error {
	if err := ValidateKey(op, key); err != nil {
		return err
	}
	if ttl < 0 {
		return NewOpError(op, key, ErrMalformedArgument, fmt.Errorf("negative expiration %s", ttl))
	}
	return nil
}

// ValidateBatch rejects batches containing empty keys
func ValidateBatch(op string, entries []Entry) error {
	for i, e := range entries {
		if e.Key == "" {
			return NewOpError(op, "", ErrMalformedArgument, fmt.Errorf("entry %d has an empty key", i))
		}
	}
	return nil
}

// maxSeconds is the largest whole-second expiration a time.Duration holds
const maxSeconds = math.MaxInt64 / int64(time.Second)

// Seconds converts a whole number of seconds into an expiration. Negative
// values and values past the range of time.Duration are malformed.
func Seconds(op, key string, n int) (time.Duration, error) {
	if n < 0 {
		return 0, NewOpError(op, key, ErrMalformedArgument, fmt.Errorf("negative expiration %ds", n))
	}
	if int64(n) > maxSeconds {
		return 0, NewOpError(op, key, ErrMalformedArgument, fmt.Errorf("expiration %ds out of range", n))
	}
	return time.Duration(n) * time.Second, nil
}
