package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewOpError("get", "user:1", ErrConnectionUnavailable, cause)

	assert.ErrorIs(t, err, ErrConnectionUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, `kv get "user:1": connection unavailable: dial tcp: connection refused`, err.Error())

	var opErr *OpError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)
	assert.Equal(t, "user:1", opErr.Key)
}

func TestNewOpError_KindOnly(t *testing.T) {
	err := NewOpError("batch_set", "", ErrNotFound, nil)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "kv batch_set: not found", err.Error())
}

func TestNewOpError_CauseAlreadyClassified(t *testing.T) {
	cause := errors.Join(ErrConnectionUnavailable, errors.New("pool exhausted"))
	err := NewOpError("set", "k", ErrConnectionUnavailable, cause)
	assert.Equal(t, `kv set "k": `+cause.Error(), err.Error())
}

func TestNewOpError_KeepsContextErrors(t *testing.T) {
	err := NewOpError("set", "k", ErrOperationFailed, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ValidateKey("get", "k"))
	assert.ErrorIs(t, ValidateKey("get", ""), ErrMalformedArgument)

	assert.NoError(t, ValidateWrite("set", "k", 0))
	assert.NoError(t, ValidateWrite("set", "k", time.Second))
	assert.ErrorIs(t, ValidateWrite("set", "k", -time.Second), ErrMalformedArgument)
	assert.ErrorIs(t, ValidateWrite("set", "", time.Second), ErrMalformedArgument)

	assert.NoError(t, ValidateBatch("batch_set", nil))
	assert.NoError(t, ValidateBatch("batch_set", []Entry{{Key: "a", Value: ""}}))
	assert.ErrorIs(t, ValidateBatch("batch_set", []Entry{{Key: "a"}, {Key: ""}}), ErrMalformedArgument)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{NewOpError("get", "k", ErrNotFound, nil), OutcomeNotFound},
		{NewOpError("get", "k", ErrConnectionUnavailable, nil), OutcomeUnavailable},
		{NewOpError("get", "", ErrMalformedArgument, nil), OutcomeMalformed},
		{NewOpError("get", "k", ErrOperationFailed, nil), OutcomeFailed},
		{errors.New("anything else"), OutcomeFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestEntriesFromMap(t *testing.T) {
	entries := EntriesFromMap(map[string]string{"a": "1", "b": "2"})
	assert.ElementsMatch(t, []Entry{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, entries)
}

func TestSeconds(t *testing.T) {
	ttl, err := Seconds("set", "k", 90)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)

	ttl, err = Seconds("set", "k", 0)
	require.NoError(t, err)
	assert.Zero(t, ttl)

	ttl, err = Seconds("set", "k", int(maxSeconds))
	require.NoError(t, err)
	assert.Positive(t, ttl)

	for _, n := range []int{-1, int(maxSeconds) + 1, 18446744074} {
		_, err := Seconds("set", "k", n)
		assert.ErrorIs(t, err, ErrMalformedArgument, "n=%d", n)

		var opErr *OpError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "set", opErr.Op)
	}
}
