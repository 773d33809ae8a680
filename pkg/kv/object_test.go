package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/cachekit/pkg/kv"
	"github.com/leafsii/cachekit/pkg/kv/memory"
)

type user struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func TestObjectCache_PutGet(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	users := kv.NewObjectCache[user](store, "user", time.Minute)
	ctx := context.Background()

	want := user{ID: 7, Name: "alice", Roles: []string{"admin"}}
	require.NoError(t, users.Put(ctx, "7", want))

	raw, err := store.Get(ctx, "user:7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"name":"alice","roles":["admin"]}`, raw)

	got, err := users.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, users.Delete(ctx, "7"))
	_, err = users.Get(ctx, "7")
	assert.True(t, kv.IsNotFound(err))
}

func TestObjectCache_DecodeFailure(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "user:1", "not json", 0))

	users := kv.NewObjectCache[user](store, "user", 0)
	_, err := users.Get(ctx, "1")
	assert.ErrorIs(t, err, kv.ErrOperationFailed)
	assert.False(t, kv.IsNotFound(err))
}

func TestObjectCache_EncodeFailure(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	funcs := kv.NewObjectCache[func()](store, "", 0)
	err := funcs.Put(context.Background(), "f", func() {})
	assert.ErrorIs(t, err, kv.ErrMalformedArgument)
	assert.Equal(t, "f", funcs.Key("f"))
}
