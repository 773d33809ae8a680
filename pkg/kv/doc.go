// Package kv provides a typed cache facade over a Redis-compatible store,
// with an in-memory implementation used for tests and failover.
//
// The Store interface is composed of one interface per value shape:
// strings, hashes, lists, sets and sorted sets, plus key operations and
// batched string writes. Composite writes replace the whole value; they
// never merge into what was there before.
//
// Example usage:
//
//	store, err := kv.NewStoreFromConfig(kv.Config{
//		Backend: kv.BackendRedis,
//		Redis:   kv.RedisConfig{URL: "redis://localhost:6379/0", PoolSize: 16},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Set(ctx, "key", "value", 10*time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	value, err := store.Get(ctx, "key")
//	switch {
//	case kv.IsNotFound(err):
//		log.Println("Key not found")
//	case err != nil:
//		log.Fatal(err)
//	}
//
// Errors returned by stores are *OpError values wrapping one of ErrNotFound,
// ErrConnectionUnavailable, ErrOperationFailed or ErrMalformedArgument, so
// callers can tell a missing key from a failure with errors.Is.
//
// Backends register themselves on import: pkg/kv/memory and pkg/kv/redis.
package kv
