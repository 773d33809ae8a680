package kv_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/leafsii/cachekit/pkg/kv"

	// Import backends to register them
	_ "github.com/leafsii/cachekit/pkg/kv/memory"
	_ "github.com/leafsii/cachekit/pkg/kv/redis"
)

func ExampleNewStoreFromConfig_memory() {
	cfg := kv.Config{
		Backend:         kv.BackendMemory,
		JanitorInterval: 30 * time.Second,
	}

	store, err := kv.NewStoreFromConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	if err := store.Set(ctx, "user:123", "john", 0); err != nil {
		log.Fatal(err)
	}

	value, err := store.Get(ctx, "user:123")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(value)
	// Output: john
}

func ExampleNewStoreFromConfig_redis() {
	cfg := kv.Config{
		Backend: kv.BackendRedis,
		Redis: kv.RedisConfig{
			URL:             "redis://localhost:6379/0",
			PoolSize:        16,
			PoolWaitTimeout: time.Second,
			OpTimeout:       500 * time.Millisecond,
		},
		// Serve from memory while Redis is down and switch back once it answers
		FailoverEnabled: true,
		ProbeInterval:   5 * time.Second,
	}

	store, err := kv.NewStoreFromConfig(cfg)
	if err != nil {
		log.Printf("redis unavailable: %v", err)
		return
	}
	defer store.Close()

	_ = store.Set(context.Background(), "session:abc", "alive", 30*time.Minute)
}

func ExampleSortedSetStore() {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	_, err = store.SortedSetAdd(ctx, "leaderboard", map[string]float64{
		"alice": 42,
		"bob":   17,
		"carol": 99,
	}, 0)
	if err != nil {
		log.Fatal(err)
	}

	top, _ := store.SortedSetRange(ctx, "leaderboard", -2, -1)
	fmt.Println(top)
	// Output: [alice carol]
}

func ExampleBatchWriter() {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	err = store.BatchSet(ctx, []kv.Entry{
		{Key: "price:btc", Value: "64000"},
		{Key: "price:eth", Value: "3100"},
	})
	if err != nil {
		log.Fatal(err)
	}

	eth, _ := store.Get(ctx, "price:eth")
	fmt.Println(eth)
	// Output: 3100
}

func ExampleIsNotFound() {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_, err = store.Get(context.Background(), "missing")
	switch {
	case kv.IsNotFound(err):
		fmt.Println("miss")
	case errors.Is(err, kv.ErrConnectionUnavailable):
		fmt.Println("store down")
	case err != nil:
		fmt.Println("failed:", err)
	}
	// Output: miss
}

func ExampleObjectCache() {
	type profile struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	profiles := kv.NewObjectCache[profile](store, "profile", time.Hour)

	if err := profiles.Put(ctx, "42", profile{Name: "alice", Score: 7}); err != nil {
		log.Fatal(err)
	}

	p, err := profiles.Get(ctx, "42")
	if err != nil {
		log.Fatal(err)
	}
	raw, _ := store.Get(ctx, profiles.Key("42"))

	fmt.Println(p.Name, p.Score)
	fmt.Println(raw)
	// Output:
	// alice 7
	// {"name":"alice","score":7}
}
