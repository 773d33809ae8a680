package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/match"

	"github.com/leafsii/cachekit/pkg/kv"
)

type kind int

const (
	kindString kind = iota
	kindHash
	kindList
	kindSet
	kindSortedSet
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindHash:
		return "hash"
	case kindList:
		return "list"
	case kindSet:
		return "set"
	default:
		return "zset"
	}
}

// item is one stored value of any shape
type item struct {
	kind      kind
	str       string
	hash      map[string]string
	list      []string
	set       map[string]struct{}
	zset      map[string]float64
	expiresAt time.Time // zero means no expiration
}

var errWrongType = errors.New("WRONGTYPE operation against a key holding the wrong kind of value")

var errClosed = errors.New("store closed")

// Store is an in-memory implementation of the kv.Store interface
type Store struct {
	mu     sync.RWMutex
	items  map[string]*item
	now    func() time.Time
	closed bool

	janitorInterval time.Duration
	janitorStop     chan struct{}
	janitorDone     chan struct{}
	closeOnce       sync.Once
}

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Scanner = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now, mainly so tests can move time forward
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store with optional janitor for TTL cleanup
func New(janitorInterval time.Duration, opts ...Option) *Store {
	s := &Store{
		items:           make(map[string]*item),
		now:             time.Now,
		janitorInterval: janitorInterval,
		janitorStop:     make(chan struct{}),
		janitorDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if janitorInterval > 0 {
		go s.janitor()
	} else {
		close(s.janitorDone)
	}

	return s
}

// janitor runs background expiration cleanup
func (s *Store) janitor() {
	defer close(s.janitorDone)
	ticker := time.NewTicker(s.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.janitorStop:
			return
		}
	}
}

// evictExpired removes all expired keys
func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, it := range s.items {
		if it.expired(now) {
			delete(s.items, key)
		}
	}
}

func (it *item) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && !now.Before(it.expiresAt)
}

// lookup returns the live item for key (must hold a lock). Expired items are
// treated as absent and left for the janitor or the next write.
func (s *Store) lookup(key string) (*item, bool) {
	it, ok := s.items[key]
	if !ok || it.expired(s.now()) {
		return nil, false
	}
	return it, true
}

// read fetches key under the read lock and checks its shape
func (s *Store) read(op, key string, want kind) (*item, error) {
	if err := kv.ValidateKey(op, key); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, kv.NewOpError(op, key, kv.ErrConnectionUnavailable, errClosed)
	}
	it, ok := s.lookup(key)
	if !ok {
		return nil, kv.NewOpError(op, key, kv.ErrNotFound, nil)
	}
	if it.kind != want {
		return nil, kv.NewOpError(op, key, kv.ErrOperationFailed,
			fmt.Errorf("%w: have %s, want %s", errWrongType, it.kind, want))
	}
	return it, nil
}

// write replaces key with it (must hold write lock). A nil item deletes the key.
func (s *Store) write(key string, it *item, ttl time.Duration) {
	if it == nil {
		delete(s.items, key)
		return
	}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = it
}

func (s *Store) beginWrite(op, key string, ttl time.Duration) error {
	if err := kv.ValidateWrite(op, key, ttl); err != nil {
		return err
	}
	if s.closed {
		return kv.NewOpError(op, key, kv.ErrConnectionUnavailable, errClosed)
	}
	return nil
}

// String operations

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("set", key, ttl); err != nil {
		return err
	}
	s.write(key, &item{kind: kindString, str: value}, ttl)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("get", key, kindString)
	if err != nil {
		return "", err
	}
	return it.str, nil
}

// Hash operations

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("hash_set", key, ttl); err != nil {
		return err
	}
	if len(fields) == 0 {
		s.write(key, nil, 0)
		return nil
	}

	hash := make(map[string]string, len(fields))
	for f, v := range fields {
		hash[f] = v
	}
	s.write(key, &item{kind: kindHash, hash: hash}, ttl)
	return nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("hash_get_all", key, kindHash)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(it.hash))
	for f, v := range it.hash {
		result[f] = v
	}
	return result, nil
}

// List operations

func (s *Store) ListPush(ctx context.Context, key string, values []string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("list_push", key, ttl); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		s.write(key, nil, 0)
		return 0, nil
	}

	list := append([]string(nil), values...)
	s.write(key, &item{kind: kindList, list: list}, ttl)
	return int64(len(list)), nil
}

func (s *Store) ListGetAll(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("list_get_all", key, kindList)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), it.list...), nil
}

// Set operations

func (s *Store) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("set_add", key, ttl); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		s.write(key, nil, 0)
		return 0, nil
	}

	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	s.write(key, &item{kind: kindSet, set: set}, ttl)
	return int64(len(set)), nil
}

func (s *Store) SetGetAll(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("set_get_all", key, kindSet)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(it.set))
	for m := range it.set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// Sorted set operations

func (s *Store) SortedSetAdd(ctx context.Context, key string, members map[string]float64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("sorted_set_add", key, ttl); err != nil {
		return 0, err
	}
	if len(members) == 0 {
		s.write(key, nil, 0)
		return 0, nil
	}

	zset := make(map[string]float64, len(members))
	for m, score := range members {
		zset[m] = score
	}
	s.write(key, &item{kind: kindSortedSet, zset: zset}, ttl)
	return int64(len(zset)), nil
}

// ordered returns members by ascending score, ties broken by member
func (it *item) ordered() []string {
	members := make([]string, 0, len(it.zset))
	for m := range it.zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := it.zset[members[i]], it.zset[members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func (s *Store) SortedSetRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("sorted_set_range", key, kindSortedSet)
	if err != nil {
		return nil, err
	}

	members := it.ordered()
	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	return members[start : stop+1], nil
}

func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, err := s.read("sorted_set_range_by_score", key, kindSortedSet)
	if err != nil {
		return nil, err
	}

	result := []string{}
	for _, m := range it.ordered() {
		if score := it.zset[m]; score >= min && score <= max {
			result = append(result, m)
		}
	}
	return result, nil
}

// Key operations

func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.beginWrite("delete", key, 0); err != nil {
		return 0, err
	}
	_, ok := s.lookup(key)
	delete(s.items, key)
	if !ok {
		return 0, nil
	}
	return 1, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := kv.ValidateKey("exists", key); err != nil {
		return false, err
	}
	if s.closed {
		return false, kv.NewOpError("exists", key, kv.ErrConnectionUnavailable, errClosed)
	}
	_, ok := s.lookup(key)
	return ok, nil
}

// Keys returns live keys matching a Redis-style glob pattern, where * also
// spans '/' and ':'. An empty pattern matches everything.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.NewOpError("keys", pattern, kv.ErrConnectionUnavailable, errClosed)
	}

	keys := []string{}
	now := s.now()
	for key, it := range s.items {
		if it.expired(now) {
			continue
		}
		if match.Match(key, pattern) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Batch operations

func (s *Store) BatchSet(ctx context.Context, entries []kv.Entry) error {
	if err := kv.ValidateBatch("batch_set", entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.NewOpError("batch_set", "", kv.ErrConnectionUnavailable, errClosed)
	}
	for _, e := range entries {
		s.write(e.Key, &item{kind: kindString, str: e.Value}, 0)
	}
	return nil
}

// Len returns the number of live keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	now := s.now()
	for _, it := range s.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

// Health check

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return kv.NewOpError("ping", "", kv.ErrConnectionUnavailable, errClosed)
	}
	return ctx.Err()
}

// Close stops the janitor. Further calls fail with kv.ErrConnectionUnavailable.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.janitorStop)
		<-s.janitorDone

		s.mu.Lock()
		s.closed = true
		s.items = make(map[string]*item)
		s.mu.Unlock()
	})
	return nil
}
