/*
 * Copyright 2026 The Tiercache Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tiercache

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	numShards uint64 = 256

	// scanInterval is the period of the expiration scanner; the first
	// tick is jittered into [scanJitterMin, scanInterval) so handles
	// constructed together don't sweep together.
	scanInterval  = 5 * time.Second
	scanJitterMin = 1 * time.Second
)

type memoryShard[K comparable, V any] struct {
	sync.RWMutex
	data map[K]*CacheItem[K, V]
}

// MemoryHandle is the reference in-memory handle: a sharded concurrent
// map with a background expiration scanner. It evicts only on expiry.
type MemoryHandle[K comparable, V any] struct {
	cfg      HandleConfig
	log      zerolog.Logger
	stats    *Stats
	shards   []*memoryShard[K, V]
	updateMu sync.Mutex

	cbMu sync.RWMutex
	cbs  []RemoveCallback[K, V]

	scanning int32
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	closed   int32
}

// NewMemoryHandle returns a started handle; its expiration scanner
// runs until Close.
func NewMemoryHandle[K comparable, V any](cfg HandleConfig, logger zerolog.Logger) (*MemoryHandle[K, V], error) {
	return newMemoryHandle[K, V](cfg, logger, scanInterval)
}

func newMemoryHandle[K comparable, V any](
	cfg HandleConfig, logger zerolog.Logger, interval time.Duration,
) (*MemoryHandle[K, V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	h := &MemoryHandle[K, V]{
		cfg:      cfg,
		log:      logger.With().Str("handle", cfg.Name).Logger(),
		stats:    NewStats(cfg.EnableStatistics),
		shards:   make([]*memoryShard[K, V], numShards),
		interval: interval,
		stop:     make(chan struct{}),
	}
	for i := range h.shards {
		h.shards[i] = &memoryShard[K, V]{data: make(map[K]*CacheItem[K, V])}
	}
	jitterSpan := int64(interval - min(scanJitterMin, interval/2))
	firstDelay := min(scanJitterMin, interval/2)
	if jitterSpan > 0 {
		firstDelay += time.Duration(rand.Int63n(jitterSpan))
	}
	go h.scanLoop(firstDelay)
	return h, nil
}

func (h *MemoryHandle[K, V]) shard(key K) *memoryShard[K, V] {
	hash, _ := keyToHash(key)
	return h.shards[hash%numShards]
}

func (h *MemoryHandle[K, V]) isClosed() bool {
	return atomic.LoadInt32(&h.closed) == 1
}

// Add stores the item only if the key is absent or held by an expired
// entry.
func (h *MemoryHandle[K, V]) Add(item *CacheItem[K, V]) (bool, error) {
	if h.isClosed() {
		return false, errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	item, err := resolveExpiration(item, h.cfg)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	s := h.shard(item.Key())

	var expired *CacheItem[K, V]
	s.Lock()
	cur, ok := s.data[item.Key()]
	if ok && !cur.isExpiredAt(now) {
		s.Unlock()
		h.stats.OnAdd(false)
		return false, nil
	}
	if ok {
		expired = cur
	}
	s.data[item.Key()] = item
	s.Unlock()

	if expired != nil {
		h.stats.OnEvict()
		h.fireRemove(expired.Key(), RemoveExpired, expired.Value(), true)
	}
	h.stats.OnAdd(true)
	return true, nil
}

// Get returns the current entry or nil. An expired entry is dropped,
// reported through the remove callback, and counted as a miss.
func (h *MemoryHandle[K, V]) Get(key K) (*CacheItem[K, V], error) {
	if h.isClosed() {
		return nil, errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	s := h.shard(key)
	s.RLock()
	item, ok := s.data[key]
	s.RUnlock()
	if !ok {
		h.stats.OnGet(false)
		return nil, nil
	}
	if item.IsExpired() {
		h.dropExpired(key, item)
		h.stats.OnGet(false)
		return nil, nil
	}
	item.Touch()
	h.stats.OnGet(true)
	return item, nil
}

// dropExpired deletes the entry only if it is still the one observed,
// so a racing scanner and reader produce a single remove event.
func (h *MemoryHandle[K, V]) dropExpired(key K, item *CacheItem[K, V]) {
	s := h.shard(key)
	s.Lock()
	cur, ok := s.data[key]
	if !ok || cur != item {
		s.Unlock()
		return
	}
	delete(s.data, key)
	s.Unlock()
	h.stats.OnEvict()
	h.fireRemove(key, RemoveExpired, item.Value(), true)
}

// Put stores the item unconditionally.
func (h *MemoryHandle[K, V]) Put(item *CacheItem[K, V]) error {
	if h.isClosed() {
		return errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	item, err := resolveExpiration(item, h.cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	s := h.shard(item.Key())
	s.Lock()
	cur, ok := s.data[item.Key()]
	insert := !ok || cur.isExpiredAt(now)
	s.data[item.Key()] = item
	s.Unlock()
	h.stats.OnPut(insert)
	return nil
}

// Remove deletes the key if present.
func (h *MemoryHandle[K, V]) Remove(key K) (bool, error) {
	if h.isClosed() {
		return false, errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	s := h.shard(key)
	s.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	s.Unlock()
	h.stats.OnRemove(ok)
	return ok, nil
}

// Clear drops all entries.
func (h *MemoryHandle[K, V]) Clear() error {
	if h.isClosed() {
		return errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	for _, s := range h.shards {
		s.Lock()
		s.data = make(map[K]*CacheItem[K, V])
		s.Unlock()
	}
	h.stats.OnClear()
	return nil
}

// Exists reports presence of a live entry without touching it.
func (h *MemoryHandle[K, V]) Exists(key K) (bool, error) {
	if h.isClosed() {
		return false, errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	s := h.shard(key)
	s.RLock()
	item, ok := s.data[key]
	s.RUnlock()
	return ok && !item.IsExpired(), nil
}

// Count returns the number of stored entries, expired or not; the
// scanner keeps the difference small.
func (h *MemoryHandle[K, V]) Count() int {
	n := 0
	for _, s := range h.shards {
		s.RLock()
		n += len(s.data)
		s.RUnlock()
	}
	return n
}

// Update serialises read-modify-write through a single per-handle
// lock, so it always completes in one try.
func (h *MemoryHandle[K, V]) Update(
	key K, factory UpdateFunc[V], maxRetries int,
) (*UpdateResult[K, V], error) {
	if h.isClosed() {
		return nil, errors.Wrapf(ErrDisposed, "handle %q", h.cfg.Name)
	}
	if maxRetries < 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "maxRetries must not be negative")
	}
	h.updateMu.Lock()
	defer h.updateMu.Unlock()

	s := h.shard(key)
	s.RLock()
	cur, ok := s.data[key]
	s.RUnlock()
	if !ok || cur.IsExpired() {
		return &UpdateResult[K, V]{Outcome: UpdateItemDidNotExist, Tries: 1}, nil
	}

	next, produced := factory(cur.Value())
	if !produced {
		return &UpdateResult[K, V]{Outcome: UpdateFactoryReturnedNil, Tries: 1}, nil
	}
	updated, err := cur.WithValue(next)
	if err != nil {
		return nil, err
	}
	s.Lock()
	s.data[key] = updated
	s.Unlock()
	h.stats.OnUpdate(1)
	return &UpdateResult[K, V]{Outcome: UpdateSuccess, Item: updated, Tries: 1}, nil
}

func (h *MemoryHandle[K, V]) Stats() *Stats        { return h.stats }
func (h *MemoryHandle[K, V]) Config() HandleConfig { return h.cfg }
func (h *MemoryHandle[K, V]) IsDistributed() bool  { return false }

// OnRemove registers an observer for expiration-driven removals.
func (h *MemoryHandle[K, V]) OnRemove(cb RemoveCallback[K, V]) {
	h.cbMu.Lock()
	h.cbs = append(h.cbs, cb)
	h.cbMu.Unlock()
}

func (h *MemoryHandle[K, V]) fireRemove(key K, reason RemoveReason, value V, hasValue bool) {
	h.cbMu.RLock()
	cbs := make([]RemoveCallback[K, V], len(h.cbs))
	copy(cbs, h.cbs)
	h.cbMu.RUnlock()
	args := HandleRemoveArgs[K, V]{Key: key, Reason: reason, Level: 1, Value: value, HasValue: hasValue}
	for _, cb := range cbs {
		cb(args)
	}
}

// Close cancels the scanner and marks the handle disposed.
func (h *MemoryHandle[K, V]) Close() error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return nil
	}
	h.stopOnce.Do(func() { close(h.stop) })
	return nil
}

func (h *MemoryHandle[K, V]) scanLoop(firstDelay time.Duration) {
	timer := time.NewTimer(firstDelay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			h.scan()
			timer.Reset(h.interval)
		case <-h.stop:
			return
		}
	}
}

// scan sweeps every shard once, dropping entries expired at the
// captured now. Overlapping runs are suppressed; a panicking sweep is
// logged and the running flag released.
func (h *MemoryHandle[K, V]) scan() {
	if !atomic.CompareAndSwapInt32(&h.scanning, 0, 1) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("expiration scan failed")
		}
		atomic.StoreInt32(&h.scanning, 0)
	}()

	now := time.Now().UTC()
	for _, s := range h.shards {
		var dropped []*CacheItem[K, V]
		s.Lock()
		for key, item := range s.data {
			if item.isExpiredAt(now) {
				delete(s.data, key)
				dropped = append(dropped, item)
			}
		}
		s.Unlock()
		for _, item := range dropped {
			h.stats.OnEvict()
			h.fireRemove(item.Key(), RemoveExpired, item.Value(), true)
		}
	}
}
