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

// Package tiercache coordinates an ordered list of cache layers behind
// one key-value interface. Reads promote hits toward the front, writes
// keep the back handle authoritative, expiration and eviction signals
// propagate between layers, and an optional backplane fans
// invalidations out to other nodes.
package tiercache

import (
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Manager is the multi-tier coordinator. Handles are ordered front to
// back: index 0 is the fastest, the last index is authoritative. A
// Manager is safe for concurrent use; cross-handle operations are
// sequences of per-handle operations and may interleave.
type Manager[K comparable, V any] struct {
	cfg       ManagerConfig
	id        string
	log       zerolog.Logger
	handles   []Handle[K, V]
	backplane Backplane[K]
	events    events[K, V]
	group     singleflight.Group
	closed    int32
}

// NewManager builds a coordinator over the given handles, front first.
func NewManager[K comparable, V any](
	cfg ManagerConfig, logger zerolog.Logger, handles ...Handle[K, V],
) (*Manager[K, V], error) {
	return newManager(cfg, logger, nil, handles)
}

// NewManagerWithBackplane additionally wires a backplane; exactly one
// handle must be marked as the backplane source.
func NewManagerWithBackplane[K comparable, V any](
	cfg ManagerConfig, logger zerolog.Logger, backplane Backplane[K], handles ...Handle[K, V],
) (*Manager[K, V], error) {
	if backplane == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "backplane must not be nil")
	}
	return newManager(cfg, logger, backplane, handles)
}

func newManager[K comparable, V any](
	cfg ManagerConfig, logger zerolog.Logger, backplane Backplane[K], handles []Handle[K, V],
) (*Manager[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, errors.Wrap(ErrInvariantViolation, "at least one cache handle is required")
	}
	sources := 0
	for _, h := range handles {
		if h.Config().IsBackplaneSource {
			sources++
		}
	}
	if sources > 1 {
		return nil, errors.Wrap(ErrInvariantViolation, "no more than one handle may be the backplane source")
	}
	if backplane != nil && sources == 0 {
		return nil, errors.Wrap(ErrInvariantViolation, "a backplane requires a backplane source handle")
	}

	m := &Manager[K, V]{
		cfg:       cfg,
		id:        uuid.NewString(),
		handles:   handles,
		backplane: backplane,
	}
	m.log = logger.With().Str("cache", cfg.Name).Logger()

	// Per-handle adapters close over the index so the level is known
	// when a handle reports a removal.
	for i, h := range handles {
		idx := i
		h.OnRemove(func(args HandleRemoveArgs[K, V]) {
			m.handleRemoved(idx, args)
		})
	}
	if backplane != nil {
		backplane.OnChanged(m.remoteChanged)
		backplane.OnRemoved(m.remoteRemoved)
		backplane.OnCleared(m.remoteCleared)
	}
	return m, nil
}

// Name returns the configured cache name.
func (m *Manager[K, V]) Name() string { return m.cfg.Name }

// ID returns the manager's instance identity, a random UUID assigned at
// construction.
func (m *Manager[K, V]) ID() string { return m.id }

func (m *Manager[K, V]) isClosed() bool { return atomic.LoadInt32(&m.closed) == 1 }

func (m *Manager[K, V]) guard() error {
	if m.isClosed() {
		return errors.Wrapf(ErrDisposed, "cache %q", m.cfg.Name)
	}
	return nil
}

// Close disposes every handle and the backplane in order. Operations
// on a closed manager fail with ErrDisposed.
func (m *Manager[K, V]) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}
	var firstErr error
	for _, h := range m.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.backplane != nil {
		if err := m.backplane.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Event registration. Listeners run on the goroutine that completed
// the operation (or delivered the backplane notification).

func (m *Manager[K, V]) OnAdd(fn EventListener[K])    { m.events.onAdd(fn) }
func (m *Manager[K, V]) OnGet(fn EventListener[K])    { m.events.onGet(fn) }
func (m *Manager[K, V]) OnPut(fn EventListener[K])    { m.events.onPut(fn) }
func (m *Manager[K, V]) OnRemove(fn EventListener[K]) { m.events.onRemove(fn) }
func (m *Manager[K, V]) OnUpdate(fn EventListener[K]) { m.events.onUpdate(fn) }
func (m *Manager[K, V]) OnClear(fn ClearListener)     { m.events.onClear(fn) }
func (m *Manager[K, V]) OnRemoveByHandle(fn RemoveByHandleListener[K, V]) {
	m.events.onRemoveByHandle(fn)
}

// Add stores a new value, failing if the key already exists. The write
// goes to the back handle only; on success the key is evicted from the
// layers in front so the next read re-promotes the fresh version.
func (m *Manager[K, V]) Add(key K, value V) (bool, error) {
	item, err := NewCacheItem(key, value)
	if err != nil {
		return false, err
	}
	return m.AddItem(item)
}

// AddItem is Add for a caller-constructed item.
func (m *Manager[K, V]) AddItem(item *CacheItem[K, V]) (bool, error) {
	if err := m.guard(); err != nil {
		return false, err
	}
	back := len(m.handles) - 1
	ok, err := m.handles[back].Add(item)
	if err != nil {
		return false, errors.Wrapf(ErrHandle, "add on handle %q: %v", m.handles[back].Config().Name, err)
	}
	if !ok {
		return false, nil
	}
	m.evictFromOthers(item.Key(), back)
	m.notifyChange(item.Key(), BackplaneAdd)
	m.events.fireAdd(item.Key(), OriginLocal)
	return true, nil
}

// Put stores the value in every handle, overwriting what was there.
func (m *Manager[K, V]) Put(key K, value V) error {
	item, err := NewCacheItem(key, value)
	if err != nil {
		return err
	}
	return m.PutItem(item)
}

// PutItem is Put for a caller-constructed item. A handle failure
// aborts the remaining handles; Put is not all-or-nothing.
func (m *Manager[K, V]) PutItem(item *CacheItem[K, V]) error {
	if err := m.guard(); err != nil {
		return err
	}
	for _, h := range m.handles {
		if err := h.Put(item); err != nil {
			m.log.Error().Err(err).Str("handle", h.Config().Name).Msg("put failed")
			return errors.Wrapf(ErrHandle, "put on handle %q: %v", h.Config().Name, err)
		}
	}
	m.notifyChange(item.Key(), BackplanePut)
	m.events.firePut(item.Key(), OriginLocal)
	return nil
}

// GetCacheItem walks the handles front to back and returns the first
// live entry, or nil on a full miss. The hit is touched and copied
// into every handle in front of the one that held it. A failing handle
// is logged and treated as a miss.
func (m *Manager[K, V]) GetCacheItem(key K) (*CacheItem[K, V], error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	for i, h := range m.handles {
		item, err := h.Get(key)
		if err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("get failed, treating as miss")
			continue
		}
		if item == nil {
			continue
		}
		item.Touch()
		m.promote(item, i)
		m.events.fireGet(key, OriginLocal)
		return item, nil
	}
	return nil, nil
}

// Get returns the value for key or ErrNotFound.
func (m *Manager[K, V]) Get(key K) (V, error) {
	var zero V
	item, err := m.GetCacheItem(key)
	if err != nil {
		return zero, err
	}
	if item == nil {
		return zero, errors.Wrapf(ErrNotFound, "key %v", key)
	}
	return item.Value(), nil
}

// TryGet returns the value and whether it was present.
func (m *Manager[K, V]) TryGet(key K) (V, bool) {
	var zero V
	item, err := m.GetCacheItem(key)
	if err != nil || item == nil {
		return zero, false
	}
	return item.Value(), true
}

// promote copies a hit at index hit into every handle in front of it.
func (m *Manager[K, V]) promote(item *CacheItem[K, V], hit int) {
	for j := 0; j < hit; j++ {
		if err := m.handles[j].Put(item); err != nil {
			m.log.Warn().Err(err).Str("handle", m.handles[j].Config().Name).Msg("promotion failed")
		}
	}
}

// Exists reports whether any handle holds a live entry for key.
func (m *Manager[K, V]) Exists(key K) bool {
	if m.isClosed() {
		return false
	}
	for _, h := range m.handles {
		ok, err := h.Exists(key)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// CountAll sums the entry counts of every handle. Promoted copies
// count once per layer holding them.
func (m *Manager[K, V]) CountAll() int {
	n := 0
	for _, h := range m.handles {
		n += h.Count()
	}
	return n
}

// HandleStats returns each handle's counters keyed by handle name.
func (m *Manager[K, V]) HandleStats() map[string]*Stats {
	out := make(map[string]*Stats, len(m.handles))
	for _, h := range m.handles {
		out[h.Config().Name] = h.Stats()
	}
	return out
}

// Remove deletes the key from every handle. Handle failures are logged
// and the walk continues.
func (m *Manager[K, V]) Remove(key K) (bool, error) {
	if err := m.guard(); err != nil {
		return false, err
	}
	removed := false
	for _, h := range m.handles {
		ok, err := h.Remove(key)
		if err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("remove failed")
			continue
		}
		removed = removed || ok
	}
	if removed {
		m.notifyRemove(key)
		m.events.fireRemove(key, OriginLocal)
	}
	return removed, nil
}

// Clear drops every entry from every handle.
func (m *Manager[K, V]) Clear() error {
	if err := m.guard(); err != nil {
		return err
	}
	for _, h := range m.handles {
		if err := h.Clear(); err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("clear failed")
		}
	}
	m.notifyClear()
	m.events.fireClear(OriginLocal)
	return nil
}

// Update applies factory to the current value with bounded optimistic
// retry, failing with ErrInvariantViolation when the key is absent,
// the factory declines, or retries run out.
func (m *Manager[K, V]) Update(key K, factory UpdateFunc[V], maxRetries ...int) (V, error) {
	var zero V
	retries, err := m.retryBound(maxRetries)
	if err != nil {
		return zero, err
	}
	v, outcome, err := m.update(key, factory, retries)
	if err != nil {
		return zero, err
	}
	if outcome != UpdateSuccess {
		return zero, errors.Wrapf(ErrInvariantViolation, "update of key %v failed: %v", key, outcome)
	}
	return v, nil
}

// TryUpdate is Update returning false instead of an error when the
// update cannot complete.
func (m *Manager[K, V]) TryUpdate(key K, factory UpdateFunc[V], maxRetries ...int) (V, bool) {
	var zero V
	retries, err := m.retryBound(maxRetries)
	if err != nil {
		return zero, false
	}
	v, outcome, err := m.update(key, factory, retries)
	if err != nil || outcome != UpdateSuccess {
		return zero, false
	}
	return v, true
}

// update targets the back handle and interprets the result. On
// success the key is evicted from the handles in front of the target
// and the new item copied into any behind it; on retry exhaustion or a
// vanished key the other layers are evicted to avoid divergence.
func (m *Manager[K, V]) update(key K, factory UpdateFunc[V], retries int) (V, UpdateOutcome, error) {
	var zero V
	if err := m.guard(); err != nil {
		return zero, 0, err
	}
	target := len(m.handles) - 1
	res, err := m.handles[target].Update(key, factory, retries)
	if err != nil {
		if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrDisposed) {
			return zero, 0, err
		}
		return zero, 0, errors.Wrapf(ErrHandle, "update on handle %q: %v", m.handles[target].Config().Name, err)
	}
	switch res.Outcome {
	case UpdateSuccess:
		for i, h := range m.handles {
			if i == target {
				continue
			}
			if i < target {
				if _, err := h.Remove(key); err != nil {
					m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("post-update eviction failed")
				}
			} else if err := h.Put(res.Item); err != nil {
				m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("post-update copy failed")
			}
		}
		m.notifyChange(key, BackplaneUpdate)
		m.events.fireUpdate(key, OriginLocal)
		return res.Item.Value(), UpdateSuccess, nil
	case UpdateFactoryReturnedNil:
		m.log.Warn().Interface("key", key).Msg("update factory returned no value")
		return zero, res.Outcome, nil
	case UpdateTooManyRetries, UpdateItemDidNotExist:
		m.evictFromOthers(key, target)
		m.log.Warn().Interface("key", key).Stringer("outcome", res.Outcome).Int("tries", res.Tries).
			Msg("update did not complete")
		return zero, res.Outcome, nil
	default:
		return zero, res.Outcome, errors.Wrapf(ErrHandle, "unknown update outcome %d", res.Outcome)
	}
}

// AddOrUpdate adds the value, or updates the existing entry when the
// add is rejected, retrying the pair up to the retry bound. It is not
// atomic across nodes.
func (m *Manager[K, V]) AddOrUpdate(key K, addValue V, factory UpdateFunc[V], maxRetries ...int) (V, error) {
	var zero V
	retries, err := m.retryBound(maxRetries)
	if err != nil {
		return zero, err
	}
	item, err := NewCacheItem(key, addValue)
	if err != nil {
		return zero, err
	}
	for tries := 0; tries <= retries; tries++ {
		ok, err := m.AddItem(item)
		if err != nil {
			return zero, err
		}
		if ok {
			return addValue, nil
		}
		v, outcome, err := m.update(key, factory, retries)
		if err != nil {
			return zero, err
		}
		if outcome == UpdateSuccess {
			return v, nil
		}
		// The factory declined or the item vanished between add and
		// update; a racing writer may change the picture, so try the
		// add-then-update pair again.
	}
	return zero, errors.Wrapf(ErrInvariantViolation, "add-or-update of key %v exhausted %d retries", key, retries)
}

// GetOrAdd returns the existing value or stores the given one.
func (m *Manager[K, V]) GetOrAdd(key K, value V) (V, error) {
	return m.GetOrAddFunc(key, func(K) (V, error) { return value, nil })
}

// GetOrAddFunc returns the existing value or stores one built by
// factory. The factory runs at most once per caller, and concurrent
// callers for the same key share a single run.
func (m *Manager[K, V]) GetOrAddFunc(key K, factory func(K) (V, error)) (V, error) {
	hash, conflict := keyToHash(key)
	flight := strconv.FormatUint(hash, 16) + ":" + strconv.FormatUint(conflict, 16)
	res, err, _ := m.group.Do(flight, func() (interface{}, error) {
		return m.getOrAdd(key, factory)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// TryGetOrAdd is GetOrAddFunc reporting failure as false.
func (m *Manager[K, V]) TryGetOrAdd(key K, factory func(K) (V, error)) (V, bool) {
	v, err := m.GetOrAddFunc(key, factory)
	if err != nil {
		var zero V
		return zero, false
	}
	return v, true
}

func (m *Manager[K, V]) getOrAdd(key K, factory func(K) (V, error)) (V, error) {
	var zero V
	if err := m.guard(); err != nil {
		return zero, err
	}
	var candidate *CacheItem[K, V]
	for tries := 0; tries <= m.cfg.MaxRetries; tries++ {
		item, err := m.GetCacheItem(key)
		if err != nil {
			return zero, err
		}
		if item != nil {
			if candidate != nil {
				disposeValue(candidate.Value())
			}
			return item.Value(), nil
		}
		if candidate == nil {
			v, err := factory(key)
			if err != nil {
				// A failing factory aborts immediately; retrying would
				// just run it again.
				return zero, errors.Wrapf(ErrInvariantViolation, "value factory for key %v: %v", key, err)
			}
			candidate, err = NewCacheItem(key, v)
			if err != nil {
				return zero, err
			}
		}
		ok, err := m.AddItem(candidate)
		if err != nil {
			disposeValue(candidate.Value())
			return zero, err
		}
		if ok {
			return candidate.Value(), nil
		}
	}
	if candidate != nil {
		disposeValue(candidate.Value())
	}
	return zero, errors.Wrapf(ErrInvariantViolation, "get-or-add of key %v exhausted %d retries", key, m.cfg.MaxRetries)
}

// disposeValue releases a constructed-but-unused candidate value when
// it owns a releasable resource.
func disposeValue(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Expire replaces the expiration of an existing entry and writes the
// result through every handle. Not atomic across nodes.
func (m *Manager[K, V]) Expire(key K, mode ExpirationMode, timeout time.Duration) error {
	item, err := m.GetCacheItem(key)
	if err != nil {
		return err
	}
	if item == nil {
		return errors.Wrapf(ErrNotFound, "key %v", key)
	}
	var updated *CacheItem[K, V]
	switch mode {
	case ExpirationAbsolute:
		updated, err = item.WithAbsoluteExpiration(timeout)
	case ExpirationSliding:
		updated, err = item.WithSlidingExpiration(timeout)
	case ExpirationNone:
		updated, err = item.WithNoExpiration()
	case ExpirationDefault:
		updated, err = item.WithDefaultExpiration()
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown expiration mode %d", mode)
	}
	if err != nil {
		return err
	}
	return m.PutItem(updated)
}

// ExpireAt sets an absolute expiration at the given instant.
func (m *Manager[K, V]) ExpireAt(key K, instant time.Time) error {
	timeout := time.Until(instant.UTC())
	if timeout <= 0 {
		return errors.Wrap(ErrInvalidArgument, "absolute expiration must be in the future")
	}
	return m.Expire(key, ExpirationAbsolute, timeout)
}

// ExpireSliding sets a sliding expiration with the given timeout.
func (m *Manager[K, V]) ExpireSliding(key K, timeout time.Duration) error {
	return m.Expire(key, ExpirationSliding, timeout)
}

// RemoveExpiration disables expiration for the entry.
func (m *Manager[K, V]) RemoveExpiration(key K) error {
	return m.Expire(key, ExpirationNone, 0)
}

func (m *Manager[K, V]) retryBound(overrides []int) (int, error) {
	if len(overrides) == 0 {
		return m.cfg.MaxRetries, nil
	}
	if overrides[0] < 0 {
		return 0, errors.Wrap(ErrInvalidArgument, "max retries must not be negative")
	}
	return overrides[0], nil
}

// evictFromOthers removes the key from every handle except the one at
// index except.
func (m *Manager[K, V]) evictFromOthers(key K, except int) {
	for i, h := range m.handles {
		if i == except {
			continue
		}
		if _, err := h.Remove(key); err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("eviction failed")
		}
	}
}

// handleRemoved reacts to a removal decided inside the handle at idx:
// under UpdateModeUp the layers in front are evicted so they cannot
// serve a copy the lower tier just dropped, under UpdateModeFull every
// other layer is. The event is re-emitted with the handle's level.
func (m *Manager[K, V]) handleRemoved(idx int, args HandleRemoveArgs[K, V]) {
	if m.isClosed() {
		return
	}
	switch m.cfg.UpdateMode {
	case UpdateModeUp:
		for i := 0; i < idx; i++ {
			if _, err := m.handles[i].Remove(args.Key); err != nil {
				m.log.Warn().Err(err).Str("handle", m.handles[i].Config().Name).Msg("upward eviction failed")
			}
		}
	case UpdateModeFull:
		m.evictFromOthers(args.Key, idx)
	}
	args.Level = idx + 1
	m.events.fireRemoveByHandle(args)
}

// shouldSync selects the handles a backplane notification applies to.
// A distributed source already observed the change on its own backend;
// in-memory handles in front of it still need invalidation, and an
// in-memory source must also invalidate on remote remove and clear.
func (m *Manager[K, V]) shouldSync(h Handle[K, V], includeSource bool) bool {
	if !h.Config().IsBackplaneSource {
		return true
	}
	return includeSource && !h.IsDistributed()
}

func (m *Manager[K, V]) remoteChanged(key K, action BackplaneAction) {
	if m.isClosed() {
		return
	}
	for _, h := range m.handles {
		if !m.shouldSync(h, false) {
			continue
		}
		if _, err := h.Remove(key); err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("remote-change eviction failed")
		}
	}
	switch action {
	case BackplaneAdd:
		m.events.fireAdd(key, OriginRemote)
	case BackplanePut:
		m.events.firePut(key, OriginRemote)
	case BackplaneUpdate:
		m.events.fireUpdate(key, OriginRemote)
	}
}

func (m *Manager[K, V]) remoteRemoved(key K) {
	if m.isClosed() {
		return
	}
	for _, h := range m.handles {
		if !m.shouldSync(h, true) {
			continue
		}
		if _, err := h.Remove(key); err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("remote-remove eviction failed")
		}
	}
	m.events.fireRemove(key, OriginRemote)
}

func (m *Manager[K, V]) remoteCleared() {
	if m.isClosed() {
		return
	}
	for _, h := range m.handles {
		if !m.shouldSync(h, true) {
			continue
		}
		if err := h.Clear(); err != nil {
			m.log.Warn().Err(err).Str("handle", h.Config().Name).Msg("remote clear failed")
		}
	}
	m.events.fireClear(OriginRemote)
}

// Backplane notification is best-effort; failures are logged, never
// surfaced.

func (m *Manager[K, V]) notifyChange(key K, action BackplaneAction) {
	if m.backplane == nil {
		return
	}
	if err := m.backplane.NotifyChange(key, action); err != nil {
		m.log.Warn().Err(err).Stringer("action", action).Msg("backplane change notification failed")
	}
}

func (m *Manager[K, V]) notifyRemove(key K) {
	if m.backplane == nil {
		return
	}
	if err := m.backplane.NotifyRemove(key); err != nil {
		m.log.Warn().Err(err).Msg("backplane remove notification failed")
	}
}

func (m *Manager[K, V]) notifyClear() {
	if m.backplane == nil {
		return
	}
	if err := m.backplane.NotifyClear(); err != nil {
		m.log.Warn().Err(err).Msg("backplane clear notification failed")
	}
}
