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
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T, cfg HandleConfig, interval time.Duration) *MemoryHandle[string, string] {
	t.Helper()
	h, err := newMemoryHandle[string, string](cfg, zerolog.Nop(), interval)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func mustItem(t *testing.T, key, value string) *CacheItem[string, string] {
	t.Helper()
	item, err := NewCacheItem(key, value)
	require.NoError(t, err)
	return item
}

func mustExpiringItem(t *testing.T, key, value string, mode ExpirationMode, timeout time.Duration) *CacheItem[string, string] {
	t.Helper()
	item, err := NewCacheItemWithExpiration(key, value, mode, timeout)
	require.NoError(t, err)
	return item
}

func TestMemoryHandleConfigValidation(t *testing.T) {
	_, err := NewMemoryHandle[string, string](HandleConfig{}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidArgument, "empty name should be rejected")

	_, err = NewMemoryHandle[string, string](
		HandleConfig{Name: "a", ExpirationMode: ExpirationSliding}, zerolog.Nop())
	require.ErrorIs(t, err, ErrInvalidArgument, "sliding default without timeout should be rejected")
}

func TestMemoryHandleAddIsInsertIfAbsent(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem", EnableStatistics: true}, time.Hour)

	ok, err := h.Add(mustItem(t, "k", "v1"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Add(mustItem(t, "k", "v2"))
	require.NoError(t, err)
	require.False(t, ok, "second add for the same key must be rejected")

	item, err := h.Get("k")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, "v1", item.Value(), "the first value must win")
	require.EqualValues(t, 1, h.Stats().Items())
}

func TestMemoryHandlePutOverwrites(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem", EnableStatistics: true}, time.Hour)

	require.NoError(t, h.Put(mustItem(t, "k", "v1")))
	require.NoError(t, h.Put(mustItem(t, "k", "v2")))

	item, err := h.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v2", item.Value())
	require.EqualValues(t, 1, h.Stats().Items(), "overwrite must not grow the item count")
	require.Equal(t, 1, h.Count())
}

func TestMemoryHandleRemoveAndClear(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem"}, time.Hour)

	require.NoError(t, h.Put(mustItem(t, "a", "1")))
	require.NoError(t, h.Put(mustItem(t, "b", "2")))

	ok, err := h.Remove("a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.Remove("a")
	require.NoError(t, err)
	require.False(t, ok, "removing an absent key reports false")

	require.NoError(t, h.Clear())
	require.Zero(t, h.Count())
	exists, err := h.Exists("b")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestMemoryHandleExpiredOnGet(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem"}, time.Hour)

	var events int32
	h.OnRemove(func(args HandleRemoveArgs[string, string]) {
		require.Equal(t, "k", args.Key)
		require.Equal(t, RemoveExpired, args.Reason)
		require.True(t, args.HasValue)
		require.Equal(t, "v", args.Value)
		atomic.AddInt32(&events, 1)
	})

	require.NoError(t, h.Put(mustExpiringItem(t, "k", "v", ExpirationAbsolute, 30*time.Millisecond)))
	time.Sleep(60 * time.Millisecond)

	item, err := h.Get("k")
	require.NoError(t, err)
	require.Nil(t, item, "expired item must read as a miss")
	item, err = h.Get("k")
	require.NoError(t, err)
	require.Nil(t, item)
	require.EqualValues(t, 1, atomic.LoadInt32(&events),
		"exactly one remove event per removal")
}

func TestMemoryHandleScannerEvictsExpired(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem", EnableStatistics: true}, 50*time.Millisecond)

	var events int32
	h.OnRemove(func(args HandleRemoveArgs[string, string]) {
		require.Equal(t, RemoveExpired, args.Reason)
		atomic.AddInt32(&events, 1)
	})

	require.NoError(t, h.Put(mustExpiringItem(t, "short", "v", ExpirationAbsolute, 40*time.Millisecond)))
	require.NoError(t, h.Put(mustItem(t, "keep", "v")))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&events) == 1
	}, 2*time.Second, 10*time.Millisecond, "the scanner should evict the expired entry")

	exists, err := h.Exists("short")
	require.NoError(t, err)
	require.False(t, exists)
	exists, err = h.Exists("keep")
	require.NoError(t, err)
	require.True(t, exists, "unexpired entries must survive the sweep")
	require.EqualValues(t, 1, h.Stats().Items())
}

func TestMemoryHandleSlidingTouchExtends(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem"}, 40*time.Millisecond)

	require.NoError(t, h.Put(mustExpiringItem(t, "k", "v", ExpirationSliding, 150*time.Millisecond)))

	// Keep touching inside the window; the item must survive several
	// scan periods.
	for i := 0; i < 4; i++ {
		time.Sleep(70 * time.Millisecond)
		item, err := h.Get("k")
		require.NoError(t, err)
		require.NotNil(t, item, "touched sliding item must not expire (round %d)", i)
	}

	// Now go silent past the timeout.
	require.Eventually(t, func() bool {
		ok, err := h.Exists("k")
		require.NoError(t, err)
		return !ok
	}, 2*time.Second, 20*time.Millisecond, "idle sliding item should be evicted")
}

func TestMemoryHandleHandleDefaultsApplied(t *testing.T) {
	h := newTestHandle(t, HandleConfig{
		Name:              "mem",
		ExpirationMode:    ExpirationSliding,
		ExpirationTimeout: time.Minute,
	}, time.Hour)

	require.NoError(t, h.Put(mustItem(t, "k", "v")))
	item, err := h.Get("k")
	require.NoError(t, err)
	require.Equal(t, ExpirationSliding, item.ExpirationMode(), "handle default must be applied")
	require.Equal(t, time.Minute, item.ExpirationTimeout())
	require.True(t, item.UsesExpirationDefaults())

	// An item carrying its own expiration wins over the default.
	require.NoError(t, h.Put(mustExpiringItem(t, "own", "v", ExpirationAbsolute, time.Hour)))
	item, err = h.Get("own")
	require.NoError(t, err)
	require.Equal(t, ExpirationAbsolute, item.ExpirationMode())
	require.Equal(t, time.Hour, item.ExpirationTimeout())
}

func TestMemoryHandleUpdate(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem", EnableStatistics: true}, time.Hour)

	res, err := h.Update("k", func(v string) (string, bool) { return v + "!", true }, 3)
	require.NoError(t, err)
	require.Equal(t, UpdateItemDidNotExist, res.Outcome)

	require.NoError(t, h.Put(mustItem(t, "k", "v")))

	res, err = h.Update("k", func(v string) (string, bool) { return "", false }, 3)
	require.NoError(t, err)
	require.Equal(t, UpdateFactoryReturnedNil, res.Outcome)

	res, err = h.Update("k", func(v string) (string, bool) { return v + "!", true }, 3)
	require.NoError(t, err)
	require.Equal(t, UpdateSuccess, res.Outcome)
	require.Equal(t, 1, res.Tries)
	require.Equal(t, "v!", res.Item.Value())

	item, err := h.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v!", item.Value())

	_, err = h.Update("k", func(v string) (string, bool) { return v, true }, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryHandleClosed(t *testing.T) {
	h := newTestHandle(t, HandleConfig{Name: "mem"}, time.Hour)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "double close is a no-op")

	_, err := h.Get("k")
	require.ErrorIs(t, err, ErrDisposed)
	_, err = h.Add(mustItem(t, "k", "v"))
	require.ErrorIs(t, err, ErrDisposed)
	require.ErrorIs(t, h.Put(mustItem(t, "k", "v")), ErrDisposed)
}
