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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewCacheItemDefaults(t *testing.T) {
	item, err := NewCacheItem("k", "v")
	require.NoError(t, err)
	require.Equal(t, "k", item.Key())
	require.Equal(t, "v", item.Value())
	require.Equal(t, ExpirationDefault, item.ExpirationMode())
	require.Zero(t, item.ExpirationTimeout())
	require.True(t, item.UsesExpirationDefaults())
	require.Equal(t, time.UTC, item.CreatedUTC().Location())
}

func TestNewCacheItemValidation(t *testing.T) {
	var pk *int
	_, err := NewCacheItem[*int, string](pk, "v")
	require.ErrorIs(t, err, ErrInvalidArgument, "nil key should be rejected")

	var p *int
	_, err = NewCacheItem[string, *int]("k", p)
	require.ErrorIs(t, err, ErrInvalidArgument, "nil value should be rejected")

	// Zero-valued keys of non-nilable types are ordinary keys.
	zeroed, err := NewCacheItem(0, "v")
	require.NoError(t, err)
	require.Equal(t, 0, zeroed.Key())

	_, err = NewCacheItemWithExpiration("k", "v", ExpirationSliding, 0)
	require.ErrorIs(t, err, ErrInvalidArgument, "sliding without timeout should be rejected")

	_, err = NewCacheItemWithExpiration("k", "v", ExpirationNone, time.Second)
	require.ErrorIs(t, err, ErrInvalidArgument, "none with timeout should be rejected")

	_, err = NewCacheItemWithExpiration("k", "v", ExpirationAbsolute, MaxExpirationTimeout+time.Hour)
	require.ErrorIs(t, err, ErrInvalidArgument, "timeout above one year should be rejected")

	_, err = NewCacheItemWithExpiration("k", "v", ExpirationAbsolute, -time.Second)
	require.ErrorIs(t, err, ErrInvalidArgument, "negative timeout should be rejected")
}

func TestCacheItemAbsoluteExpiry(t *testing.T) {
	item, err := NewCacheItemWithExpiration("k", "v", ExpirationAbsolute, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, item.IsExpired(), "fresh item should not be expired")

	past := time.Now().UTC().Add(-time.Second)
	item, err = item.WithCreated(past)
	require.NoError(t, err)
	require.True(t, item.IsExpired(), "item created beyond its timeout should be expired")

	// The deadline is created+timeout exactly.
	item, err = item.WithCreated(time.Now().UTC().Add(-40 * time.Millisecond))
	require.NoError(t, err)
	require.False(t, item.IsExpired(), "item inside its timeout should not be expired")
}

func TestCacheItemSlidingExpiry(t *testing.T) {
	item, err := NewCacheItemWithExpiration("k", "v", ExpirationSliding, 60*time.Millisecond)
	require.NoError(t, err)
	require.False(t, item.IsExpired())

	require.NoError(t, item.SetLastAccessedUTC(time.Now().UTC().Add(-time.Second)))
	require.True(t, item.IsExpired(), "stale last access should expire a sliding item")

	item.Touch()
	require.False(t, item.IsExpired(), "touching should reset the sliding deadline")
}

func TestCacheItemWithFactories(t *testing.T) {
	item, err := NewCacheItemWithExpiration("k", "v", ExpirationSliding, time.Minute)
	require.NoError(t, err)
	created := item.CreatedUTC()

	v2, err := item.WithValue("w")
	require.NoError(t, err)
	require.Equal(t, "w", v2.Value())
	require.Equal(t, created, v2.CreatedUTC(), "WithValue should preserve CreatedUTC")
	require.Equal(t, "v", item.Value(), "original must be untouched")

	sl, err := item.WithSlidingExpiration(time.Second)
	require.NoError(t, err)
	require.Equal(t, ExpirationSliding, sl.ExpirationMode())
	require.Equal(t, time.Second, sl.ExpirationTimeout())
	require.Equal(t, created, sl.CreatedUTC(), "WithSlidingExpiration should preserve CreatedUTC")

	none, err := item.WithNoExpiration()
	require.NoError(t, err)
	require.Equal(t, ExpirationNone, none.ExpirationMode())
	require.Zero(t, none.ExpirationTimeout())

	def, err := item.WithDefaultExpiration()
	require.NoError(t, err)
	require.Equal(t, ExpirationDefault, def.ExpirationMode())
	require.True(t, def.UsesExpirationDefaults())
}

func TestCacheItemAbsoluteResetsCreated(t *testing.T) {
	item, err := NewCacheItem("k", "v")
	require.NoError(t, err)
	old := time.Now().UTC().Add(-time.Hour)
	item, err = item.WithCreated(old)
	require.NoError(t, err)

	abs, err := item.WithAbsoluteExpiration(time.Minute)
	require.NoError(t, err)
	require.True(t, abs.CreatedUTC().After(old), "absolute expiration must restart the absolute clock")
	require.Equal(t, ExpirationAbsolute, abs.ExpirationMode())

	at, err := item.WithAbsoluteExpirationAt(time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, ExpirationAbsolute, at.ExpirationMode())
	require.InDelta(t, time.Minute.Seconds(), at.ExpirationTimeout().Seconds(), 1.0)

	_, err = item.WithAbsoluteExpirationAt(time.Now().UTC().Add(-time.Minute))
	require.ErrorIs(t, err, ErrInvalidArgument, "past instants should be rejected")
}

func TestCacheItemUTCOnly(t *testing.T) {
	item, err := NewCacheItem("k", "v")
	require.NoError(t, err)

	local := time.Now().In(time.FixedZone("X", 3600))
	_, err = item.WithCreated(local)
	require.ErrorIs(t, err, ErrInvalidArgument, "non-UTC created should be rejected")
	require.ErrorIs(t, item.SetLastAccessedUTC(local), ErrInvalidArgument,
		"non-UTC last access should be rejected")
}
