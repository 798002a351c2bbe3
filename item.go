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
	"reflect"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ExpirationMode determines how a cache item's lifetime is computed.
type ExpirationMode uint8

const (
	// ExpirationDefault defers to the handle's configured expiration.
	ExpirationDefault ExpirationMode = iota
	// ExpirationNone disables expiration for the item.
	ExpirationNone
	// ExpirationSliding expires the item after a period of inactivity.
	ExpirationSliding
	// ExpirationAbsolute expires the item at creation time plus timeout.
	ExpirationAbsolute
)

func (m ExpirationMode) String() string {
	switch m {
	case ExpirationDefault:
		return "default"
	case ExpirationNone:
		return "none"
	case ExpirationSliding:
		return "sliding"
	case ExpirationAbsolute:
		return "absolute"
	default:
		return "unidentified"
	}
}

// MaxExpirationTimeout is the upper bound accepted for an expiration
// timeout.
const MaxExpirationTimeout = 365 * 24 * time.Hour

// CacheItem is the record stored by every handle. It is immutable
// except for the last-accessed timestamp; all other mutations go
// through the With* factories, which return new instances.
type CacheItem[K comparable, V any] struct {
	key          K
	value        V
	createdUTC   time.Time
	lastAccessed int64 // UnixNano, written atomically
	mode         ExpirationMode
	timeout      time.Duration
	usesDefaults bool
}

// NewCacheItem returns an item with default expiration, deferring
// lifetime decisions to whichever handle stores it.
func NewCacheItem[K comparable, V any](key K, value V) (*CacheItem[K, V], error) {
	return newItem(key, value, ExpirationDefault, 0, true)
}

// NewCacheItemWithExpiration returns an item carrying its own
// expiration, overriding any handle default.
func NewCacheItemWithExpiration[K comparable, V any](
	key K, value V, mode ExpirationMode, timeout time.Duration,
) (*CacheItem[K, V], error) {
	return newItem(key, value, mode, timeout, false)
}

func newItem[K comparable, V any](
	key K, value V, mode ExpirationMode, timeout time.Duration, usesDefaults bool,
) (*CacheItem[K, V], error) {
	if isNilValue(key) {
		return nil, errors.Wrap(ErrInvalidArgument, "key must not be nil")
	}
	if isNilValue(value) {
		return nil, errors.Wrap(ErrInvalidArgument, "value must not be nil")
	}
	if err := validateExpiration(mode, timeout); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	i := &CacheItem[K, V]{
		key:          key,
		value:        value,
		createdUTC:   now,
		mode:         mode,
		timeout:      timeout,
		usesDefaults: usesDefaults,
	}
	i.lastAccessed = now.UnixNano()
	return i, nil
}

func validateExpiration(mode ExpirationMode, timeout time.Duration) error {
	if timeout < 0 || timeout > MaxExpirationTimeout {
		return errors.Wrapf(ErrInvalidArgument, "timeout %v out of range [0, %v]", timeout, MaxExpirationTimeout)
	}
	switch mode {
	case ExpirationSliding, ExpirationAbsolute:
		if timeout == 0 {
			return errors.Wrapf(ErrInvalidArgument, "%v expiration requires a timeout", mode)
		}
	case ExpirationNone, ExpirationDefault:
		if timeout != 0 {
			return errors.Wrapf(ErrInvalidArgument, "%v expiration must not carry a timeout", mode)
		}
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown expiration mode %d", mode)
	}
	return nil
}

// isNilValue reports whether v is nil through any nilable kind. A
// plain v == nil check misses typed nils inside the interface.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func (i *CacheItem[K, V]) Key() K                { return i.key }
func (i *CacheItem[K, V]) Value() V              { return i.value }
func (i *CacheItem[K, V]) CreatedUTC() time.Time { return i.createdUTC }

func (i *CacheItem[K, V]) ExpirationMode() ExpirationMode   { return i.mode }
func (i *CacheItem[K, V]) ExpirationTimeout() time.Duration { return i.timeout }
func (i *CacheItem[K, V]) UsesExpirationDefaults() bool     { return i.usesDefaults }

// LastAccessedUTC returns the moment the item was last read.
func (i *CacheItem[K, V]) LastAccessedUTC() time.Time {
	return time.Unix(0, atomic.LoadInt64(&i.lastAccessed)).UTC()
}

// Touch marks the item as accessed now. Safe for concurrent use.
func (i *CacheItem[K, V]) Touch() {
	atomic.StoreInt64(&i.lastAccessed, time.Now().UTC().UnixNano())
}

// SetLastAccessedUTC overwrites the access timestamp; t must be UTC.
func (i *CacheItem[K, V]) SetLastAccessedUTC(t time.Time) error {
	if t.Location() != time.UTC {
		return errors.Wrap(ErrInvalidArgument, "timestamp must be UTC")
	}
	atomic.StoreInt64(&i.lastAccessed, t.UnixNano())
	return nil
}

// IsExpired reports whether the item's lifetime has elapsed.
func (i *CacheItem[K, V]) IsExpired() bool {
	return i.isExpiredAt(time.Now().UTC())
}

func (i *CacheItem[K, V]) isExpiredAt(now time.Time) bool {
	switch i.mode {
	case ExpirationAbsolute:
		return i.createdUTC.Add(i.timeout).Before(now)
	case ExpirationSliding:
		return i.LastAccessedUTC().Add(i.timeout).Before(now)
	default:
		return false
	}
}

// clone copies the item including its current access timestamp.
func (i *CacheItem[K, V]) clone() *CacheItem[K, V] {
	c := &CacheItem[K, V]{
		key:          i.key,
		value:        i.value,
		createdUTC:   i.createdUTC,
		mode:         i.mode,
		timeout:      i.timeout,
		usesDefaults: i.usesDefaults,
	}
	c.lastAccessed = atomic.LoadInt64(&i.lastAccessed)
	return c
}

// WithValue returns a copy carrying value, touching the access time.
func (i *CacheItem[K, V]) WithValue(value V) (*CacheItem[K, V], error) {
	if isNilValue(value) {
		return nil, errors.Wrap(ErrInvalidArgument, "value must not be nil")
	}
	c := i.clone()
	c.value = value
	c.lastAccessed = time.Now().UTC().UnixNano()
	return c, nil
}

// WithExpiration returns a copy carrying its own mode and timeout.
// CreatedUTC is preserved.
func (i *CacheItem[K, V]) WithExpiration(mode ExpirationMode, timeout time.Duration) (*CacheItem[K, V], error) {
	return i.withExpiration(mode, timeout, false)
}

func (i *CacheItem[K, V]) withExpiration(
	mode ExpirationMode, timeout time.Duration, usesDefaults bool,
) (*CacheItem[K, V], error) {
	if err := validateExpiration(mode, timeout); err != nil {
		return nil, err
	}
	c := i.clone()
	c.mode = mode
	c.timeout = timeout
	c.usesDefaults = usesDefaults
	return c, nil
}

// WithAbsoluteExpiration returns a copy expiring timeout from now. The
// absolute clock restarts: CreatedUTC is reset to now.
func (i *CacheItem[K, V]) WithAbsoluteExpiration(timeout time.Duration) (*CacheItem[K, V], error) {
	c, err := i.withExpiration(ExpirationAbsolute, timeout, false)
	if err != nil {
		return nil, err
	}
	c.createdUTC = time.Now().UTC()
	return c, nil
}

// WithAbsoluteExpirationAt returns a copy expiring at instant, which
// must lie in the future. CreatedUTC is reset to now.
func (i *CacheItem[K, V]) WithAbsoluteExpirationAt(instant time.Time) (*CacheItem[K, V], error) {
	timeout := time.Until(instant.UTC())
	if timeout <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "absolute expiration must be in the future")
	}
	return i.WithAbsoluteExpiration(timeout)
}

// WithSlidingExpiration returns a copy expiring timeout after the last
// access. CreatedUTC is preserved.
func (i *CacheItem[K, V]) WithSlidingExpiration(timeout time.Duration) (*CacheItem[K, V], error) {
	return i.withExpiration(ExpirationSliding, timeout, false)
}

// WithNoExpiration returns a copy that never expires.
func (i *CacheItem[K, V]) WithNoExpiration() (*CacheItem[K, V], error) {
	return i.withExpiration(ExpirationNone, 0, false)
}

// WithDefaultExpiration returns a copy deferring to handle defaults.
func (i *CacheItem[K, V]) WithDefaultExpiration() (*CacheItem[K, V], error) {
	return i.withExpiration(ExpirationDefault, 0, true)
}

// WithCreated returns a copy with the given creation timestamp; t must
// be UTC.
func (i *CacheItem[K, V]) WithCreated(t time.Time) (*CacheItem[K, V], error) {
	if t.Location() != time.UTC {
		return nil, errors.Wrap(ErrInvalidArgument, "timestamp must be UTC")
	}
	c := i.clone()
	c.createdUTC = t
	return c, nil
}
