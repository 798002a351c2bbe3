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
	"time"

	"github.com/pkg/errors"
)

// RemoveReason classifies a removal decided inside a handle, as
// distinct from a user-invoked Remove.
type RemoveReason uint8

const (
	// RemoveExpired marks an item dropped because its lifetime elapsed.
	RemoveExpired RemoveReason = iota
	// RemoveEvicted marks an item dropped under memory pressure.
	RemoveEvicted
	// RemoveExternal marks an item deleted behind the handle's back.
	RemoveExternal
)

func (r RemoveReason) String() string {
	switch r {
	case RemoveExpired:
		return "expired"
	case RemoveEvicted:
		return "evicted"
	case RemoveExternal:
		return "external-delete"
	default:
		return "unidentified"
	}
}

// HandleRemoveArgs describes a handle-originated removal. Level is the
// position of the reporting handle, front handle being 1; handles fire
// with their own view and the manager overwrites it when re-emitting.
// HasValue is false when the backend could not return the dropped
// value.
type HandleRemoveArgs[K comparable, V any] struct {
	Key      K
	Reason   RemoveReason
	Level    int
	Value    V
	HasValue bool
}

// RemoveCallback observes cache-specific removals on a handle.
type RemoveCallback[K comparable, V any] func(HandleRemoveArgs[K, V])

// UpdateOutcome tags the result of a handle update.
type UpdateOutcome uint8

const (
	// UpdateSuccess carries the stored item and the number of tries.
	UpdateSuccess UpdateOutcome = iota
	// UpdateItemDidNotExist means there was nothing to update.
	UpdateItemDidNotExist
	// UpdateFactoryReturnedNil means the caller's factory declined to
	// produce a value.
	UpdateFactoryReturnedNil
	// UpdateTooManyRetries means optimistic retries were exhausted.
	UpdateTooManyRetries
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateSuccess:
		return "success"
	case UpdateItemDidNotExist:
		return "item-did-not-exist"
	case UpdateFactoryReturnedNil:
		return "factory-returned-nil"
	case UpdateTooManyRetries:
		return "too-many-retries"
	default:
		return "unidentified"
	}
}

// UpdateResult is the outcome of Handle.Update. Item is set only on
// success; Tries counts attempts made.
type UpdateResult[K comparable, V any] struct {
	Outcome UpdateOutcome
	Item    *CacheItem[K, V]
	Tries   int
}

// UpdateFunc transforms the current value during an update. Returning
// ok=false declines the update, which surfaces as
// UpdateFactoryReturnedNil.
type UpdateFunc[V any] func(current V) (V, bool)

// HandleConfig bundles the per-layer settings every handle consumes.
type HandleConfig struct {
	// Name identifies the handle in logs and stats. Required.
	Name string
	// Key is the lookup key for external configuration; defaults to
	// Name.
	Key string
	// ExpirationMode and ExpirationTimeout are the handle defaults
	// applied to items that don't carry their own expiration.
	ExpirationMode    ExpirationMode
	ExpirationTimeout time.Duration
	// EnableStatistics turns on the per-handle counters.
	EnableStatistics bool
	// EnablePerformanceCounters exports the counters; implies
	// EnableStatistics.
	EnablePerformanceCounters bool
	// IsBackplaneSource marks this handle's writes as the origin of
	// backplane events for this node. At most one handle per manager.
	IsBackplaneSource bool
}

func (c *HandleConfig) validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalidArgument, "handle name must not be empty")
	}
	if c.Key == "" {
		c.Key = c.Name
	}
	if c.EnablePerformanceCounters {
		c.EnableStatistics = true
	}
	return validateExpiration(c.ExpirationMode, c.ExpirationTimeout)
}

// Handle is a single storage layer. Implementations must be safe for
// concurrent use and must apply resolveExpiration before storing.
type Handle[K comparable, V any] interface {
	// Add stores the item only if the key is absent.
	Add(item *CacheItem[K, V]) (bool, error)
	// Get returns the item or nil on a miss. Expired items are dropped
	// and reported as a miss.
	Get(key K) (*CacheItem[K, V], error)
	// Put stores the item unconditionally.
	Put(item *CacheItem[K, V]) error
	// Remove deletes the key, reporting whether it was present.
	Remove(key K) (bool, error)
	// Clear drops every entry.
	Clear() error
	// Exists reports presence without touching access time.
	Exists(key K) (bool, error)
	// Count returns the number of stored entries.
	Count() int
	// Update applies factory to the current value in a read-modify-
	// write protected against lost updates. Distributed backends retry
	// optimistically up to maxRetries.
	Update(key K, factory UpdateFunc[V], maxRetries int) (*UpdateResult[K, V], error)
	// Stats returns the handle's counters (never nil).
	Stats() *Stats
	// Config returns the handle's configuration bundle.
	Config() HandleConfig
	// IsDistributed reports whether the backend is shared across
	// nodes.
	IsDistributed() bool
	// OnRemove registers an observer for cache-specific removals.
	OnRemove(cb RemoveCallback[K, V])
	// Close releases the handle's resources.
	Close() error
}

// resolveExpiration computes the effective expiration for an incoming
// item: an item carrying its own expiration wins; otherwise the handle
// default applies and the item is marked as using defaults; with
// neither, expiration falls back to none.
func resolveExpiration[K comparable, V any](
	item *CacheItem[K, V], cfg HandleConfig,
) (*CacheItem[K, V], error) {
	mode, timeout := item.ExpirationMode(), item.ExpirationTimeout()
	switch {
	case !item.UsesExpirationDefaults() && mode != ExpirationDefault:
		// Keep the item's own expiration.
	case cfg.ExpirationMode != ExpirationDefault:
		mode, timeout = cfg.ExpirationMode, cfg.ExpirationTimeout
		resolved, err := item.withExpiration(mode, timeout, true)
		if err != nil {
			return nil, err
		}
		item = resolved
	default:
		resolved, err := item.withExpiration(ExpirationNone, 0, true)
		if err != nil {
			return nil, err
		}
		item = resolved
		mode, timeout = ExpirationNone, 0
	}
	if (mode == ExpirationSliding || mode == ExpirationAbsolute) && timeout == 0 {
		return nil, errors.Wrapf(ErrInvariantViolation,
			"handle %q resolved %v expiration without a timeout", cfg.Name, mode)
	}
	return item, nil
}
