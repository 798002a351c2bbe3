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
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackplaneAction tags the kind of change a backplane notification
// describes.
type BackplaneAction uint8

const (
	BackplaneAdd BackplaneAction = iota
	BackplanePut
	BackplaneUpdate
)

func (a BackplaneAction) String() string {
	switch a {
	case BackplaneAdd:
		return "add"
	case BackplanePut:
		return "put"
	case BackplaneUpdate:
		return "update"
	default:
		return "unidentified"
	}
}

// Backplane is the cross-node invalidation channel. Delivery is
// best-effort, at most once per local call, unordered across keys.
// Inbound handlers run on the delivering goroutine; the manager is the
// only subscriber.
type Backplane[K comparable] interface {
	// NotifyChange announces a local add, put or update of key.
	NotifyChange(key K, action BackplaneAction) error
	// NotifyRemove announces a local removal of key.
	NotifyRemove(key K) error
	// NotifyClear announces a local clear.
	NotifyClear() error
	// OnChanged registers the handler for remote changes.
	OnChanged(fn func(key K, action BackplaneAction))
	// OnRemoved registers the handler for remote removals.
	OnRemoved(fn func(key K))
	// OnCleared registers the handler for remote clears.
	OnCleared(fn func())
	// Close disconnects the backplane.
	Close() error
}

// BackplaneBus is a same-process fan-out shared by MemoryBackplane
// instances. Each connected backplane delivers to every other member,
// never to itself.
type BackplaneBus[K comparable] struct {
	mu      sync.RWMutex
	members map[string]*MemoryBackplane[K]
}

// NewBackplaneBus returns an empty bus.
func NewBackplaneBus[K comparable]() *BackplaneBus[K] {
	return &BackplaneBus[K]{members: make(map[string]*MemoryBackplane[K])}
}

// Connect attaches a new backplane to the bus.
func (b *BackplaneBus[K]) Connect(logger zerolog.Logger) *MemoryBackplane[K] {
	bp := &MemoryBackplane[K]{
		bus:   b,
		owner: uuid.NewString(),
	}
	bp.log = logger.With().Str("backplane", bp.owner).Logger()
	b.mu.Lock()
	b.members[bp.owner] = bp
	b.mu.Unlock()
	return bp
}

func (b *BackplaneBus[K]) others(owner string) []*MemoryBackplane[K] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*MemoryBackplane[K], 0, len(b.members))
	for id, m := range b.members {
		if id != owner {
			out = append(out, m)
		}
	}
	return out
}

func (b *BackplaneBus[K]) disconnect(owner string) {
	b.mu.Lock()
	delete(b.members, owner)
	b.mu.Unlock()
}

// MemoryBackplane is the in-process reference backplane. It delivers
// synchronously on the notifying goroutine and skips its own
// notifications, so a node never reacts to its own writes.
type MemoryBackplane[K comparable] struct {
	bus   *BackplaneBus[K]
	owner string
	log   zerolog.Logger

	mu      sync.RWMutex
	changed []func(key K, action BackplaneAction)
	removed []func(key K)
	cleared []func()
	closed  bool
}

func (bp *MemoryBackplane[K]) NotifyChange(key K, action BackplaneAction) error {
	for _, peer := range bp.bus.others(bp.owner) {
		peer.deliverChanged(key, action)
	}
	return nil
}

func (bp *MemoryBackplane[K]) NotifyRemove(key K) error {
	for _, peer := range bp.bus.others(bp.owner) {
		peer.deliverRemoved(key)
	}
	return nil
}

func (bp *MemoryBackplane[K]) NotifyClear() error {
	for _, peer := range bp.bus.others(bp.owner) {
		peer.deliverCleared()
	}
	return nil
}

func (bp *MemoryBackplane[K]) OnChanged(fn func(key K, action BackplaneAction)) {
	bp.mu.Lock()
	bp.changed = append(bp.changed, fn)
	bp.mu.Unlock()
}

func (bp *MemoryBackplane[K]) OnRemoved(fn func(key K)) {
	bp.mu.Lock()
	bp.removed = append(bp.removed, fn)
	bp.mu.Unlock()
}

func (bp *MemoryBackplane[K]) OnCleared(fn func()) {
	bp.mu.Lock()
	bp.cleared = append(bp.cleared, fn)
	bp.mu.Unlock()
}

func (bp *MemoryBackplane[K]) deliverChanged(key K, action BackplaneAction) {
	bp.mu.RLock()
	fns := make([]func(K, BackplaneAction), len(bp.changed))
	copy(fns, bp.changed)
	closed := bp.closed
	bp.mu.RUnlock()
	if closed {
		return
	}
	for _, fn := range fns {
		bp.deliver(func() { fn(key, action) })
	}
}

func (bp *MemoryBackplane[K]) deliverRemoved(key K) {
	bp.mu.RLock()
	fns := make([]func(K), len(bp.removed))
	copy(fns, bp.removed)
	closed := bp.closed
	bp.mu.RUnlock()
	if closed {
		return
	}
	for _, fn := range fns {
		bp.deliver(func() { fn(key) })
	}
}

func (bp *MemoryBackplane[K]) deliverCleared() {
	bp.mu.RLock()
	fns := make([]func(), len(bp.cleared))
	copy(fns, bp.cleared)
	closed := bp.closed
	bp.mu.RUnlock()
	if closed {
		return
	}
	for _, fn := range fns {
		bp.deliver(fn)
	}
}

// deliver shields the delivery goroutine from handler panics.
func (bp *MemoryBackplane[K]) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			bp.log.Error().Interface("panic", r).Msg("backplane handler failed")
		}
	}()
	fn()
}

func (bp *MemoryBackplane[K]) Close() error {
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil
	}
	bp.closed = true
	bp.mu.Unlock()
	bp.bus.disconnect(bp.owner)
	return nil
}
