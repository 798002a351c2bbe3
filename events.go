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

import "sync"

// EventOrigin tells whether an event was caused by a direct API call
// on this node or by a backplane notification from another node.
type EventOrigin uint8

const (
	OriginLocal EventOrigin = iota
	OriginRemote
)

func (o EventOrigin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// EventArgs accompanies the key-scoped manager events.
type EventArgs[K comparable] struct {
	Key    K
	Origin EventOrigin
}

// ClearEventArgs accompanies OnClear.
type ClearEventArgs struct {
	Origin EventOrigin
}

// EventListener observes a key-scoped manager event.
type EventListener[K comparable] func(EventArgs[K])

// ClearListener observes cache clears.
type ClearListener func(ClearEventArgs)

// RemoveByHandleListener observes removals decided inside a handle,
// re-emitted by the manager with the handle's level filled in.
type RemoveByHandleListener[K comparable, V any] func(HandleRemoveArgs[K, V])

// events holds the manager's listener lists. Registration is
// mutex-guarded; firing snapshots the list and invokes listeners
// outside the lock.
type events[K comparable, V any] struct {
	mu             sync.RWMutex
	add            []EventListener[K]
	get            []EventListener[K]
	put            []EventListener[K]
	remove         []EventListener[K]
	update         []EventListener[K]
	clear          []ClearListener
	removeByHandle []RemoveByHandleListener[K, V]
}

func (e *events[K, V]) onAdd(fn EventListener[K])    { e.register(&e.add, fn) }
func (e *events[K, V]) onGet(fn EventListener[K])    { e.register(&e.get, fn) }
func (e *events[K, V]) onPut(fn EventListener[K])    { e.register(&e.put, fn) }
func (e *events[K, V]) onRemove(fn EventListener[K]) { e.register(&e.remove, fn) }
func (e *events[K, V]) onUpdate(fn EventListener[K]) { e.register(&e.update, fn) }

func (e *events[K, V]) register(list *[]EventListener[K], fn EventListener[K]) {
	e.mu.Lock()
	*list = append(*list, fn)
	e.mu.Unlock()
}

func (e *events[K, V]) onClear(fn ClearListener) {
	e.mu.Lock()
	e.clear = append(e.clear, fn)
	e.mu.Unlock()
}

func (e *events[K, V]) onRemoveByHandle(fn RemoveByHandleListener[K, V]) {
	e.mu.Lock()
	e.removeByHandle = append(e.removeByHandle, fn)
	e.mu.Unlock()
}

func (e *events[K, V]) fire(list *[]EventListener[K], args EventArgs[K]) {
	e.mu.RLock()
	fns := make([]EventListener[K], len(*list))
	copy(fns, *list)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(args)
	}
}

func (e *events[K, V]) fireAdd(key K, origin EventOrigin) {
	e.fire(&e.add, EventArgs[K]{Key: key, Origin: origin})
}

func (e *events[K, V]) fireGet(key K, origin EventOrigin) {
	e.fire(&e.get, EventArgs[K]{Key: key, Origin: origin})
}

func (e *events[K, V]) firePut(key K, origin EventOrigin) {
	e.fire(&e.put, EventArgs[K]{Key: key, Origin: origin})
}

func (e *events[K, V]) fireRemove(key K, origin EventOrigin) {
	e.fire(&e.remove, EventArgs[K]{Key: key, Origin: origin})
}

func (e *events[K, V]) fireUpdate(key K, origin EventOrigin) {
	e.fire(&e.update, EventArgs[K]{Key: key, Origin: origin})
}

func (e *events[K, V]) fireClear(origin EventOrigin) {
	e.mu.RLock()
	fns := make([]ClearListener, len(e.clear))
	copy(fns, e.clear)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(ClearEventArgs{Origin: origin})
	}
}

func (e *events[K, V]) fireRemoveByHandle(args HandleRemoveArgs[K, V]) {
	e.mu.RLock()
	fns := make([]RemoveByHandleListener[K, V], len(e.removeByHandle))
	copy(fns, e.removeByHandle)
	e.mu.RUnlock()
	for _, fn := range fns {
		fn(args)
	}
}
