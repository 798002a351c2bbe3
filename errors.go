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

import "github.com/pkg/errors"

// Sentinel errors returned (possibly wrapped) by the cache. Match them
// with errors.Is or the predicate helpers below.
var (
	// ErrInvalidArgument signals a nil key or value, an out-of-range
	// timeout, a non-UTC timestamp or a negative retry count.
	ErrInvalidArgument = errors.New("tiercache: invalid argument")

	// ErrNotFound is returned by Get when the key is absent from every
	// handle.
	ErrNotFound = errors.New("tiercache: key not found")

	// ErrInvariantViolation signals a broken contract: an expiration
	// mode without a timeout, a duplicate backplane source, an empty
	// handle list, or an update that exhausted its retries when the
	// throwing variant was used.
	ErrInvariantViolation = errors.New("tiercache: invariant violation")

	// ErrDisposed is returned by any operation on a closed manager or
	// handle.
	ErrDisposed = errors.New("tiercache: cache is closed")

	// ErrHandle wraps failures propagated from a handle backend.
	ErrHandle = errors.New("tiercache: handle error")
)

// IsNotFound reports whether err stems from a missing key.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidArgument reports whether err stems from bad caller input.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsDisposed reports whether err stems from a closed cache.
func IsDisposed(err error) bool { return errors.Is(err, ErrDisposed) }
