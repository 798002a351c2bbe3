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
	"fmt"
	"time"

	farm "github.com/dgryski/go-farm"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// The carrier encodes timestamps as ticks: 100 ns units since
// 0001-01-01 UTC, the epoch of the original wire format.
var tickEpoch = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// unixEpochTicks is the tick count of 1970-01-01 UTC. Conversions go
// through Unix seconds because the span since tickEpoch exceeds the
// range of time.Duration.
const unixEpochTicks = 621355968000000000

func timeToTicks(t time.Time) int64 {
	return t.Unix()*1e7 + int64(t.Nanosecond())/100 + unixEpochTicks
}

func ticksToTime(ticks int64) time.Time {
	unix := ticks - unixEpochTicks
	return time.Unix(unix/1e7, unix%1e7*100).UTC()
}

// ItemRecord is the neutral carrier handed to serializers. It
// preserves the original creation and last-access timestamps, carries
// the expiration as mode plus milliseconds, and tags the value with an
// identifier that is opaque to the cache.
type ItemRecord[K comparable, V any] struct {
	Key                     K              `json:"key"`
	Value                   V              `json:"value"`
	ValueType               string         `json:"valueType"`
	CreatedTicks            int64          `json:"createdUtc"`
	LastAccessedTicks       int64          `json:"lastAccessedUtc"`
	ExpirationMode          ExpirationMode `json:"expirationMode"`
	ExpirationTimeoutMillis int64          `json:"expirationTimeout"`
	UsesExpirationDefaults  bool           `json:"usesExpirationDefaults"`
}

// RecordFromItem captures the item into its serialized form.
func RecordFromItem[K comparable, V any](item *CacheItem[K, V]) ItemRecord[K, V] {
	return ItemRecord[K, V]{
		Key:                     item.Key(),
		Value:                   item.Value(),
		ValueType:               fmt.Sprintf("%T", item.Value()),
		CreatedTicks:            timeToTicks(item.CreatedUTC()),
		LastAccessedTicks:       timeToTicks(item.LastAccessedUTC()),
		ExpirationMode:          item.ExpirationMode(),
		ExpirationTimeoutMillis: item.ExpirationTimeout().Milliseconds(),
		UsesExpirationDefaults:  item.UsesExpirationDefaults(),
	}
}

// Item rebuilds the cache item, restoring the original creation and
// last-access timestamps.
func (r ItemRecord[K, V]) Item() (*CacheItem[K, V], error) {
	item, err := newItem(
		r.Key, r.Value,
		r.ExpirationMode,
		time.Duration(r.ExpirationTimeoutMillis)*time.Millisecond,
		r.UsesExpirationDefaults,
	)
	if err != nil {
		return nil, err
	}
	item, err = item.WithCreated(ticksToTime(r.CreatedTicks))
	if err != nil {
		return nil, err
	}
	if err := item.SetLastAccessedUTC(ticksToTime(r.LastAccessedTicks)); err != nil {
		return nil, err
	}
	return item, nil
}

// EncodeItem serializes the item through the neutral carrier.
func EncodeItem[K comparable, V any](item *CacheItem[K, V]) ([]byte, error) {
	data, err := json.Marshal(RecordFromItem(item))
	if err != nil {
		return nil, errors.Wrap(err, "encoding cache item")
	}
	return data, nil
}

// DecodeItem rebuilds an item from its serialized carrier form.
func DecodeItem[K comparable, V any](data []byte) (*CacheItem[K, V], error) {
	var r ItemRecord[K, V]
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decoding cache item")
	}
	return r.Item()
}

// Fingerprint returns a stable checksum of the encoded record, usable
// by transports that want cheap corruption detection.
func (r ItemRecord[K, V]) Fingerprint() (uint64, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return 0, errors.Wrap(err, "fingerprinting cache item")
	}
	return farm.Fingerprint64(data), nil
}
