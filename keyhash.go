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

	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
)

// keyToHash maps a key to a primary hash used for shard selection and
// a secondary fingerprint used for conflict checks. byte, int, int32,
// uint32, int64 and uint64 keys hash to themselves with a zero
// fingerprint; everything else goes through xxhash/farmhash on the
// key's byte or string form.
func keyToHash(key any) (uint64, uint64) {
	if key == nil {
		return 0, 0
	}
	switch k := key.(type) {
	case string:
		return xxhash.Sum64String(k), farm.Fingerprint64([]byte(k))
	case []byte:
		return xxhash.Sum64(k), farm.Fingerprint64(k)
	case byte:
		return uint64(k), 0
	case int:
		return uint64(k), 0
	case int32:
		return uint64(k), 0
	case uint32:
		return uint64(k), 0
	case int64:
		return uint64(k), 0
	case uint64:
		return k, 0
	default:
		s := fmt.Sprintf("%v", key)
		return xxhash.Sum64String(s), farm.Fingerprint64([]byte(s))
	}
}
