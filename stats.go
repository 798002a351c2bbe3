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
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

type statType int

const (
	statAddCalls statType = iota
	statPutCalls
	statGetCalls
	statHits
	statMisses
	statRemoveCalls
	statClearCalls
	statItems
	// This should be the final enum. Other enums should be set before this.
	statMax
)

func statName(t statType) string {
	switch t {
	case statAddCalls:
		return "add-calls"
	case statPutCalls:
		return "put-calls"
	case statGetCalls:
		return "get-calls"
	case statHits:
		return "hits"
	case statMisses:
		return "misses"
	case statRemoveCalls:
		return "remove-calls"
	case statClearCalls:
		return "clear-calls"
	case statItems:
		return "items"
	default:
		return "unidentified"
	}
}

// Stats tracks per-handle operation counters. All mutations and reads
// are gated by the enabled flag; a disabled Stats reads as zero and
// costs nothing to update.
type Stats struct {
	enabled  bool
	counters [statMax]int64
}

// NewStats returns a counter set. Pass enabled=false for a no-op set.
func NewStats(enabled bool) *Stats {
	return &Stats{enabled: enabled}
}

// Enabled reports whether counters are being collected.
func (s *Stats) Enabled() bool { return s != nil && s.enabled }

func (s *Stats) add(t statType, delta int64) {
	if !s.Enabled() {
		return
	}
	atomic.AddInt64(&s.counters[t], delta)
}

func (s *Stats) get(t statType) int64 {
	if !s.Enabled() {
		return 0
	}
	return atomic.LoadInt64(&s.counters[t])
}

func (s *Stats) AddCalls() int64    { return s.get(statAddCalls) }
func (s *Stats) PutCalls() int64    { return s.get(statPutCalls) }
func (s *Stats) GetCalls() int64    { return s.get(statGetCalls) }
func (s *Stats) Hits() int64        { return s.get(statHits) }
func (s *Stats) Misses() int64      { return s.get(statMisses) }
func (s *Stats) RemoveCalls() int64 { return s.get(statRemoveCalls) }
func (s *Stats) ClearCalls() int64  { return s.get(statClearCalls) }
func (s *Stats) Items() int64       { return s.get(statItems) }

// OnAdd records an add attempt; success grows the item count.
func (s *Stats) OnAdd(success bool) {
	s.add(statAddCalls, 1)
	if success {
		s.add(statItems, 1)
	}
}

// OnGet records a read and its outcome.
func (s *Stats) OnGet(hit bool) {
	s.add(statGetCalls, 1)
	if hit {
		s.add(statHits, 1)
	} else {
		s.add(statMisses, 1)
	}
}

// OnPut records a write; an insert grows the item count, an overwrite
// does not.
func (s *Stats) OnPut(insert bool) {
	s.add(statPutCalls, 1)
	if insert {
		s.add(statItems, 1)
	}
}

// OnRemove records a remove call; a successful one shrinks the item
// count.
func (s *Stats) OnRemove(removed bool) {
	s.add(statRemoveCalls, 1)
	if removed {
		s.add(statItems, -1)
	}
}

// OnEvict records a removal decided inside the handle (expiration or
// pressure); it shrinks the item count without counting a remove call.
func (s *Stats) OnEvict() {
	s.add(statItems, -1)
}

// OnClear records a clear and zeroes the item count.
func (s *Stats) OnClear() {
	s.add(statClearCalls, 1)
	s.resetItems()
}

func (s *Stats) resetItems() {
	if !s.Enabled() {
		return
	}
	atomic.StoreInt64(&s.counters[statItems], 0)
}

// OnUpdate folds an update result into the counters. Each try counts
// as one internal get and hit, and the whole update as one logical
// put. Hit-ratio reporting depends on this accounting; keep it.
func (s *Stats) OnUpdate(tries int) {
	s.add(statGetCalls, int64(tries))
	s.add(statHits, int64(tries))
	s.add(statPutCalls, 1)
}

// Ratio returns the hit ratio, or 0 when nothing was read yet.
func (s *Stats) Ratio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits == 0 && misses == 0 {
		return 0.0
	}
	return float64(hits) / float64(hits+misses)
}

func (s *Stats) String() string {
	var buf bytes.Buffer
	for t := statType(0); t < statMax; t++ {
		fmt.Fprintf(&buf, "%s: %s ", statName(t), humanize.Comma(s.get(t)))
	}
	fmt.Fprintf(&buf, "hit-ratio: %.2f", s.Ratio())
	return buf.String()
}
