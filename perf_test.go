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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPerfCountersExportStats(t *testing.T) {
	front := newTestHandle(t, HandleConfig{Name: "front", EnablePerformanceCounters: true}, time.Hour)
	back := newTestHandle(t, HandleConfig{Name: "back"}, time.Hour)
	m, err := NewManager[string, string](DefaultManagerConfig(), zerolog.Nop(), front, back)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.True(t, front.Stats().Enabled(),
		"performance counters force statistics on")

	require.NoError(t, m.Put("k", "v"))
	_, err = m.Get("k")
	require.NoError(t, err)

	p := NewPerfCounters(m)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	require.Contains(t, body, "tiercache_handle_operations_total")
	require.Contains(t, body, `handle="front"`)
	require.NotContains(t, body, `handle="back"`,
		"handles without performance counters are not exported")
	require.Contains(t, body, "tiercache_handle_items")
}
