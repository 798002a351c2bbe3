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

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "cache", cfg.Name)
	require.Equal(t, UpdateModeUp, cfg.UpdateMode)
	require.Equal(t, 50, cfg.MaxRetries)
	require.Equal(t, 100*time.Millisecond, cfg.RetryTimeout)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TIERCACHE_NAME", "orders")
	t.Setenv("TIERCACHE_UPDATE_MODE", "full")
	t.Setenv("TIERCACHE_MAX_RETRIES", "7")
	t.Setenv("TIERCACHE_RETRY_TIMEOUT", "250ms")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "orders", cfg.Name)
	require.Equal(t, UpdateModeFull, cfg.UpdateMode)
	require.Equal(t, 7, cfg.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.RetryTimeout)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "cache", cfg.Name)
	require.Equal(t, UpdateModeUp, cfg.UpdateMode)
	require.Equal(t, 50, cfg.MaxRetries)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MaxRetries = -1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)

	cfg = DefaultManagerConfig()
	cfg.Name = ""
	require.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)

	cfg = DefaultManagerConfig()
	cfg.RetryTimeout = -time.Second
	require.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)
}

func TestParseUpdateMode(t *testing.T) {
	for in, want := range map[string]UpdateMode{
		"none": UpdateModeNone,
		"Up":   UpdateModeUp,
		"FULL": UpdateModeFull,
	} {
		got, err := ParseUpdateMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseUpdateMode("sideways")
	require.ErrorIs(t, err, ErrInvalidArgument)

	var m UpdateMode
	require.NoError(t, m.Decode("full"))
	require.Equal(t, UpdateModeFull, m)
}
