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
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// UpdateMode is the policy for keeping layers in sync when a lower
// handle drops an item.
type UpdateMode uint8

const (
	// UpdateModeNone leaves other handles untouched.
	UpdateModeNone UpdateMode = iota
	// UpdateModeUp evicts the key from all handles in front of the
	// reporting one.
	UpdateModeUp
	// UpdateModeFull evicts the key from every other handle.
	UpdateModeFull
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateModeNone:
		return "none"
	case UpdateModeUp:
		return "up"
	case UpdateModeFull:
		return "full"
	default:
		return "unidentified"
	}
}

// ParseUpdateMode maps a config string to an UpdateMode.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return UpdateModeNone, nil
	case "up":
		return UpdateModeUp, nil
	case "full":
		return UpdateModeFull, nil
	default:
		return UpdateModeNone, errors.Wrapf(ErrInvalidArgument, "unknown update mode %q", s)
	}
}

// Decode implements envconfig.Decoder.
func (m *UpdateMode) Decode(value string) error {
	mode, err := ParseUpdateMode(value)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ManagerConfig carries the coordinator-level settings.
type ManagerConfig struct {
	// Name identifies the cache in logs and events.
	Name string `envconfig:"NAME" default:"cache"`
	// UpdateMode governs cross-layer eviction on handle-originated
	// removals.
	UpdateMode UpdateMode `envconfig:"UPDATE_MODE" default:"up"`
	// MaxRetries bounds the retry loops of Update, AddOrUpdate and
	// GetOrAdd.
	MaxRetries int `envconfig:"MAX_RETRIES" default:"50"`
	// RetryTimeout is the pause distributed handles should take
	// between optimistic retries.
	RetryTimeout time.Duration `envconfig:"RETRY_TIMEOUT" default:"100ms"`
}

// DefaultManagerConfig returns the stock configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Name:         "cache",
		UpdateMode:   UpdateModeUp,
		MaxRetries:   50,
		RetryTimeout: 100 * time.Millisecond,
	}
}

// ConfigFromEnv loads a ManagerConfig from TIERCACHE_* environment
// variables.
func ConfigFromEnv() (ManagerConfig, error) {
	var cfg ManagerConfig
	if err := envconfig.Process("tiercache", &cfg); err != nil {
		return cfg, errors.Wrap(err, "loading config from environment")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configured ranges.
func (c *ManagerConfig) Validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalidArgument, "cache name must not be empty")
	}
	if c.MaxRetries < 0 {
		return errors.Wrap(ErrInvalidArgument, "max retries must not be negative")
	}
	if c.RetryTimeout < 0 {
		return errors.Wrap(ErrInvalidArgument, "retry timeout must not be negative")
	}
	return nil
}
