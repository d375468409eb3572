// Setera Updater
// Copyright (c) 2026 Pedro Setera
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Setera Updater.
//
// Setera Updater is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Setera Updater is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Setera Updater.  If not, see <http://www.gnu.org/licenses/>.

// Package config manages the on-disk TOML configuration for the updater.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "SETERA_UPDATER_CFG"
)

type Values struct {
	Port           string `toml:"port,omitempty"`
	FirmwareFolder string `toml:"firmware_folder,omitempty"`
	Limits         Limits `toml:"limits"`
	ConfigSchema   int    `toml:"config_schema"`
	AutoUpdate     bool   `toml:"auto_update"`
	DebugLogging   bool   `toml:"debug_logging"`
}

type Limits struct {
	SpeedLimitKmh int `toml:"speed_limit_kmh"`
	RPMLimit      int `toml:"rpm_limit"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Limits: Limits{
		SpeedLimitKmh: 90,
		RPMLimit:      2400,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		mu:       syncutil.RWMutex{},
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top.
	// This ensures fields not present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	c.vals = newVals

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Instance) Port() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Port
}

func (c *Instance) SetPort(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Port = port
}

func (c *Instance) FirmwareFolder() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.FirmwareFolder
}

// SetFirmwareFolder records the last used firmware folder so it persists
// across runs once Save is called.
func (c *Instance) SetFirmwareFolder(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.FirmwareFolder = path
}

func (c *Instance) Limits() Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Limits
}

func (c *Instance) SetLimits(limits Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Limits = limits
}

func (c *Instance) AutoUpdate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.AutoUpdate
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}
