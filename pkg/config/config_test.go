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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_CreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, CfgFile))
	assert.Equal(t, 90, cfg.Limits().SpeedLimitKmh)
	assert.Equal(t, 2400, cfg.Limits().RPMLimit)
	assert.False(t, cfg.AutoUpdate())
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	cfg.SetPort("/dev/ttyUSB0")
	cfg.SetFirmwareFolder("/srv/firmware")
	cfg.SetLimits(Limits{SpeedLimitKmh: 110, RPMLimit: 3000})
	require.NoError(t, cfg.Save())

	reloaded, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", reloaded.Port())
	assert.Equal(t, "/srv/firmware", reloaded.FirmwareFolder())
	assert.Equal(t, 110, reloaded.Limits().SpeedLimitKmh)
	assert.Equal(t, 3000, reloaded.Limits().RPMLimit)
}

func TestConfig_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, CfgFile)
	contents := "config_schema = 1\nport = \"COM7\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "COM7", cfg.Port())
	assert.Equal(t, 90, cfg.Limits().SpeedLimitKmh, "missing fields retain defaults")
}

func TestConfig_SchemaMismatchRejected(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, CfgFile)
	require.NoError(t, os.WriteFile(path, []byte("config_schema = 99\n"), 0o600))

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version mismatch")
}
