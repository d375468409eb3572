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

package firmware

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte{}, 0o644))
}

func TestFindForSerial_PicksHighestVersion(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	folder := "/firmware"
	require.NoError(t, fs.MkdirAll(folder, 0o755))

	touch(t, fs, filepath.Join(folder, "CL_v3.0.12_sn12345_asc.frm"))
	touch(t, fs, filepath.Join(folder, "CL_v3.1.0_sn12345_asc.frm"))
	touch(t, fs, filepath.Join(folder, "CL_v3.0.18b_sn12345_asc.frm"))
	touch(t, fs, filepath.Join(folder, "CL_v9.9.9_sn99999_asc.frm"))

	c, err := FindForSerial(fs, folder, "12345")
	require.NoError(t, err)

	assert.Equal(t, "3.1.0", c.Version.String())
	assert.Equal(t, filepath.Join(folder, "CL_v3.1.0_sn12345_asc.frm"), c.Path)
	assert.Equal(t, "12345", c.SerialNumber)
}

func TestFindForSerial_NoMatch(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	folder := "/firmware"
	require.NoError(t, fs.MkdirAll(folder, 0o755))

	touch(t, fs, filepath.Join(folder, "CL_v3.0.12_sn55555_asc.frm"))
	touch(t, fs, filepath.Join(folder, "notes.txt"))

	_, err := FindForSerial(fs, folder, "12345")
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestFindForSerial_IgnoresNonMatchingNames(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	folder := "/firmware"
	require.NoError(t, fs.MkdirAll(folder, 0o755))

	touch(t, fs, filepath.Join(folder, "CL_v3.0.12_sn12345_asc.frm.bak"))
	touch(t, fs, filepath.Join(folder, "CL_sn12345_asc.frm"))
	touch(t, fs, filepath.Join(folder, "CL_v3.0.12_sn12345_asc.frm"))

	c, err := FindForSerial(fs, folder, "12345")
	require.NoError(t, err)
	assert.Equal(t, "3.0.12", c.Version.String())
}

func TestFindForSerial_MissingFolder(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	_, err := FindForSerial(fs, "/nowhere", "12345")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch)
}
