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
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrNoMatch is returned when no image file in the search folder matches the
// requested serial number.
var ErrNoMatch = errors.New("no firmware image matches serial number")

// Image files are named CL_v<version>_sn<serial>_asc.frm.
var fileNameRe = regexp.MustCompile(`^CL_v(\d+\.\d+\.\d+[a-z]?)_sn(.+)_asc\.frm$`)

// Candidate is an image file found in the search folder.
type Candidate struct {
	Path         string
	SerialNumber string
	Version      Version
}

// FindForSerial searches folder for image files matching serialNumber.
// When several files match, the one with the highest version wins and the
// discarded alternatives are logged.
func FindForSerial(fs afero.Fs, folder, serialNumber string) (*Candidate, error) {
	entries, err := afero.ReadDir(fs, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read firmware folder: %w", err)
	}

	var matches []Candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		m := fileNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if m[2] != serialNumber {
			continue
		}

		v, err := ParseVersion(m[1])
		if err != nil {
			log.Warn().Msgf("skipping image with bad version in name: %s", e.Name())
			continue
		}

		matches = append(matches, Candidate{
			Path:         filepath.Join(folder, e.Name()),
			SerialNumber: serialNumber,
			Version:      v,
		})
	}

	if len(matches) == 0 {
		return nil, ErrNoMatch
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Version.Compare(best.Version) > 0 {
			best = m
		}
	}

	for _, m := range matches {
		if m.Path != best.Path {
			log.Info().Msgf("discarding older candidate image: %s", m.Path)
		}
	}

	return &best, nil
}
