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
	"fmt"
	"regexp"
	"strconv"
)

// Version is a device firmware version of the form major.minor.patch with an
// optional trailing lowercase letter, e.g. "3.0.18b".
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Letter byte // 0 when absent
}

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)([a-z])?$`)

// ParseVersion parses a version string. Returns an error if the string does
// not match major.minor.patch with an optional trailing letter.
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version string: %q", s)
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])

	v := Version{Major: major, Minor: minor, Patch: patch}
	if m[4] != "" {
		v.Letter = m[4][0]
	}

	return v, nil
}

// Compare returns -1 if v is older than o, 0 if equal and 1 if newer.
// The numeric triple is compared first; at an equal triple a version with no
// letter sorts below any lettered version, and letters compare byte-wise.
func (v Version) Compare(o Version) int {
	pairs := [][2]int{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
		{int(v.Letter), int(o.Letter)},
	}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Letter != 0 {
		s += string(v.Letter)
	}
	return s
}
