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

package protocol

import "fmt"

const (
	MinSpeedLimitKmh = 10
	MaxSpeedLimitKmh = 200
	MinRPMLimit      = 100
	MaxRPMLimit      = 10000

	// DefaultSpeedLimitKmh and DefaultRPMLimit are applied when the operator
	// configures nothing.
	DefaultSpeedLimitKmh = 90
	DefaultRPMLimit      = 2400

	rpmStep = 64
)

// LimitsConfig is the post-update configuration sent to the device.
// Immutable once submitted.
type LimitsConfig struct {
	SpeedLimitKmh int
	RPMLimit      int
}

// DefaultLimits returns the fleet default limits.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		SpeedLimitKmh: DefaultSpeedLimitKmh,
		RPMLimit:      DefaultRPMLimit,
	}
}

// Validate checks the configured ranges before any command is issued.
func (l LimitsConfig) Validate() error {
	if l.SpeedLimitKmh < MinSpeedLimitKmh || l.SpeedLimitKmh > MaxSpeedLimitKmh {
		return fmt.Errorf("speed limit %d km/h out of range %d-%d",
			l.SpeedLimitKmh, MinSpeedLimitKmh, MaxSpeedLimitKmh)
	}
	if l.RPMLimit < MinRPMLimit || l.RPMLimit > MaxRPMLimit {
		return fmt.Errorf("rpm limit %d out of range %d-%d",
			l.RPMLimit, MinRPMLimit, MaxRPMLimit)
	}
	return nil
}

// NormalizedRPM rounds the RPM limit up to the nearest multiple of 64, the
// device's internal granularity. Near the ceiling it rounds down instead, so
// a validated value never normalizes above MaxRPMLimit.
func (l LimitsConfig) NormalizedRPM() int {
	if l.RPMLimit%rpmStep == 0 {
		return l.RPMLimit
	}
	n := (l.RPMLimit/rpmStep + 1) * rpmStep
	if n > MaxRPMLimit {
		n -= rpmStep
	}
	return n
}

// Command encodes the limits configuration command line.
func (l LimitsConfig) Command() string {
	return fmt.Sprintf("LIMITS,%d,0,%d", l.SpeedLimitKmh, l.NormalizedRPM())
}
