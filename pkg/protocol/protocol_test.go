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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionsResponse_V3Plus(t *testing.T) {
	t.Parallel()

	info, err := ParseVersionsResponse("VERSIONS FW3.0.12 HW1.2.0 BL0.9.1 SN12345")
	require.NoError(t, err)

	assert.Equal(t, VariantV3Plus, info.Variant)
	assert.Equal(t, "12345", info.SerialNumber)
	assert.Equal(t, "3.0.12", info.FirmwareVersion.String())
}

func TestParseVersionsResponse_V2Legacy(t *testing.T) {
	t.Parallel()

	info, err := ParseVersionsResponse("VERSION 2.4.7a SN99887")
	require.NoError(t, err)

	assert.Equal(t, VariantV2, info.Variant)
	assert.Equal(t, "99887", info.SerialNumber)
	assert.Equal(t, "2.4.7a", info.FirmwareVersion.String())
}

func TestParseVersionsResponse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
	}{
		{name: "heartbeat", line: "FR1,2,100,200"},
		{name: "missing serial", line: "VERSIONS FW3.0.12 HW1.2.0"},
		{name: "missing fw field", line: "VERSIONS HW1.2.0 SN12345"},
		{name: "legacy missing version", line: "VERSION SN12345"},
		{name: "empty", line: ""},
		{name: "bad version token", line: "VERSION potato SN12345"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseVersionsResponse(tt.line)
			require.Error(t, err)
		})
	}
}

func TestIsHeartbeat(t *testing.T) {
	t.Parallel()

	assert.True(t, IsHeartbeat("FR1,2,12345"))
	assert.False(t, IsHeartbeat("VERSIONS FW3.0.12 SN12345"))
	assert.False(t, IsHeartbeat("OK"))
}

func TestIsSuccess(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSuccess("OK"))
	assert.True(t, IsSuccess("@FRM,START:OK"))
	assert.True(t, IsSuccess("LIMITS:OK"))
	assert.False(t, IsSuccess("ERR#82"))
}

func TestAsDeviceError(t *testing.T) {
	t.Parallel()

	devErr := AsDeviceError("ERR#82")
	require.NotNil(t, devErr)
	assert.Equal(t, CodeSerialMismatch, devErr.Code)
	assert.Contains(t, devErr.Error(), "serial number mismatch")

	devErr = AsDeviceError("ERR#7")
	require.NotNil(t, devErr)
	assert.Equal(t, 7, devErr.Code)
	assert.Contains(t, devErr.Error(), "error code 7")

	assert.Nil(t, AsDeviceError("OK"))
	assert.Nil(t, AsDeviceError("ERR#notanumber"))
}

func TestLimitsConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultLimits().Validate())
	assert.NoError(t, LimitsConfig{SpeedLimitKmh: 10, RPMLimit: 100}.Validate())
	assert.NoError(t, LimitsConfig{SpeedLimitKmh: 200, RPMLimit: 10000}.Validate())
	assert.Error(t, LimitsConfig{SpeedLimitKmh: 9, RPMLimit: 2400}.Validate())
	assert.Error(t, LimitsConfig{SpeedLimitKmh: 201, RPMLimit: 2400}.Validate())
	assert.Error(t, LimitsConfig{SpeedLimitKmh: 90, RPMLimit: 99}.Validate())
	assert.Error(t, LimitsConfig{SpeedLimitKmh: 90, RPMLimit: 10001}.Validate())
}

func TestLimitsConfig_Command(t *testing.T) {
	t.Parallel()

	// 2400 is not a multiple of 64 and rounds up to 2432
	assert.Equal(t, "LIMITS,90,0,2432", DefaultLimits().Command())
	// exact multiples stay untouched
	assert.Equal(t, "LIMITS,120,0,2560", LimitsConfig{SpeedLimitKmh: 120, RPMLimit: 2560}.Command())
	assert.Equal(t, 128, LimitsConfig{RPMLimit: 65}.NormalizedRPM())
	assert.Equal(t, 128, LimitsConfig{RPMLimit: 128}.NormalizedRPM())
}

func TestLimitsConfig_NormalizedRPMNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	// 10000 is valid but not a multiple of 64; rounding up would land on
	// 10048, so the ceiling rounds down instead
	l := LimitsConfig{SpeedLimitKmh: 90, RPMLimit: MaxRPMLimit}
	require.NoError(t, l.Validate())
	assert.Equal(t, 9984, l.NormalizedRPM())
	assert.Equal(t, "LIMITS,90,0,9984", l.Command())

	for rpm := MinRPMLimit; rpm <= MaxRPMLimit; rpm += 7 {
		n := LimitsConfig{SpeedLimitKmh: 90, RPMLimit: rpm}.NormalizedRPM()
		assert.LessOrEqual(t, n, MaxRPMLimit, "rpm %d", rpm)
		assert.Zero(t, n%64, "rpm %d", rpm)
	}
}
