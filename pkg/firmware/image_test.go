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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const currentFormatImage = "# CAN reader firmware\r\n" +
	"D12345\r\n" +
	"V3.0.18b\r\n" +
	"N3\r\n" +
	"Cdeadbeef\r\n" +
	"@FRM,000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2021222324\r\n" +
	"@FRM,25262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f4041424344454647484950\r\n" +
	"@FRM,5152535455565758595a5b5c5d5e5f606162636465666768696a6b6c6d6e6f70717273747576\r\n"

func TestParseReader_CurrentFormat(t *testing.T) {
	t.Parallel()

	img, err := ParseReader(strings.NewReader(currentFormatImage))
	require.NoError(t, err)

	assert.Equal(t, "12345", img.SerialNumber)
	assert.Equal(t, "3.0.18b", img.Version.String())
	assert.Equal(t, 3, img.FrameCount)
	assert.Equal(t, "deadbeef", img.Checksum)
	require.Len(t, img.Frames, 3)
	assert.True(t, strings.HasPrefix(img.Frames[0], FramePrefix), "frames stored verbatim")
}

func TestParseReader_LegacyFormatWithSpaces(t *testing.T) {
	t.Parallel()

	legacy := "# legacy export\n" +
		"D 99887\n" +
		"V 2.4.0\n" +
		"N 1\n" +
		"C cafe\n" +
		"@FRM,0011223344\n"

	img, err := ParseReader(strings.NewReader(legacy))
	require.NoError(t, err)

	assert.Equal(t, "99887", img.SerialNumber)
	assert.Equal(t, "2.4.0", img.Version.String())
	assert.Equal(t, 1, img.FrameCount)
	assert.Equal(t, "cafe", img.Checksum)
	assert.Len(t, img.Frames, 1)
}

func TestParseReader_ZeroFramesRejected(t *testing.T) {
	t.Parallel()

	headerOnly := "D12345\nV3.0.18b\nN3\nCdeadbeef\n"

	_, err := ParseReader(strings.NewReader(headerOnly))
	require.ErrorIs(t, err, ErrNoFrames)
}

func TestParseReader_BadHeaderRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown tag", input: "X12345\n@FRM,00\n"},
		{name: "bad version", input: "Vbanana\n@FRM,00\n"},
		{name: "bad frame count", input: "Nlots\n@FRM,00\n"},
		{name: "empty tag value", input: "D\n@FRM,00\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseReader(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	img, err := ParseReader(strings.NewReader(currentFormatImage))
	require.NoError(t, err)

	reparsed, err := ParseReader(strings.NewReader(img.Header() + strings.Join(img.Frames, "\r\n") + "\r\n"))
	require.NoError(t, err)

	assert.Equal(t, img.SerialNumber, reparsed.SerialNumber)
	assert.Equal(t, img.Version, reparsed.Version)
	assert.Equal(t, img.FrameCount, reparsed.FrameCount)
	assert.Equal(t, img.Checksum, reparsed.Checksum)
	assert.Equal(t, img.Frames, reparsed.Frames)
}
