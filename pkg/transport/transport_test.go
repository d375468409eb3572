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

package transport

import (
	"testing"
	"time"

	"github.com/pedro-setera/setera-updater/pkg/transport/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func openMock(t *testing.T) (*Transport, *testutils.MockSerialPort) {
	t.Helper()

	mock := testutils.NewMockSerialPort()
	tr := NewWithFactory(func(_ string, _ *serial.Mode) (SerialPort, error) {
		return mock, nil
	})
	require.NoError(t, tr.Open("/dev/ttyTEST"))
	t.Cleanup(func() { _ = tr.Close() })

	return tr, mock
}

func readLine(t *testing.T, tr *Transport) string {
	t.Helper()

	select {
	case line, ok := <-tr.Lines():
		require.True(t, ok, "lines channel closed unexpectedly")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestTransport_FramesLinesOnCRLF(t *testing.T) {
	t.Parallel()

	tr, mock := openMock(t)

	mock.Feed("VERSIONS FW3.0.12 HW1.2.0 BL0.9.1 SN12345", "FR1,2,100")

	assert.Equal(t, "VERSIONS FW3.0.12 HW1.2.0 BL0.9.1 SN12345", readLine(t, tr))
	assert.Equal(t, "FR1,2,100", readLine(t, tr))
}

func TestTransport_PartialLineAssembled(t *testing.T) {
	t.Parallel()

	tr, mock := openMock(t)

	mock.FeedRaw([]byte("LIM"))
	mock.FeedRaw([]byte("ITS:OK\r\n"))

	assert.Equal(t, "LIMITS:OK", readLine(t, tr))
}

func TestTransport_MalformedBytesSurfacedAsHex(t *testing.T) {
	t.Parallel()

	tr, mock := openMock(t)

	mock.FeedRaw([]byte{0xff, 0xfe, 0x01, '\r', '\n'})

	line := readLine(t, tr)
	assert.Equal(t, "HEX:fffe01", line)
}

func TestTransport_SendLineAppendsTerminator(t *testing.T) {
	t.Parallel()

	tr, mock := openMock(t)

	require.NoError(t, tr.SendLine("VERSIONS"))

	writes := mock.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "VERSIONS", writes[0])
}

func TestTransport_SendLineWhenClosed(t *testing.T) {
	t.Parallel()

	tr := New()
	err := tr.SendLine("VERSIONS")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestTransport_CloseIdempotent(t *testing.T) {
	t.Parallel()

	tr, mock := openMock(t)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, mock.IsClosed())
	assert.False(t, tr.Connected())
}

func TestTransport_CloseEndsLinesChannel(t *testing.T) {
	t.Parallel()

	tr, _ := openMock(t)

	lines := tr.Lines()
	require.NoError(t, tr.Close())

	select {
	case _, ok := <-lines:
		assert.False(t, ok, "lines channel should be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("lines channel not closed after Close")
	}
}

func TestTransport_ReadErrorClosesTransport(t *testing.T) {
	t.Parallel()

	mock := testutils.NewMockSerialPort()
	tr := NewWithFactory(func(_ string, _ *serial.Mode) (SerialPort, error) {
		return mock, nil
	})
	require.NoError(t, tr.Open("/dev/ttyTEST"))

	mock.SetReadError(assert.AnError)

	select {
	case _, ok := <-tr.Lines():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not shut down on read error")
	}
	assert.False(t, tr.Connected())
}

func TestTransport_OpenTwiceRejected(t *testing.T) {
	t.Parallel()

	tr, _ := openMock(t)

	err := tr.Open("/dev/ttyOTHER")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}
