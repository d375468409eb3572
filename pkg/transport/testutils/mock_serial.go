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

// Package testutils provides a mock serial port for transport and session
// tests.
package testutils

import (
	"errors"
	"strings"
	"time"

	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
)

// MockSerialPort is a scriptable in-memory serial port. It captures written
// lines and feeds queued response bytes to readers, optionally driven by a
// Responder callback that reacts to each written line like a device would.
type MockSerialPort struct {
	ReadError  error
	CloseError error
	TimeoutErr error

	// Responder, when set, is invoked once per complete written line and its
	// return lines are queued as read data.
	Responder func(line string) []string

	readBuf  []byte
	writeBuf []byte
	writes   []string
	Closed   bool
	mu       syncutil.RWMutex
}

// NewMockSerialPort creates an empty mock port.
func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// SetReadError injects a read failure (thread-safe).
func (m *MockSerialPort) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadError = err
}

// Feed queues lines (CRLF-terminated) as pending read data.
func (m *MockSerialPort) Feed(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		m.readBuf = append(m.readBuf, []byte(line+"\r\n")...)
	}
}

// FeedRaw queues raw bytes as pending read data.
func (m *MockSerialPort) FeedRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf = append(m.readBuf, data...)
}

// Read pops queued data, or simulates a read timeout by returning (0, nil)
// after a short delay, matching real serial port timeout behavior.
func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.mu.Unlock()
		return 0, err
	}
	if len(m.readBuf) > 0 {
		n := copy(p, m.readBuf)
		m.readBuf = m.readBuf[n:]
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

// Write captures outbound bytes, splits them into lines and runs the
// Responder for each complete line.
func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, errors.New("port closed")
	}

	m.writeBuf = append(m.writeBuf, p...)

	var completed []string
	for {
		idx := strings.Index(string(m.writeBuf), "\r\n")
		if idx < 0 {
			break
		}
		completed = append(completed, string(m.writeBuf[:idx]))
		m.writeBuf = m.writeBuf[idx+2:]
	}
	m.writes = append(m.writes, completed...)
	responder := m.Responder
	m.mu.Unlock()

	if responder != nil {
		for _, line := range completed {
			if responses := responder(line); len(responses) > 0 {
				m.Feed(responses...)
			}
		}
	}

	return len(p), nil
}

// Writes returns a copy of all complete lines written so far.
func (m *MockSerialPort) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// Close marks the port closed.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	m.Closed = true
	closeError := m.CloseError
	m.mu.Unlock()
	return closeError
}

// SetReadTimeout implements the SerialPort interface.
func (m *MockSerialPort) SetReadTimeout(_ time.Duration) error {
	return m.TimeoutErr
}

// IsClosed returns true if the port has been closed (thread-safe).
func (m *MockSerialPort) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Closed
}
