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

// Package transport owns the serial link to the CAN reader, framing the
// receive stream into CRLF-terminated lines.
package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// BaudRate is fixed by the device.
const BaudRate = 115200

// HexLinePrefix marks a diagnostic line carrying bytes that did not decode
// as text. Malformed input is surfaced rather than dropped.
const HexLinePrefix = "HEX:"

// ErrNotOpen is returned by SendLine when the port is not open.
var ErrNotOpen = errors.New("transport not open")

// SerialPort defines the interface for serial port operations (for mocking in tests).
type SerialPort interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// SerialPortFactory creates a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory is the default factory that opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// Transport is a single-owner duplex serial channel. One goroutine reads
// continuously and publishes framed lines on Lines; all writes are
// serialized through SendLine.
type Transport struct {
	port        SerialPort
	portFactory SerialPortFactory
	lines       chan string
	done        chan struct{}
	path        string
	open        bool
	writeMu     syncutil.Mutex
	mu          syncutil.RWMutex // protects open, port
}

// New creates a closed Transport using the real serial port factory.
func New() *Transport {
	return &Transport{
		portFactory: DefaultSerialPortFactory,
	}
}

// NewWithFactory creates a Transport with a custom port factory, used by
// tests to inject a mock port.
func NewWithFactory(factory SerialPortFactory) *Transport {
	return &Transport{
		portFactory: factory,
	}
}

// Open connects to the named port at the device's fixed rate and starts the
// receive loop.
func (t *Transport) Open(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return fmt.Errorf("transport already open on %s", t.path)
	}

	port, err := t.portFactory(path, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	err = port.SetReadTimeout(100 * time.Millisecond)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	t.port = port
	t.path = path
	t.open = true
	t.lines = make(chan string, 64)
	t.done = make(chan struct{})

	go t.receiveLoop(port, t.lines, t.done)

	return nil
}

// Lines returns the channel of framed inbound lines. The channel is closed
// when the transport closes.
func (t *Transport) Lines() <-chan string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lines
}

// Path returns the open port identifier.
func (t *Transport) Path() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.path
}

// Connected reports whether the port is open.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// SendLine appends the CRLF terminator and writes the command. Writes are
// serialized: the transport has a single owner and no two logical flows may
// write concurrently.
func (t *Transport) SendLine(text string) error {
	t.mu.RLock()
	port := t.port
	open := t.open
	t.mu.RUnlock()

	if !open || port == nil {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_, err := port.Write([]byte(text + "\r\n"))
	if err != nil {
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	return nil
}

// Close stops the receive loop and releases the port. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	port := t.port
	done := t.done
	t.mu.Unlock()

	close(done)

	if port != nil {
		err := port.Close()
		if err != nil {
			return fmt.Errorf("failed to close serial port: %w", err)
		}
	}

	return nil
}

func (t *Transport) receiveLoop(port SerialPort, lines chan<- string, done <-chan struct{}) {
	defer close(lines)

	var lineBuf []byte

	for {
		select {
		case <-done:
			return
		default:
		}

		buf := make([]byte, 1024)
		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-done:
				// expected: Close released the port under us
			default:
				log.Error().Err(err).Msg("failed to read from serial port")
				if closeErr := t.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("failed to close serial port")
				}
			}
			return
		}

		for i := 0; i < n; i++ {
			if buf[i] != '\n' {
				lineBuf = append(lineBuf, buf[i])
				continue
			}

			line := string(lineBuf)
			lineBuf = nil

			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if line == "" {
				continue
			}

			if !utf8.ValidString(line) {
				// surface garbage bytes for diagnostics instead of dropping
				line = HexLinePrefix + hex.EncodeToString([]byte(line))
			}

			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}
}
