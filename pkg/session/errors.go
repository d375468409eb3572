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

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no response arrived within the exchange deadline.
	ErrTimeout = errors.New("timed out waiting for device response")

	// ErrCancelled means the wait was aborted by disconnect or context
	// cancellation, distinct from device silence.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrExchangePending rejects a second concurrent exchange. Commands are
	// strictly serialized; queueing is a caller error.
	ErrExchangePending = errors.New("another exchange is already pending")

	// ErrNotReady is returned when an operation requires a connected (for
	// negotiation) or negotiated (for everything else) session.
	ErrNotReady = errors.New("session not ready")

	// ErrProtocolViolation marks a response of unexpected shape. It aborts
	// the current phase only, not the whole session.
	ErrProtocolViolation = errors.New("unexpected device response")
)

// NegotiationError reports a device that never answered the version query.
type NegotiationError struct {
	Last     error
	Attempts int
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("device unreachable: no version response after %d attempts", e.Attempts)
}

func (e *NegotiationError) Unwrap() error { return e.Last }

// TransferError reports an aborted firmware transfer. FrameIndex is the
// zero-based offending frame, or -1 when the failure happened outside the
// frame stream (start or finalize).
type TransferError struct {
	Err        error
	Phase      string
	DeviceText string
	FrameIndex int
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("firmware transfer failed during %s", e.Phase)
	if e.FrameIndex >= 0 {
		msg = fmt.Sprintf("%s at frame %d", msg, e.FrameIndex)
	}
	if e.DeviceText != "" {
		msg = fmt.Sprintf("%s (device said: %q)", msg, e.DeviceText)
	}
	return msg
}

func (e *TransferError) Unwrap() error { return e.Err }

// LimitsError reports a failed limits configuration. It is attached as a
// warning to an otherwise successful update, never escalated to a transfer
// failure.
type LimitsError struct {
	Err        error
	DeviceText string
	Attempts   int
}

func (e *LimitsError) Error() string {
	msg := fmt.Sprintf("limits configuration failed after %d attempts", e.Attempts)
	if e.DeviceText != "" {
		msg = fmt.Sprintf("%s (device said: %q)", msg, e.DeviceText)
	}
	return msg
}

func (e *LimitsError) Unwrap() error { return e.Err }
