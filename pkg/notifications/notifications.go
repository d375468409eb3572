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

// Package notifications defines the event messages the core publishes for
// UI layers. The core never calls a UI directly; consumers subscribe via the
// service broker.
package notifications

// Notification is a single event published by the core.
type Notification struct {
	Params any
	Method string
}

const (
	// DeviceAwake and DeviceDormant track heartbeat-derived liveness,
	// used by UI layers to enable or disable controls.
	DeviceAwake   = "device.awake"
	DeviceDormant = "device.dormant"

	// SessionState is published on every session state transition.
	SessionState = "session.state"

	// TransferProgress is published after each acknowledged firmware frame.
	TransferProgress = "transfer.progress"
)

// ProgressParams accompanies TransferProgress.
type ProgressParams struct {
	FramesSent  int
	TotalFrames int
}

// StateParams accompanies SessionState.
type StateParams struct {
	State string
}
