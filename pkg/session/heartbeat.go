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
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	"github.com/pedro-setera/setera-updater/pkg/notifications"
	"github.com/rs/zerolog/log"
)

const (
	// heartbeatTimeout is how long the device may stay silent before it is
	// considered dormant. The comparison is strictly greater-than.
	heartbeatTimeout = 2 * time.Second

	heartbeatPollInterval = time.Second

	// waitPollInterval bounds the short poll used by WaitForBeat.
	waitPollInterval = 100 * time.Millisecond
)

// HeartbeatMonitor tracks the device's periodic liveness frames and derives
// a two-state awake/dormant signal, independent of the session's own
// protocol states. It writes only its own fields, never protocol-phase
// state.
type HeartbeatMonitor struct {
	clock    clockwork.Clock
	notify   chan<- notifications.Notification
	stop     chan struct{}
	lastBeat time.Time
	awake    bool
	stopOnce sync.Once
	mu       syncutil.RWMutex
}

// NewHeartbeatMonitor creates a monitor in the dormant state. notify may be
// nil; state-change events are then dropped.
func NewHeartbeatMonitor(clock clockwork.Clock, notify chan<- notifications.Notification) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		clock:  clock,
		notify: notify,
		stop:   make(chan struct{}),
	}
}

// Start launches the 1-second poll loop that detects silence.
func (m *HeartbeatMonitor) Start() {
	go func() {
		ticker := m.clock.NewTicker(heartbeatPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.Chan():
				m.checkSilence()
			}
		}
	}()
}

// Stop halts the poll loop. No notification fires after Stop returns.
// Idempotent.
func (m *HeartbeatMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// Observe records a heartbeat line. Receiving any heartbeat while dormant
// immediately flips the monitor back to awake and emits one notification.
func (m *HeartbeatMonitor) Observe(_ string) {
	m.mu.Lock()
	m.lastBeat = m.clock.Now()
	wasDormant := !m.awake
	m.awake = true
	m.mu.Unlock()

	if wasDormant {
		log.Debug().Msg("heartbeat received, device awake")
		m.publish(notifications.DeviceAwake)
	}
}

func (m *HeartbeatMonitor) checkSilence() {
	m.mu.Lock()
	if !m.awake || m.lastBeat.IsZero() || m.clock.Since(m.lastBeat) <= heartbeatTimeout {
		m.mu.Unlock()
		return
	}
	m.awake = false
	m.mu.Unlock()

	log.Debug().Msg("no heartbeat for over 2s, device dormant")
	m.publish(notifications.DeviceDormant)
}

// Awake reports whether a heartbeat was seen recently enough.
func (m *HeartbeatMonitor) Awake() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.awake
}

// LastHeartbeatAt returns the time of the last observed heartbeat, with
// ok=false if none was ever seen.
func (m *HeartbeatMonitor) LastHeartbeatAt() (at time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBeat, !m.lastBeat.IsZero()
}

// WaitForBeat polls until a heartbeat newer than the call time arrives,
// returning false on timeout, cancellation or monitor stop. Used during
// negotiation to detect a device that is just waking up.
func (m *HeartbeatMonitor) WaitForBeat(ctx context.Context, timeout time.Duration) bool {
	start := m.clock.Now()
	deadline := start.Add(timeout)

	for {
		m.mu.RLock()
		beat := m.lastBeat
		m.mu.RUnlock()
		if beat.After(start) {
			return true
		}

		if !m.clock.Now().Before(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-m.stop:
			return false
		case <-m.clock.After(waitPollInterval):
		}
	}
}

func (m *HeartbeatMonitor) publish(method string) {
	if m.notify == nil {
		return
	}
	select {
	case <-m.stop:
		return
	default:
	}
	select {
	case m.notify <- notifications.Notification{Method: method}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping")
	}
}
