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

// Package session owns the device connection lifecycle: wake-up and version
// negotiation, the framed firmware transfer, and limits configuration.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pedro-setera/setera-updater/pkg/firmware"
	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	"github.com/pedro-setera/setera-updater/pkg/notifications"
	"github.com/pedro-setera/setera-updater/pkg/protocol"
	"github.com/pedro-setera/setera-updater/pkg/transport"
	"github.com/rs/zerolog/log"
)

// State is the session's protocol phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateNegotiating
	StateReady
	StateTransferring
	StateApplyingLimits
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateTransferring:
		return "transferring"
	case StateApplyingLimits:
		return "applying-limits"
	default:
		return "disconnected"
	}
}

const (
	negotiateAttempts = 3
	startAttempts     = 5
	limitsAttempts    = 3
)

// Timings collects every protocol delay and deadline so tests can shrink
// them. Defaults match the device's documented behavior.
type Timings struct {
	ResponseTimeout time.Duration
	WakeWait        time.Duration
	StartTimeout    time.Duration
	StartSpacing    time.Duration
	V2PrepDelay     time.Duration
	FrameAckTimeout time.Duration
	FinalizeTimeout time.Duration
	SettlePeriod    time.Duration
	LimitsTimeout   time.Duration
	LimitsSpacing   time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		ResponseTimeout: time.Second,
		WakeWait:        2 * time.Second,
		StartTimeout:    2 * time.Second,
		StartSpacing:    2 * time.Second,
		V2PrepDelay:     500 * time.Millisecond,
		FrameAckTimeout: 2 * time.Second,
		FinalizeTimeout: 5 * time.Second,
		SettlePeriod:    15 * time.Second,
		LimitsTimeout:   2 * time.Second,
		LimitsSpacing:   1500 * time.Millisecond,
	}
}

// UpdateResult reports a completed firmware update. LimitsWarning carries a
// failed limits configuration on an otherwise successful transfer.
type UpdateResult struct {
	LimitsWarning error
	FramesSent    int
	TotalFrames   int
}

// Session is one device connection. All protocol-phase fields are mutated
// only by the task driving the current phase; the heartbeat monitor runs
// independently and touches nothing here.
type Session struct {
	tr      *transport.Transport
	corr    *Correlator
	hb      *HeartbeatMonitor
	clock   clockwork.Clock
	notify  chan<- notifications.Notification
	info    *protocol.DeviceInfo
	timings Timings
	state   State
	mu      syncutil.RWMutex // protects state, info
}

// New creates a disconnected session. notify may be nil. A nil clock falls
// back to the real clock.
func New(tr *transport.Transport, clock clockwork.Clock, notify chan<- notifications.Notification) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		tr:      tr,
		clock:   clock,
		notify:  notify,
		timings: DefaultTimings(),
		state:   StateDisconnected,
	}
}

// SetTimings overrides protocol delays. Call before Connect.
func (s *Session) SetTimings(t Timings) {
	s.timings = t
}

// State returns the current protocol phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns the negotiated device identity, nil before negotiation.
func (s *Session) Info() *protocol.DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Heartbeat exposes the liveness monitor for UI gating.
func (s *Session) Heartbeat() *HeartbeatMonitor {
	return s.hb
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	log.Debug().Msgf("session state: %s", state)
	s.publish(notifications.Notification{
		Method: notifications.SessionState,
		Params: notifications.StateParams{State: state.String()},
	})
}

func (s *Session) publish(n notifications.Notification) {
	if s.notify == nil {
		return
	}
	select {
	case s.notify <- n:
	default:
		log.Warn().Str("method", n.Method).Msg("notification channel full, dropping")
	}
}

// Connect opens the serial port and starts the receive path: transport
// lines flow through the correlator, heartbeats to the monitor.
func (s *Session) Connect(port string) error {
	if s.State() != StateDisconnected {
		return fmt.Errorf("cannot connect in state %s", s.State())
	}

	s.setState(StateConnecting)

	if err := s.tr.Open(port); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to device: %w", err)
	}

	s.hb = NewHeartbeatMonitor(s.clock, s.notify)
	s.hb.Start()
	s.corr = NewCorrelator(s.tr, s.tr.Lines(), s.hb, s.clock)

	return nil
}

// Disconnect tears the session down: any in-flight wait unblocks with
// ErrCancelled and no periodic task fires afterwards. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.info = nil
	s.mu.Unlock()

	if s.corr != nil {
		s.corr.Close()
	}
	if s.hb != nil {
		s.hb.Stop()
	}

	err := s.tr.Close()
	s.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Negotiate wakes the device and queries its identity. A silent device gets
// up to 2 seconds of heartbeat observation per attempt: a heartbeat means it
// just woke, so the query is re-issued immediately without consuming the
// attempt. After 3 failed attempts the session disconnects and the device is
// reported unreachable.
func (s *Session) Negotiate(ctx context.Context) (*protocol.DeviceInfo, error) {
	if st := s.State(); st != StateConnecting && st != StateReady {
		return nil, ErrNotReady
	}

	s.setState(StateNegotiating)

	var lastErr error
	for attempt := 1; attempt <= negotiateAttempts; attempt++ {
		log.Info().Msgf("version query attempt %d/%d", attempt, negotiateAttempts)

		line, err := s.corr.Send(ctx, protocol.CmdVersions, "VERSION", s.timings.ResponseTimeout)
		if errors.Is(err, ErrTimeout) && s.hb.WaitForBeat(ctx, s.timings.WakeWait) {
			log.Info().Msg("heartbeat seen, device just woke, re-issuing version query")
			line, err = s.corr.Send(ctx, protocol.CmdVersions, "VERSION", s.timings.ResponseTimeout)
		}

		if err != nil {
			if errors.Is(err, ErrCancelled) {
				s.setState(StateDisconnected)
				return nil, err
			}
			lastErr = err
			continue
		}

		info, perr := protocol.ParseVersionsResponse(line)
		if perr != nil {
			log.Warn().Err(perr).Msgf("unusable version response: %s", line)
			lastErr = perr
			continue
		}

		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
		s.setState(StateReady)

		log.Info().Msgf("negotiated %s device: fw %s, sn %s",
			info.Variant, info.FirmwareVersion, info.SerialNumber)
		return info, nil
	}

	negErr := &NegotiationError{Attempts: negotiateAttempts, Last: lastErr}
	log.Error().Err(negErr).Msg("device unreachable, disconnecting")
	if err := s.Disconnect(); err != nil {
		log.Error().Err(err).Msg("failed to disconnect after negotiation failure")
	}
	return nil, negErr
}

// QueryVersions performs a single version exchange without changing session
// state. Used by the auto-update poll to spot a device swap.
func (s *Session) QueryVersions(ctx context.Context) (*protocol.DeviceInfo, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}

	line, err := s.corr.Send(ctx, protocol.CmdVersions, "VERSION", s.timings.ResponseTimeout)
	if err != nil {
		return nil, err
	}

	return protocol.ParseVersionsResponse(line)
}

// Update transfers the firmware image and then applies limits. A limits
// failure does not fail the update: it is returned as a warning on the
// result. A transfer failure aborts with no limits attempt.
func (s *Session) Update(ctx context.Context, img *firmware.Image, limits protocol.LimitsConfig) (*UpdateResult, error) {
	info := s.Info()
	if s.State() != StateReady || info == nil {
		return nil, ErrNotReady
	}
	if len(img.Frames) == 0 {
		return nil, firmware.ErrNoFrames
	}

	result := &UpdateResult{TotalFrames: len(img.Frames)}

	if err := s.transfer(ctx, img, info.Variant, result); err != nil {
		return nil, err
	}

	s.setState(StateApplyingLimits)
	if err := s.applyLimits(ctx, limits); err != nil {
		if errors.Is(err, ErrCancelled) {
			s.setState(StateDisconnected)
			return nil, err
		}
		log.Warn().Err(err).Msg("limits configuration failed, firmware update still successful")
		result.LimitsWarning = err
	}
	s.setState(StateReady)

	return result, nil
}

func (s *Session) transfer(ctx context.Context, img *firmware.Image, variant protocol.Variant, result *UpdateResult) error {
	s.setState(StateTransferring)

	if err := s.sendStart(ctx); err != nil {
		var devErr *protocol.DeviceError
		switch {
		case errors.Is(err, ErrCancelled):
			s.setState(StateDisconnected)
		case errors.As(err, &devErr):
			s.failBack(err)
		default:
			// budget exhausted: the device never accepted the transfer
			if derr := s.Disconnect(); derr != nil {
				log.Error().Err(derr).Msg("failed to disconnect after start exhaustion")
			}
		}
		return err
	}

	// V2 devices need time to prepare flash memory after accepting start
	if variant == protocol.VariantV2 {
		if err := s.sleep(ctx, s.timings.V2PrepDelay); err != nil {
			err = &TransferError{Phase: "prepare", FrameIndex: -1, Err: err}
			s.failBack(err)
			return err
		}
	}

	for i, frame := range img.Frames {
		line, err := s.corr.Send(ctx, frame, "", s.timings.FrameAckTimeout)
		if err != nil {
			err = &TransferError{Phase: "frame", FrameIndex: i, Err: err}
			s.failBack(err)
			return err
		}
		if ackErr := checkAck(line); ackErr != nil {
			err = &TransferError{Phase: "frame", FrameIndex: i, DeviceText: line, Err: ackErr}
			s.failBack(err)
			return err
		}

		result.FramesSent = i + 1
		s.publish(notifications.Notification{
			Method: notifications.TransferProgress,
			Params: notifications.ProgressParams{FramesSent: i + 1, TotalFrames: result.TotalFrames},
		})
	}

	line, err := s.corr.Send(ctx, protocol.CmdFirmwareUpgrade, "", s.timings.FinalizeTimeout)
	if err != nil {
		err = &TransferError{Phase: "finalize", FrameIndex: -1, Err: err}
		s.failBack(err)
		return err
	}
	if ackErr := checkAck(line); ackErr != nil {
		err = &TransferError{Phase: "finalize", FrameIndex: -1, DeviceText: line, Err: ackErr}
		s.failBack(err)
		return err
	}

	log.Info().Msgf("firmware accepted, waiting %s for device reboot", s.timings.SettlePeriod)
	if err := s.sleep(ctx, s.timings.SettlePeriod); err != nil {
		err = &TransferError{Phase: "settle", FrameIndex: -1, Err: err}
		s.failBack(err)
		return err
	}

	return nil
}

// sendStart issues the transfer start command with its retry budget.
// Exhausting the budget is fatal; an explicit device error aborts at once.
func (s *Session) sendStart(ctx context.Context) error {
	var lastErr error
	var lastText string

	for attempt := 1; attempt <= startAttempts; attempt++ {
		log.Info().Msgf("transfer start attempt %d/%d", attempt, startAttempts)

		line, err := s.corr.Send(ctx, protocol.CmdFirmwareStart, "", s.timings.StartTimeout)
		switch {
		case err == nil:
			if devErr := protocol.AsDeviceError(line); devErr != nil {
				return &TransferError{Phase: "start", FrameIndex: -1, DeviceText: line, Err: devErr}
			}
			if protocol.IsSuccess(line) {
				return nil
			}
			lastErr = ErrProtocolViolation
			lastText = line
			if attempt < startAttempts {
				if serr := s.sleep(ctx, s.timings.StartSpacing); serr != nil {
					return &TransferError{Phase: "start", FrameIndex: -1, Err: serr}
				}
			}
		case errors.Is(err, ErrCancelled):
			return &TransferError{Phase: "start", FrameIndex: -1, Err: err}
		default:
			lastErr = err
		}
	}

	return &TransferError{Phase: "start", FrameIndex: -1, DeviceText: lastText, Err: lastErr}
}

func (s *Session) applyLimits(ctx context.Context, limits protocol.LimitsConfig) error {
	if err := limits.Validate(); err != nil {
		return &LimitsError{Err: err}
	}

	cmd := limits.Command()

	var lastErr error
	var lastText string
	for attempt := 1; attempt <= limitsAttempts; attempt++ {
		log.Info().Msgf("limits attempt %d/%d: %s", attempt, limitsAttempts, cmd)

		line, err := s.corr.Send(ctx, cmd, "", s.timings.LimitsTimeout)
		switch {
		case err == nil:
			if devErr := protocol.AsDeviceError(line); devErr != nil {
				return &LimitsError{Attempts: attempt, DeviceText: line, Err: devErr}
			}
			if protocol.IsSuccess(line) {
				return nil
			}
			lastErr = ErrProtocolViolation
			lastText = line
		case errors.Is(err, ErrCancelled):
			return &LimitsError{Attempts: attempt, Err: err}
		default:
			lastErr = err
		}

		if attempt < limitsAttempts {
			if serr := s.sleep(ctx, s.timings.LimitsSpacing); serr != nil {
				return &LimitsError{Attempts: attempt, Err: serr}
			}
		}
	}

	return &LimitsError{Attempts: limitsAttempts, DeviceText: lastText, Err: lastErr}
}

// failBack leaves the session negotiated after a mid-transfer failure so the
// operator can retry without re-waking the device, unless the wait was
// cancelled (disconnect already underway).
func (s *Session) failBack(err error) {
	if errors.Is(err, ErrCancelled) {
		s.setState(StateDisconnected)
		return
	}
	s.setState(StateReady)
}

// sleep blocks for d on the session clock. Context cancellation and
// disconnect (correlator shutdown) both abort it with ErrCancelled, so a
// settle or retry-spacing wait never outlives the session.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-s.corr.Done():
		return ErrCancelled
	case <-timer.Chan():
		return nil
	}
}

// checkAck validates a non-heartbeat response to a transfer command.
func checkAck(line string) error {
	if devErr := protocol.AsDeviceError(line); devErr != nil {
		return devErr
	}
	if !protocol.IsSuccess(line) {
		return ErrProtocolViolation
	}
	return nil
}
