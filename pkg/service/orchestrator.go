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

// Package service ties the session to the outside world: the notification
// broker, the auto-update poll loop and the daemon run-loop.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pedro-setera/setera-updater/pkg/firmware"
	"github.com/pedro-setera/setera-updater/pkg/protocol"
	"github.com/pedro-setera/setera-updater/pkg/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// pollInterval is how often the orchestrator re-queries the device identity
// to spot a reader swap in the field.
const pollInterval = 2 * time.Second

// UpdateSession is the slice of the session the orchestrator drives.
type UpdateSession interface {
	QueryVersions(ctx context.Context) (*protocol.DeviceInfo, error)
	Update(ctx context.Context, img *firmware.Image, limits protocol.LimitsConfig) (*session.UpdateResult, error)
}

// ConfirmFunc decides whether a same-or-older image may be flashed. It is
// consulted only when the candidate is not strictly newer than the device.
type ConfirmFunc func(current, candidate firmware.Version) bool

// Orchestrator watches for device swaps and flashes the matching image from
// the firmware folder. Field technicians daisy-chain readers on one cable:
// the tool stays connected while units are swapped under it.
type Orchestrator struct {
	sess        UpdateSession
	fs          afero.Fs
	clock       clockwork.Clock
	confirm     ConfirmFunc
	folder      string
	lastSerial  string
	noMatchFor  string
	badImageFor string
	limits      protocol.LimitsConfig
}

// NewOrchestrator creates a poll loop seeded with the serial number of the
// currently connected device. confirm may be nil, which declines every
// downgrade or re-flash.
func NewOrchestrator(
	sess UpdateSession,
	fs afero.Fs,
	clock clockwork.Clock,
	folder string,
	currentSerial string,
	limits protocol.LimitsConfig,
	confirm ConfirmFunc,
) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		sess:       sess,
		fs:         fs,
		clock:      clock,
		folder:     folder,
		lastSerial: currentSerial,
		limits:     limits,
		confirm:    confirm,
	}
}

// Run polls until ctx is cancelled. It never returns an error from a poll
// cycle: an unreachable device, a missing image or a failed flash are all
// logged and polling continues.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := o.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info().Msgf("auto-update watching for device swaps, folder: %s", o.folder)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auto-update stopped")
			return
		case <-ticker.Chan():
			o.pollOnce(ctx)
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) {
	info, err := o.sess.QueryVersions(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrTimeout) && !errors.Is(err, session.ErrNotReady) {
			log.Warn().Err(err).Msg("auto-update poll failed")
		}
		return
	}

	if info.SerialNumber == o.lastSerial {
		return
	}

	log.Info().Msgf("device swap detected: sn %s (was %s), fw %s",
		info.SerialNumber, o.lastSerial, info.FirmwareVersion)

	candidate, err := firmware.FindForSerial(o.fs, o.folder, info.SerialNumber)
	if err != nil {
		if o.noMatchFor != info.SerialNumber {
			log.Warn().Err(err).Msgf("no image for sn %s, still watching", info.SerialNumber)
			o.noMatchFor = info.SerialNumber
		}
		return
	}
	o.noMatchFor = ""

	if candidate.Version.Compare(info.FirmwareVersion) <= 0 {
		if o.confirm == nil || !o.confirm(info.FirmwareVersion, candidate.Version) {
			log.Info().Msgf("image %s is not newer than device fw %s, skipping",
				candidate.Version, info.FirmwareVersion)
			o.lastSerial = info.SerialNumber
			return
		}
		log.Info().Msgf("re-flash of %s confirmed by operator", candidate.Version)
	}

	img, err := firmware.Parse(o.fs, candidate.Path)
	if err != nil {
		// treated like a missing image: keep polling so a corrected
		// file is picked up, but log the broken one only once
		if o.badImageFor != candidate.Path {
			log.Error().Err(err).Msgf("unusable image file %s, still watching", candidate.Path)
			o.badImageFor = candidate.Path
		}
		return
	}
	o.badImageFor = ""

	log.Info().Msgf("flashing %s: fw %s -> %s",
		info.SerialNumber, info.FirmwareVersion, img.Version)

	result, err := o.sess.Update(ctx, img, o.limits)
	if err != nil {
		log.Error().Err(err).Msg("auto-update flash failed, resuming watch")
		return
	}
	if result.LimitsWarning != nil {
		log.Warn().Err(result.LimitsWarning).Msg("flash succeeded but limits were not applied")
	}

	log.Info().Msgf("flash complete: %d/%d frames", result.FramesSent, result.TotalFrames)
	o.lastSerial = info.SerialNumber
}
