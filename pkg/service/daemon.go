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

package service

import (
	"context"
	"fmt"

	"github.com/pedro-setera/setera-updater/pkg/firmware"
	"github.com/pedro-setera/setera-updater/pkg/notifications"
	"github.com/pedro-setera/setera-updater/pkg/protocol"
	"github.com/pedro-setera/setera-updater/pkg/session"
	"github.com/pedro-setera/setera-updater/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// notifyBuffer sizes the session-to-broker channel. Progress during a large
// transfer is the chattiest producer.
const notifyBuffer = 64

// RunOptions selects what a daemon run does after negotiation.
type RunOptions struct {
	Port       string
	ImagePath  string // flash this file once, then exit
	Folder     string // firmware folder for auto-update
	AutoUpdate bool   // keep watching for device swaps
	Limits     protocol.LimitsConfig
	Confirm    ConfirmFunc
}

// Daemon owns the serial session and the notification plumbing for one run
// of the tool.
type Daemon struct {
	fs     afero.Fs
	notify chan notifications.Notification
	broker *Broker
	sess   *session.Session
}

// NewDaemon builds the session stack on fs (the real OS filesystem outside
// of tests). ctx bounds the broker's lifetime so subscribers can attach
// before Run is called.
func NewDaemon(ctx context.Context, fs afero.Fs) *Daemon {
	notify := make(chan notifications.Notification, notifyBuffer)
	return &Daemon{
		fs:     fs,
		notify: notify,
		broker: NewBroker(ctx, notify),
		sess:   session.New(transport.New(), nil, notify),
	}
}

// Session exposes the device session for status queries.
func (d *Daemon) Session() *session.Session {
	return d.sess
}

// Broker returns the notification broker for subscribing to device and
// transfer events.
func (d *Daemon) Broker() *Broker {
	return d.broker
}

// Run connects, negotiates, then performs the requested work: a one-shot
// flash when opts.ImagePath is set, the auto-update watch when
// opts.AutoUpdate is set, or both. It blocks until the work completes or
// ctx is cancelled, and always disconnects before returning.
func (d *Daemon) Run(ctx context.Context, opts RunOptions) error {
	d.broker.Start()

	if err := d.sess.Connect(opts.Port); err != nil {
		return err
	}
	defer func() {
		if err := d.sess.Disconnect(); err != nil {
			log.Error().Err(err).Msg("failed to disconnect")
		}
	}()

	// tear the session down as soon as the context goes, so a blocked
	// exchange unblocks with ErrCancelled
	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		select {
		case <-ctx.Done():
			_ = d.sess.Disconnect()
		case <-watchdog:
		}
	}()

	info, err := d.sess.Negotiate(ctx)
	if err != nil {
		return fmt.Errorf("device negotiation failed: %w", err)
	}

	if opts.ImagePath != "" {
		if err := d.flashFile(ctx, opts.ImagePath, info.SerialNumber, opts.Limits); err != nil {
			return err
		}
	}

	if !opts.AutoUpdate {
		return nil
	}

	o := NewOrchestrator(d.sess, d.fs, nil, opts.Folder, info.SerialNumber, opts.Limits, opts.Confirm)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.Run(gctx)
		return nil
	})
	return g.Wait()
}

func (d *Daemon) flashFile(ctx context.Context, path, deviceSerial string, limits protocol.LimitsConfig) error {
	img, err := firmware.Parse(d.fs, path)
	if err != nil {
		return err
	}

	if img.SerialNumber != "" && img.SerialNumber != deviceSerial {
		log.Warn().Msgf("image is labeled for sn %s, device is sn %s; the device will reject a mismatch",
			img.SerialNumber, deviceSerial)
	}

	result, err := d.sess.Update(ctx, img, limits)
	if err != nil {
		return fmt.Errorf("firmware update failed: %w", err)
	}
	if result.LimitsWarning != nil {
		log.Warn().Err(result.LimitsWarning).Msg("firmware updated but limits were not applied")
	}

	log.Info().Msgf("firmware update complete: %d/%d frames", result.FramesSent, result.TotalFrames)
	return nil
}
