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

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/pedro-setera/setera-updater/pkg/config"
	"github.com/pedro-setera/setera-updater/pkg/firmware"
	"github.com/pedro-setera/setera-updater/pkg/helpers"
	"github.com/pedro-setera/setera-updater/pkg/notifications"
	"github.com/pedro-setera/setera-updater/pkg/protocol"
	"github.com/pedro-setera/setera-updater/pkg/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "serial port of the reader (auto-detected when omitted)")
	folder := flag.String("folder", "", "firmware image folder (persisted as the new default)")
	file := flag.String("file", "", "flash a single image file and exit")
	auto := flag.Bool("auto", false, "watch for device swaps and flash matching images")
	speed := flag.Int("speed", 0, "speed limit in km/h (10-200)")
	rpm := flag.Int("rpm", 0, "engine rpm limit (100-10000)")
	debug := flag.Bool("debug", false, "enable debug logging")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return nil
	}

	configDir := filepath.Join(xdg.ConfigHome, config.AppName)

	if err := helpers.InitLogging(configDir, []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stderr},
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfg, err := config.NewConfig(configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *folder != "" {
		cfg.SetFirmwareFolder(*folder)
		if err := cfg.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to persist firmware folder")
		}
	}

	limits := cfg.Limits()
	if *speed > 0 {
		limits.SpeedLimitKmh = *speed
	}
	if *rpm > 0 {
		limits.RPMLimit = *rpm
	}

	selectedPort, err := pickPort(*port, cfg)
	if err != nil {
		return err
	}

	if *file == "" && !*auto && !cfg.AutoUpdate() {
		return errors.New("nothing to do: pass -file to flash an image or -auto to watch for devices")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := service.NewDaemon(ctx, afero.NewOsFs())
	sub, subID := d.Broker().Subscribe(64)
	defer d.Broker().Unsubscribe(subID)
	go printEvents(sub)

	opts := service.RunOptions{
		Port:       selectedPort,
		ImagePath:  *file,
		Folder:     cfg.FirmwareFolder(),
		AutoUpdate: *auto || cfg.AutoUpdate(),
		Limits: protocol.LimitsConfig{
			SpeedLimitKmh: limits.SpeedLimitKmh,
			RPMLimit:      limits.RPMLimit,
		},
		Confirm: promptConfirm,
	}

	if opts.AutoUpdate && opts.Folder == "" {
		return errors.New("auto-update needs a firmware folder: pass -folder")
	}

	log.Info().Msgf("%s %s, port %s", config.AppName, config.AppVersion, selectedPort)
	return d.Run(ctx, opts)
}

// pickPort resolves the serial port: explicit flag, then config, then the
// first detected device.
func pickPort(flagPort string, cfg *config.Instance) (string, error) {
	if flagPort != "" {
		return flagPort, nil
	}

	devices, err := helpers.GetSerialDeviceList()
	if cfg.Port() != "" {
		if err == nil && !helpers.Contains(devices, cfg.Port()) {
			log.Warn().Msgf("configured port %s not detected, trying it anyway", cfg.Port())
		}
		return cfg.Port(), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list serial devices: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("no serial devices found: pass -port")
	}
	if len(devices) > 1 {
		log.Info().Msgf("multiple serial devices, using first: %s", strings.Join(devices, ", "))
	}
	return devices[0], nil
}

// printEvents mirrors device and transfer notifications to stdout for the
// technician running the tool interactively.
func printEvents(sub <-chan notifications.Notification) {
	for n := range sub {
		switch n.Method {
		case notifications.DeviceAwake:
			fmt.Println("device awake")
		case notifications.DeviceDormant:
			fmt.Println("device dormant")
		case notifications.TransferProgress:
			if p, ok := n.Params.(notifications.ProgressParams); ok {
				fmt.Printf("\rsending frames %d/%d", p.FramesSent, p.TotalFrames)
				if p.FramesSent == p.TotalFrames {
					fmt.Println()
				}
			}
		case notifications.SessionState:
			if p, ok := n.Params.(notifications.StateParams); ok {
				fmt.Printf("state: %s\n", p.State)
			}
		}
	}
}

// promptConfirm asks the operator before flashing an image that is not
// strictly newer than the device firmware.
func promptConfirm(current, candidate firmware.Version) bool {
	fmt.Printf("device firmware is %s, image is %s (not newer). Flash anyway? [y/N] ",
		current, candidate)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
