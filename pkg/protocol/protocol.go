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

// Package protocol defines the CAN reader's line-oriented wire protocol:
// command strings, response parsing and device error codes.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pedro-setera/setera-updater/pkg/firmware"
)

const (
	// HeartbeatPrefix marks the unsolicited ~1s liveness frame.
	HeartbeatPrefix = "FR1,"

	CmdVersions        = "VERSIONS"
	CmdFirmwareStart   = "@FRM,START"
	CmdFirmwareUpgrade = "@FRM,UPGRADE"

	// SuccessMarker appears somewhere in every acknowledgement line.
	SuccessMarker = "OK"

	errPrefix = "ERR#"

	// CodeSerialMismatch is reported by the device when the firmware image
	// was built for a different serial number.
	CodeSerialMismatch = 82
)

// Variant is the device firmware response format, fixed once at negotiation.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantV2
	VariantV3Plus
)

func (v Variant) String() string {
	switch v {
	case VariantV2:
		return "v2"
	case VariantV3Plus:
		return "v3+"
	default:
		return "unknown"
	}
}

// DeviceInfo is the parsed result of a version query.
type DeviceInfo struct {
	SerialNumber    string
	FirmwareVersion firmware.Version
	Variant         Variant
}

// DeviceError is an explicit ERR#<code> response. Device errors are never
// retried.
type DeviceError struct {
	Raw  string
	Code int
}

func (e *DeviceError) Error() string {
	if e.Code == CodeSerialMismatch {
		return fmt.Sprintf("device rejected firmware: serial number mismatch (%s)", e.Raw)
	}
	return fmt.Sprintf("device reported error code %d (%s)", e.Code, e.Raw)
}

// IsHeartbeat reports whether line is an unsolicited liveness frame.
func IsHeartbeat(line string) bool {
	return strings.HasPrefix(line, HeartbeatPrefix)
}

// IsSuccess reports whether line is an acknowledgement. Any line carrying
// the success marker counts; the device appends variant-specific prefixes
// such as "@FRM,START:OK" and "LIMITS:OK".
func IsSuccess(line string) bool {
	return strings.Contains(line, SuccessMarker)
}

// AsDeviceError parses an ERR#<code> line. Returns nil when line is not a
// device error.
func AsDeviceError(line string) *DeviceError {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, errPrefix) {
		return nil
	}

	code, err := strconv.Atoi(strings.TrimPrefix(trimmed, errPrefix))
	if err != nil {
		return nil
	}

	return &DeviceError{Code: code, Raw: trimmed}
}

// ParseVersionsResponse parses the response to a version query, detecting
// the protocol variant by keyword:
//
//	VERSIONS FW<ver> HW<ver> BL<ver> SN<serial>   (V3+)
//	VERSION <ver> SN<serial>                       (V2 legacy)
//
// In the legacy format the firmware version is the token immediately
// preceding the SN token.
func ParseVersionsResponse(line string) (*DeviceInfo, error) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed version response: %q", line)
	}

	var variant Variant
	switch fields[0] {
	case "VERSIONS":
		variant = VariantV3Plus
	case "VERSION":
		variant = VariantV2
	default:
		return nil, fmt.Errorf("not a version response: %q", line)
	}

	snIndex := -1
	for i, f := range fields[1:] {
		if strings.HasPrefix(f, "SN") && len(f) > 2 {
			snIndex = i + 1
			break
		}
	}
	if snIndex == -1 {
		return nil, fmt.Errorf("version response missing serial number: %q", line)
	}

	info := &DeviceInfo{
		Variant:      variant,
		SerialNumber: fields[snIndex][2:],
	}

	var verToken string
	if variant == VariantV3Plus {
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "FW") && len(f) > 2 {
				verToken = f[2:]
				break
			}
		}
		if verToken == "" {
			return nil, fmt.Errorf("version response missing FW field: %q", line)
		}
	} else {
		if snIndex < 2 {
			return nil, fmt.Errorf("legacy version response missing version token: %q", line)
		}
		verToken = fields[snIndex-1]
	}

	v, err := firmware.ParseVersion(verToken)
	if err != nil {
		return nil, fmt.Errorf("version response carries invalid version: %w", err)
	}
	info.FirmwareVersion = v

	return info, nil
}
