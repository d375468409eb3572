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

// Package firmware parses firmware image files and the versions they carry,
// and locates images on disk by device serial number.
package firmware

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// FramePrefix marks a firmware payload line in an image file. Frame lines
// are forwarded to the device verbatim and never decoded locally.
const FramePrefix = "@FRM,"

// ErrNoFrames is returned for an image file containing no frame lines.
var ErrNoFrames = errors.New("image contains no firmware frames")

// Image is one parsed firmware image. Immutable once parsed: the device is
// the authority for frame count and checksum validation, so neither is
// checked locally.
type Image struct {
	SerialNumber string
	Checksum     string
	Frames       []string
	Version      Version
	FrameCount   int
}

// Parse reads and parses a firmware image file from fs.
func Parse(fs afero.Fs, path string) (*Image, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses a firmware image from any io.Reader.
//
// The format is plain text: lines starting with "#" are comments, header
// lines are tagged D (serial), V (version), N (frame count) and C (checksum),
// and body lines start with "@FRM,". The legacy header format carries one
// space after the tag letter, the current format none; both are accepted.
func ParseReader(r io.Reader) (*Image, error) {
	img := &Image{}
	scanner := bufio.NewScanner(r)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, FramePrefix):
			img.Frames = append(img.Frames, line)
		default:
			if err := img.parseHeaderLine(line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	if len(img.Frames) == 0 {
		return nil, ErrNoFrames
	}

	return img, nil
}

func (img *Image) parseHeaderLine(line string) error {
	if len(line) < 2 {
		return fmt.Errorf("unrecognized header line: %q", line)
	}

	tag := line[0]
	// legacy files have a single space after the tag letter
	value := strings.TrimPrefix(line[1:], " ")
	if value == "" {
		return fmt.Errorf("empty value for header tag %q", string(tag))
	}

	switch tag {
	case 'D':
		img.SerialNumber = value
	case 'V':
		v, err := ParseVersion(value)
		if err != nil {
			return err
		}
		img.Version = v
	case 'N':
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid frame count: %w", err)
		}
		img.FrameCount = n
	case 'C':
		img.Checksum = value
	default:
		return fmt.Errorf("unrecognized header line: %q", line)
	}

	return nil
}

// Header re-serializes the image's header fields in the current format.
func (img *Image) Header() string {
	var sb strings.Builder
	sb.WriteString("D" + img.SerialNumber + "\r\n")
	sb.WriteString("V" + img.Version.String() + "\r\n")
	sb.WriteString("N" + strconv.Itoa(img.FrameCount) + "\r\n")
	sb.WriteString("C" + img.Checksum + "\r\n")
	return sb.String()
}
