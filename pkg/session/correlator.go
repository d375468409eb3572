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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	"github.com/pedro-setera/setera-updater/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// LineSender writes one command line to the device.
type LineSender interface {
	SendLine(text string) error
}

// HeartbeatSink receives heartbeat lines demultiplexed off the shared
// channel. Heartbeats never fulfill a pending exchange.
type HeartbeatSink interface {
	Observe(line string)
}

// pendingExchange is the single in-flight command awaiting a response.
type pendingExchange struct {
	result       chan string
	expectPrefix string
}

// Correlator serializes request/response pairing over one shared channel
// that simultaneously carries commands, responses and heartbeat traffic.
// At most one exchange is pending at a time; the receive loop only
// demultiplexes and never blocks on application logic.
type Correlator struct {
	sender    LineSender
	hb        HeartbeatSink
	clock     clockwork.Clock
	pending   *pendingExchange
	done      chan struct{}
	closeOnce sync.Once
	mu        syncutil.Mutex // protects pending
}

// NewCorrelator starts demultiplexing lines. The correlator closes itself
// when the lines channel closes (transport disconnect), cancelling any
// in-flight exchange.
func NewCorrelator(sender LineSender, lines <-chan string, hb HeartbeatSink, clock clockwork.Clock) *Correlator {
	c := &Correlator{
		sender: sender,
		hb:     hb,
		clock:  clock,
		done:   make(chan struct{}),
	}

	go c.demux(lines)

	return c
}

func (c *Correlator) demux(lines <-chan string) {
	for {
		var line string
		var ok bool
		select {
		case <-c.done:
			return
		case line, ok = <-lines:
			if !ok {
				// transport closed under us
				c.Close()
				return
			}
		}

		if protocol.IsHeartbeat(line) {
			if c.hb != nil {
				c.hb.Observe(line)
			}
			continue
		}

		c.mu.Lock()
		p := c.pending
		if p != nil && (p.expectPrefix == "" || strings.HasPrefix(line, p.expectPrefix)) {
			c.pending = nil
			c.mu.Unlock()
			p.result <- line
			continue
		}
		c.mu.Unlock()

		log.Trace().Msgf("discarding unmatched line: %s", line)
	}
}

// Send writes command and blocks until a line matching expectPrefix arrives,
// the timeout elapses, or the wait is cancelled. An empty expectPrefix
// accepts the first non-heartbeat line. A second Send while one is pending
// is rejected immediately with ErrExchangePending.
func (c *Correlator) Send(ctx context.Context, command, expectPrefix string, timeout time.Duration) (string, error) {
	select {
	case <-c.done:
		return "", ErrCancelled
	default:
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return "", ErrExchangePending
	}
	p := &pendingExchange{
		expectPrefix: expectPrefix,
		result:       make(chan string, 1),
	}
	c.pending = p
	c.mu.Unlock()

	clear := func() {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
	}

	if err := c.sender.SendLine(command); err != nil {
		clear()
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-p.result:
		return line, nil
	case <-timer.Chan():
		clear()
		// a matching line may have raced in while we were clearing
		select {
		case line := <-p.result:
			return line, nil
		default:
		}
		return "", ErrTimeout
	case <-ctx.Done():
		clear()
		return "", ErrCancelled
	case <-c.done:
		clear()
		return "", ErrCancelled
	}
}

// Done is closed when the correlator shuts down. Waits that are not
// exchanges (retry spacing, settle delays) select on it so a disconnect
// unblocks them too.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// Close cancels any in-flight exchange with ErrCancelled. Idempotent.
func (c *Correlator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
