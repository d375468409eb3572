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

	"github.com/pedro-setera/setera-updater/pkg/helpers/syncutil"
	"github.com/pedro-setera/setera-updater/pkg/notifications"
	"github.com/rs/zerolog/log"
)

// Broker fans device and transfer notifications out to any number of
// consumers (console progress, UI, log sinks). Sends are non-blocking: a
// slow consumer drops notifications rather than stalling the session.
type Broker struct {
	ctx         context.Context
	source      <-chan notifications.Notification
	subscribers map[int]chan notifications.Notification
	nextID      int
	mu          syncutil.RWMutex
}

// NewBroker wraps source; nothing is read until Start.
func NewBroker(ctx context.Context, source <-chan notifications.Notification) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]chan notifications.Notification),
	}
}

// Start launches the broadcast loop. It exits, closing every subscriber
// channel, when the source closes or the context is cancelled.
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case n, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					b.closeAll()
					return
				}
				b.broadcast(n)
			case <-b.ctx.Done():
				b.closeAll()
				return
			}
		}
	}()
}

func (b *Broker) broadcast(n notifications.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("method", n.Method).
				Msg("subscriber channel full, dropping notification")
		}
	}
}

// Subscribe registers a consumer. bufferSize bounds how far it may lag
// before notifications are dropped for it.
func (b *Broker) Subscribe(bufferSize int) (<-chan notifications.Notification, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan notifications.Notification, bufferSize)
	b.subscribers[id] = ch
	return ch, id
}

// Unsubscribe removes a consumer and closes its channel. Safe to call with
// an unknown or already-removed id.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Stop closes all subscriber channels without waiting for the source.
func (b *Broker) Stop() {
	b.closeAll()
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[int]chan notifications.Notification)
}
