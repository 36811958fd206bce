// go-termlink
// Copyright (c) 2025 The Termlink Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-termlink.
//
// go-termlink is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-termlink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-termlink; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package bus fans link events out to application subscribers. The kernel's
// own listener contract stays synchronous; the bus is the decoupled surface
// a UI or CLI watches without holding up the link.
package bus

import (
	"reflect"

	"github.com/cskr/pubsub"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity. Slow subscribers
// block publishers once it fills, so consumers should drain promptly.
const subscriberBuffer = 128

// Subscription receives published events for the subscribed topics.
type Subscription chan any

// MessageBus is the publish/subscribe surface handed to consumers.
type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus implements MessageBus on cskr/pubsub.
type PubSubBus struct {
	ps  *pubsub.PubSub
	log *zap.Logger
}

// New returns a running bus. A nil logger disables logging.
func New(log *zap.Logger) *PubSubBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &PubSubBus{
		ps:  pubsub.New(subscriberBuffer),
		log: log,
	}
}

// Publish delivers msg to every subscriber of topic.
func (b *PubSubBus) Publish(topic string, msg any) {
	b.log.Debug("publish",
		zap.String("topic", topic),
		zap.String("payload_type", payloadType(msg)))
	b.ps.Pub(msg, topic)
}

// Subscribe opens a subscription for one topic.
func (b *PubSubBus) Subscribe(topic string) Subscription {
	ch := b.ps.Sub(topic)
	b.log.Debug("subscribe", zap.String("topic", topic))
	return ch
}

// Unsubscribe removes ch from the given topics, or from all topics when none
// are given.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.log.Debug("unsubscribe", zap.String("mode", "all"))
		return
	}
	b.ps.Unsub(ch, topics...)
	b.log.Debug("unsubscribe", zap.Strings("topics", topics))
}

// Close shuts the bus down and closes all subscription channels.
func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
