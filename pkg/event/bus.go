// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// ErrSubscriberTooSlow is delivered on the error channel of a
// SubscribeNonBlocking subscription that was dropped because its buffer
// was full.
var ErrSubscriberTooSlow = errors.New("event subscriber too slow")

// Subscription is the handle returned by Bus.Subscribe.
type Subscription = event.Subscription

// Bus delivers every published Event to all subscribed channels.
// Subscribe registers a lossless subscriber that Publish waits for, so it
// must keep its channel drained. SubscribeNonBlocking registers a
// subscriber that is dropped as soon as its channel is full.
type Bus struct {
	feed  event.Feed
	scope event.SubscriptionScope

	mu     sync.RWMutex
	closed bool

	dmu        sync.Mutex
	nonBlocked map[*nonBlockingSub]struct{}
}

func NewBus() *Bus {
	return &Bus{
		nonBlocked: make(map[*nonBlockingSub]struct{}),
	}
}

// Publish sends e to all subscribers and returns how many received it.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n := b.feed.Send(e)

	b.dmu.Lock()
	defer b.dmu.Unlock()
	for s := range b.nonBlocked {
		select {
		case s.ch <- e:
			n++
		default:
			delete(b.nonBlocked, s)
			s.end(ErrSubscriberTooSlow)
		}
	}
	return n
}

// Subscribe registers ch for all future events. Publish blocks until ch
// accepted each event.
func (b *Bus) Subscribe(ch chan<- Event) Subscription {
	return b.scope.Track(b.feed.Subscribe(ch))
}

// SubscribeNonBlocking registers ch for all future events. The first event
// that does not fit into ch ends the subscription with
// ErrSubscriberTooSlow.
func (b *Bus) SubscribeNonBlocking(ch chan<- Event) Subscription {
	s := &nonBlockingSub{
		bus: b,
		ch:  ch,
		err: make(chan error, 1),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		s.end(nil)
		return s
	}

	b.dmu.Lock()
	b.nonBlocked[s] = struct{}{}
	b.dmu.Unlock()
	return s
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	return b.scope.Count() + len(b.nonBlocked)
}

// Close ends all subscriptions. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.scope.Close()

	b.dmu.Lock()
	defer b.dmu.Unlock()
	for s := range b.nonBlocked {
		delete(b.nonBlocked, s)
		s.end(nil)
	}
}

type nonBlockingSub struct {
	bus  *Bus
	ch   chan<- Event
	err  chan error
	once sync.Once
}

// end closes the error channel after delivering err, if any. Callers hold
// the bus dmu lock or own s exclusively.
func (s *nonBlockingSub) end(err error) {
	s.once.Do(func() {
		if err != nil {
			s.err <- err
		}
		close(s.err)
	})
}

func (s *nonBlockingSub) Unsubscribe() {
	s.bus.dmu.Lock()
	defer s.bus.dmu.Unlock()
	delete(s.bus.nonBlocked, s)
	s.end(nil)
}

func (s *nonBlockingSub) Err() <-chan error {
	return s.err
}
