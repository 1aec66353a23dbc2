// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package progress fans run progress events out to subscribers.
//
// Publishers never block: events go into a bounded queue and are dropped
// when it is full. A single goroutine drains the queue and delivers each
// event to the subscribers of its run and to all-runs subscribers, again
// dropping for subscribers whose buffers are full. Events of one run reach
// a given subscriber in the order they were published.
package progress

import (
	"log/slog"
	"sync"

	"github.com/tombee/stepchain/internal/metrics"
	"github.com/tombee/stepchain/pkg/plan"
)

// DefaultBuffer is the queue and per-subscriber buffer size.
const DefaultBuffer = 256

// AllRuns subscribes to events of every run.
const AllRuns = ""

type subscriber struct {
	runID string
	ch    chan plan.ProgressEvent
}

// Broadcaster delivers progress events to subscribers.
type Broadcaster struct {
	queue  chan plan.ProgressEvent
	buffer int
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New starts a broadcaster. buffer <= 0 uses DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		queue:  make(chan plan.ProgressEvent, buffer),
		buffer: buffer,
		logger: logger.With("component", "progress"),
		subs:   make(map[uint64]*subscriber),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go b.loop()
	return b
}

// Publish enqueues ev without blocking.
func (b *Broadcaster) Publish(ev plan.ProgressEvent) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- ev:
	default:
		metrics.ProgressDropped()
		b.logger.Debug("progress queue full, dropping event", "run_id", ev.RunID, "status", ev.Status)
	}
}

// Subscribe returns a channel of events for runID, or for every run when
// runID is AllRuns. The returned cancel func unsubscribes and closes the
// channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(runID string) (<-chan plan.ProgressEvent, func()) {
	sub := &subscriber{runID: runID, ch: make(chan plan.ProgressEvent, b.buffer)}

	b.mu.Lock()
	select {
	case <-b.stopCh:
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops delivery and closes every subscriber channel. Events still
// queued are delivered first.
func (b *Broadcaster) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh

		b.mu.Lock()
		for id, sub := range b.subs {
			close(sub.ch)
			delete(b.subs, id)
		}
		b.mu.Unlock()
	})
}

func (b *Broadcaster) loop() {
	defer close(b.doneCh)
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.stopCh:
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) deliver(ev plan.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.runID != AllRuns && sub.runID != ev.RunID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.ProgressDropped()
			b.logger.Debug("subscriber buffer full, dropping event", "run_id", ev.RunID)
		}
	}
}
