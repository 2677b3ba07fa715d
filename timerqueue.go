// Copyright (c) 2024 The Reactor Authors. All rights reserved.
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

package reactor

import (
	"container/heap"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/logging"
	"github.com/outboxnet/reactor/timestamp"
)

// minTimerIntervalMicros is the smallest delay ever armed on the timerfd:
// timers due sooner than this are treated as due "now, plus a hair" so the
// kernel never sees a zero or negative itimerspec, which it would read as
// "disarm".
const minTimerIntervalMicros = 100

// timerHeap is a container/heap of pending timer entries, ordered earliest
// expiration first with creation sequence breaking ties.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return entryLess(*h[i], *h[j]) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// TimerQueue drives every Timer owned by one EventLoop off a single
// CLOCK_MONOTONIC timerfd armed for whichever entry is due soonest.
// Every method below must run on the owning loop's goroutine; AddTimer and
// Cancel dispatch through RunInLoop so callers elsewhere are safe.
type TimerQueue struct {
	loop *EventLoop

	timerFd      int
	timerChannel *Channel

	heap          timerHeap
	activeTimers  map[uint64]*timerEntry
	cancelled     map[uint64]struct{}
	nextSequence  atomic.Uint64
	calledExpired bool
}

// newTimerQueue creates the backing timerfd and wires its channel into loop.
func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	q := &TimerQueue{
		loop:         loop,
		timerFd:      fd,
		activeTimers: make(map[uint64]*timerEntry),
		cancelled:    make(map[uint64]struct{}),
	}
	q.timerChannel = newChannel(loop, fd)
	q.timerChannel.SetReadCallback(q.handleRead)
	q.timerChannel.EnableReading()
	return q, nil
}

// Close unregisters the timerfd channel and closes its descriptor.
func (q *TimerQueue) Close() error {
	q.timerChannel.Remove()
	return unix.Close(q.timerFd)
}

// AddTimer schedules cb to run at when, and every interval seconds after
// that if interval is positive. It returns a handle that Cancel accepts.
// A nil cb is rejected: it returns the zero TimerHandle without scheduling
// anything.
func (q *TimerQueue) AddTimer(cb func(), when timestamp.Timestamp, interval float64) TimerHandle {
	if cb == nil {
		logging.Errorf("%v", errors.ErrInvalidTimerCallback)
		return TimerHandle{}
	}
	seq := q.nextSequence.Add(1)
	timer := newTimer(cb, when, interval, seq)
	entry := &timerEntry{expiration: when, sequence: seq, timer: timer}
	q.loop.RunInLoop(func() {
		q.insertInLoop(entry)
	})
	return TimerHandle{sequence: seq}
}

// Cancel stops a pending timer. Cancelling a timer that has already fired
// and was not repeating, or that was already cancelled, is a no-op.
//
// Marking the sequence cancelled (rather than only deleting it from
// activeTimers) is what makes cancelling a repeating timer from inside its
// own callback stick: by the time a fired entry's callback runs,
// getExpired has already removed it from activeTimers, so a bare delete
// there would have nothing left to remove and reset would re-arm the timer
// anyway.
func (q *TimerQueue) Cancel(handle TimerHandle) {
	if handle.sequence == 0 {
		logging.Warnf("%v", errors.ErrTimerNotFound)
		return
	}
	q.loop.RunInLoop(func() {
		q.cancelled[handle.sequence] = struct{}{}
		delete(q.activeTimers, handle.sequence)
	})
}

func (q *TimerQueue) insertInLoop(entry *timerEntry) {
	earliestChanged := q.heap.Len() == 0 || entryLess(*entry, *q.heap[0])
	heap.Push(&q.heap, entry)
	q.activeTimers[entry.sequence] = entry
	if earliestChanged {
		q.resetTimerfd(entry.expiration)
	}
}

func (q *TimerQueue) handleRead(receiveTime timestamp.Timestamp) {
	q.loop.AssertInLoopGoroutine()
	q.readTimerfd()

	expired := q.getExpired(receiveTime)

	q.calledExpired = true
	for _, e := range expired {
		e.timer.callback()
	}
	q.calledExpired = false

	q.reset(expired, receiveTime)
}

// getExpired pops every entry due at or before now off the heap, discarding
// any that were cancelled (lazily: they simply no longer appear in
// activeTimers) and returning the rest in expiration order.
func (q *TimerQueue) getExpired(now timestamp.Timestamp) []*timerEntry {
	var expired []*timerEntry
	for q.heap.Len() > 0 {
		top := q.heap[0]
		if top.expiration.After(now) {
			break
		}
		heap.Pop(&q.heap)
		if _, live := q.activeTimers[top.sequence]; !live {
			delete(q.cancelled, top.sequence)
			continue
		}
		delete(q.activeTimers, top.sequence)
		expired = append(expired, top)
	}
	return expired
}

// reset reinserts repeating timers at their next due time and rearms the
// timerfd for whatever is now soonest.
func (q *TimerQueue) reset(expired []*timerEntry, now timestamp.Timestamp) {
	for _, e := range expired {
		if _, wasCancelled := q.cancelled[e.sequence]; wasCancelled {
			delete(q.cancelled, e.sequence)
			continue
		}
		if e.timer.repeat {
			e.timer.restart(now)
			next := &timerEntry{expiration: e.timer.expiration, sequence: e.sequence, timer: e.timer}
			heap.Push(&q.heap, next)
			q.activeTimers[e.sequence] = next
		}
	}
	if q.heap.Len() > 0 {
		q.resetTimerfd(q.heap[0].expiration)
	}
}

func (q *TimerQueue) resetTimerfd(expiration timestamp.Timestamp) {
	micros := int64(expiration.Sub(timestamp.Now()) / 1000)
	if micros < minTimerIntervalMicros {
		micros = minTimerIntervalMicros
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(micros * 1000),
	}
	if err := unix.TimerfdSettime(q.timerFd, 0, &spec, nil); err != nil {
		logging.Errorf("timerfd_settime error: %v", err)
	}
}

func (q *TimerQueue) readTimerfd() {
	var buf [8]byte
	if _, err := unix.Read(q.timerFd, buf[:]); err != nil {
		logging.Errorf("timerfd read error: %v", err)
	}
}
