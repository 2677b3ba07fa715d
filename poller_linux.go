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

//go:build linux

package reactor

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/logging"
	"github.com/outboxnet/reactor/timestamp"
)

// initEventListSize is the readiness-array capacity a Poller starts with;
// Poll doubles it whenever a wait comes back completely full.
const initEventListSize = 16

// Poller is the epoll-backed readiness notifier. It tracks every Channel
// currently known to it (registered or pending-delete) in a plain map keyed
// by file descriptor, mirroring the reference implementation's channel map.
type Poller struct {
	epfd      int
	channels  map[int]*Channel
	eventList []unix.EpollEvent
	closed    bool
}

// newPoller opens a fresh epoll instance.
func newPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &Poller{
		epfd:      fd,
		channels:  make(map[int]*Channel),
		eventList: make([]unix.EpollEvent, initEventListSize),
	}, nil
}

// Close releases the epoll descriptor. Any later call to Poll,
// UpdateChannel, or RemoveChannel on this Poller returns ErrPollerClosed.
func (p *Poller) Close() error {
	p.closed = true
	return os.NewSyscallError("close", unix.Close(p.epfd))
}

// Poll blocks up to timeoutMs milliseconds and appends every channel with a
// non-empty returned-event mask to active. It returns the timestamp sampled
// immediately after waking.
func (p *Poller) Poll(timeoutMs int, active *[]*Channel) (timestamp.Timestamp, error) {
	if p.closed {
		return timestamp.Now(), errors.ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.eventList, timeoutMs)
	now := timestamp.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		logging.Errorf("epoll_wait error: %v", err)
		return now, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		ev := &p.eventList[i]
		ch := p.channels[int(ev.Fd)]
		if ch == nil {
			continue
		}
		ch.SetRevents(ev.Events)
		*active = append(*active, ch)
	}
	if n == len(p.eventList) {
		p.eventList = make([]unix.EpollEvent, len(p.eventList)*2)
	}
	return now, nil
}

// UpdateChannel is called whenever a channel's interest mask changes, or
// when it becomes known to the reactor for the first time. It implements
// the NEW/ADDED/DELETED transition table from the component design: a
// channel that is new or previously deleted and now wants events is ADDed;
// a channel that is added and now wants nothing is DELeted; otherwise its
// registration is MODified.
func (p *Poller) UpdateChannel(ch *Channel) error {
	if p.closed {
		return errors.ErrPollerClosed
	}
	idx := pollerIndex(ch.Index())
	switch idx {
	case indexNew, indexDeleted:
		if ch.IsNoneEvent() {
			return nil
		}
		if idx == indexNew {
			p.channels[ch.fd] = ch
		}
		ch.SetIndex(int32(indexAdded))
		return p.ctl(unix.EPOLL_CTL_ADD, ch)
	default: // indexAdded
		if ch.IsNoneEvent() {
			if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
				logging.Warnf("epoll_ctl del error on fd %d: %v", ch.fd, err)
			}
			ch.SetIndex(int32(indexDeleted))
			return nil
		}
		return p.ctl(unix.EPOLL_CTL_MOD, ch)
	}
}

// RemoveChannel drops ch from the poller's map entirely, issuing a backend
// delete first if it was still registered.
func (p *Poller) RemoveChannel(ch *Channel) error {
	if p.closed {
		return errors.ErrPollerClosed
	}
	delete(p.channels, ch.fd)
	if pollerIndex(ch.Index()) == indexAdded {
		if err := p.ctl(unix.EPOLL_CTL_DEL, ch); err != nil {
			logging.Warnf("epoll_ctl del error on fd %d: %v", ch.fd, err)
		}
	}
	ch.SetIndex(int32(indexNew))
	return nil
}

// HasChannel reports whether ch is currently tracked by this poller.
func (p *Poller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.fd]
	return ok && found == ch
}

func (p *Poller) ctl(op int, ch *Channel) error {
	ev := unix.EpollEvent{Events: ch.Events(), Fd: int32(ch.fd)}
	err := unix.EpollCtl(p.epfd, op, ch.fd, &ev)
	if err != nil {
		wrapped := os.NewSyscallError("epoll_ctl", err)
		if op != unix.EPOLL_CTL_DEL {
			// Mirrors the reference implementation's fatal handling of
			// add/mod failures: the interest-mask invariant has been
			// violated and nothing downstream can recover from it.
			logging.Fatalf("epoll_ctl add/mod error on fd %d: %v", ch.fd, wrapped)
		}
		return wrapped
	}
	return nil
}
