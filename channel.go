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
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/timestamp"
)

// eventMask is the bitset exchanged with the poller: which event kinds a
// Channel is interested in, and which ones it was last reported to have.
type eventMask uint32

const (
	eventNone  eventMask = 0
	eventRead  eventMask = unix.EPOLLIN | unix.EPOLLPRI
	eventWrite eventMask = unix.EPOLLOUT
)

// pollerIndex tags a Channel's registration status with its Poller.
type pollerIndex int32

const (
	indexNew     pollerIndex = -1
	indexAdded   pollerIndex = 1
	indexDeleted pollerIndex = 2
)

// tie is the liveness flag a Channel checks before dispatching, standing in
// for the reference implementation's weak_ptr-guarded shared_ptr tie: the
// owning TcpConnection flips it false, on its own loop, strictly before it
// drops every strong reference that could still invoke a callback.
type tie struct {
	alive atomic.Bool
}

func newTie() *tie {
	t := &tie{}
	t.alive.Store(true)
	return t
}

// Channel binds a file descriptor to an interest mask and four typed
// callbacks. It is the sole serialization point between a descriptor and
// its owning EventLoop: every mutator must be called on that loop's
// goroutine; callers elsewhere must go through EventLoop.RunInLoop.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  eventMask
	revents eventMask
	index   pollerIndex

	tied bool
	tie  *tie

	readCallback  func(receiveTime timestamp.Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

// newChannel constructs a Channel for fd, owned by loop. It is not yet
// registered with the poller; the first EnableReading/EnableWriting call
// performs that registration.
func newChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: indexNew}
}

// Fd returns the file descriptor this channel is bound to.
func (c *Channel) Fd() int { return c.fd }

// Index is the Poller's private registration-state tag.
func (c *Channel) Index() int32 { return int32(c.index) }

// SetIndex is called only by the Poller implementation.
func (c *Channel) SetIndex(idx int32) { c.index = pollerIndex(idx) }

// Events returns the channel's current interest mask, as raw epoll bits.
func (c *Channel) Events() uint32 { return uint32(c.events) }

// SetRevents records the event mask the poller reported for this channel.
func (c *Channel) SetRevents(revents uint32) { c.revents = eventMask(revents) }

// SetReadCallback installs the read-readiness callback.
func (c *Channel) SetReadCallback(cb func(timestamp.Timestamp)) { c.readCallback = cb }

// SetWriteCallback installs the write-readiness callback.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the hang-up callback.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the error callback.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie ties this channel's dispatch to the liveness of an owner. Once tied,
// HandleEvent skips every callback once the owner has called untie.
func (c *Channel) Tie(t *tie) {
	c.tie = t
	c.tied = true
}

func (c *Channel) untie() {
	if c.tie != nil {
		c.tie.alive.Store(false)
	}
}

// IsWriting reports whether the write interest bit is currently set.
func (c *Channel) IsWriting() bool { return c.events&eventWrite != 0 }

// IsReading reports whether the read interest bit is currently set.
func (c *Channel) IsReading() bool { return c.events&eventRead != 0 }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == eventNone }

// EnableReading adds the read interest bit and pushes the update to the poller.
func (c *Channel) EnableReading() {
	c.events |= eventRead
	c.update()
}

// DisableReading clears the read interest bit and pushes the update to the poller.
func (c *Channel) DisableReading() {
	c.events &^= eventRead
	c.update()
}

// EnableWriting adds the write interest bit and pushes the update to the poller.
func (c *Channel) EnableWriting() {
	c.events |= eventWrite
	c.update()
}

// DisableWriting clears the write interest bit and pushes the update to the poller.
func (c *Channel) DisableWriting() {
	c.events &^= eventWrite
	c.update()
}

// DisableAll clears every interest bit and pushes the update to the poller.
func (c *Channel) DisableAll() {
	c.events = eventNone
	c.update()
}

// Remove unregisters the channel from its loop's poller entirely.
func (c *Channel) Remove() {
	c.loop.removeChannel(c)
}

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// HandleEvent dispatches the returned event mask to the appropriate
// callbacks, in the fixed order: close, error, read, write. If the channel
// is tied to an owner that has since been untied, every callback is skipped.
func (c *Channel) HandleEvent(receiveTime timestamp.Timestamp) {
	if c.tied {
		if !c.tie.alive.Load() {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime timestamp.Timestamp) {
	if c.revents&unix.EPOLLHUP != 0 && c.revents&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.revents&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
