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
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/timestamp"
)

func TestChannelDispatchOrder(t *testing.T) {
	loop := startTestLoop(t)

	done := make(chan struct{})
	var order []string
	loop.QueueInLoop(func() {
		ch := newChannel(loop, -1)
		ch.SetCloseCallback(func() { order = append(order, "close") })
		ch.SetErrorCallback(func() { order = append(order, "error") })
		ch.SetReadCallback(func(timestamp.Timestamp) { order = append(order, "read") })
		ch.SetWriteCallback(func() { order = append(order, "write") })

		ch.SetRevents(uint32(unix.EPOLLIN | unix.EPOLLOUT))
		ch.HandleEvent(timestamp.Now())
		close(done)
	})

	<-done
	assert.Equal(t, []string{"read", "write"}, order)
}

func TestChannelSkipsCallbacksWhenUntied(t *testing.T) {
	loop := startTestLoop(t)

	done := make(chan struct{})
	var called bool
	loop.QueueInLoop(func() {
		ch := newChannel(loop, -1)
		ch.SetReadCallback(func(timestamp.Timestamp) { called = true })
		tieHandle := newTie()
		ch.Tie(tieHandle)
		ch.untie()

		ch.SetRevents(uint32(unix.EPOLLIN))
		ch.HandleEvent(timestamp.Now())
		close(done)
	})

	<-done
	assert.False(t, called, "a channel whose tie has been broken must skip every callback")
}

func TestChannelHangupWithoutReadableFiresClose(t *testing.T) {
	loop := startTestLoop(t)

	done := make(chan struct{})
	var closed bool
	loop.QueueInLoop(func() {
		ch := newChannel(loop, -1)
		ch.SetCloseCallback(func() { closed = true })
		ch.SetRevents(uint32(unix.EPOLLHUP))
		ch.HandleEvent(timestamp.Now())
		close(done)
	})

	<-done
	assert.True(t, closed)
}
