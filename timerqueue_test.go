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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRepeatingTimerFiresAtInterval(t *testing.T) {
	loop := startTestLoop(t)

	var count atomic.Int64
	done := make(chan struct{})
	loop.RunEvery(0.01, func() {
		if count.Add(1) >= 3 {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("repeating timer did not fire three times in time")
	}
}

func TestCancelBeforeFirePreventsFiring(t *testing.T) {
	loop := startTestLoop(t)

	var fired atomic.Bool
	handle := loop.RunAfter(0.2, func() { fired.Store(true) })
	loop.CancelTimer(handle)

	time.Sleep(400 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCancelRepeatingTimerFromWithinItsOwnCallback(t *testing.T) {
	loop := startTestLoop(t)

	var count atomic.Int64
	var handle TimerHandle
	handle = loop.RunEvery(0.01, func() {
		count.Add(1)
		loop.CancelTimer(handle)
	})

	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load(), "cancelling from inside the callback must stop further re-arming")
}

func TestCancelAlreadyFiredIsANoOp(t *testing.T) {
	loop := startTestLoop(t)

	done := make(chan struct{})
	handle := loop.RunAfter(0.01, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	// Cancelling after it already fired must not panic or affect anything.
	loop.CancelTimer(handle)
}
