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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxnet/reactor/timestamp"
)

func startTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop(true)
	require.NoError(t, err)
	loopDone := make(chan struct{})
	go func() {
		loop.Loop()
		close(loopDone)
	}()
	// Give the goroutine a moment to record its thread id before the test
	// starts issuing RunInLoop/QueueInLoop calls from other goroutines.
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&loop.threadID) == -1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		loop.Quit()
		<-loopDone
		_ = loop.Close()
	})
	return loop
}

func TestQueueInLoopWakesPromptly(t *testing.T) {
	loop := startTestLoop(t)

	done := make(chan struct{})
	start := time.Now()
	loop.QueueInLoop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("queued task did not run within 100ms")
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestRunInLoopExecutesInlineOnOwnerGoroutine(t *testing.T) {
	loop := startTestLoop(t)

	result := make(chan bool, 1)
	loop.QueueInLoop(func() {
		// Now we're on the loop's own goroutine.
		ran := false
		loop.RunInLoop(func() { ran = true })
		result <- ran
	})

	select {
	case ran := <-result:
		assert.True(t, ran, "RunInLoop from the owner goroutine must execute inline")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestTimerMonotonicOrdering(t *testing.T) {
	loop := startTestLoop(t)

	var fireMu sync.Mutex
	var fired []int

	done := make(chan struct{})
	now := timestamp.Now()
	loop.RunAt(now.Add(0.01), func() {
		fireMu.Lock()
		fired = append(fired, 1)
		fireMu.Unlock()
	})
	loop.RunAt(now.Add(0.02), func() {
		fireMu.Lock()
		fired = append(fired, 2)
		fireMu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not fire in time")
	}
	assert.Equal(t, []int{1, 2}, fired)
}
