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

import "github.com/outboxnet/reactor/logging"

// ThreadInitCallback runs once on a subordinate loop's own goroutine,
// before that loop starts serving, letting callers attach per-loop state.
type ThreadInitCallback func(*EventLoop)

// EventLoopThread owns exactly one EventLoop and the goroutine running it.
// StartLoop blocks the caller until that loop exists and is ready to accept
// RunInLoop/QueueInLoop calls, the same handoff the reference
// implementation performs with a mutex and condition variable; here a
// buffered channel does the job.
type EventLoopThread struct {
	name         string
	lockOSThread bool
	callback     ThreadInitCallback

	loopCh chan *EventLoop
	loop   *EventLoop
	done   chan struct{}
}

// NewEventLoopThread constructs a thread wrapper. StartLoop must be called
// exactly once to actually spawn it.
func NewEventLoopThread(name string, lockOSThread bool, cb ThreadInitCallback) *EventLoopThread {
	return &EventLoopThread{
		name:         name,
		lockOSThread: lockOSThread,
		callback:     cb,
		loopCh:       make(chan *EventLoop, 1),
		done:         make(chan struct{}),
	}
}

// StartLoop spawns the backing goroutine and blocks until its EventLoop is
// constructed and handed back.
func (t *EventLoopThread) StartLoop() *EventLoop {
	go t.threadFunc()
	t.loop = <-t.loopCh
	return t.loop
}

func (t *EventLoopThread) threadFunc() {
	loop, err := NewEventLoop(t.lockOSThread)
	if err != nil {
		logging.Fatalf("event loop thread %q failed to construct its loop: %v", t.name, err)
	}
	if t.callback != nil {
		t.callback(loop)
	}
	t.loopCh <- loop
	loop.Loop()
	close(t.done)
}

// Stop tells the owned loop to quit and waits for its goroutine to return.
func (t *EventLoopThread) Stop() {
	t.loop.Quit()
	<-t.done
	t.loop.Close()
}
