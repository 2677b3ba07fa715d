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
	"fmt"
	"sync"

	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/loadbalance"
	"github.com/outboxnet/reactor/logging"
)

func threadName(poolName string, index int) string {
	return fmt.Sprintf("%s-%d", poolName, index)
}

// EventLoopThreadPool fans connections out across a set of subordinate
// EventLoops, picked by a consistent-hash ring keyed on the peer address so
// that connections from the same client IP consistently land on the same
// loop across the pool's lifetime. With zero subordinate loops, every
// selection falls back to the base loop: the acceptor and every connection
// then share one thread, exactly the reference implementation's
// single-threaded mode.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	name     string

	mu      sync.RWMutex
	started bool
	threads []*EventLoopThread
	loops   []*EventLoop
	ring    *loadbalance.Ring
}

// NewEventLoopThreadPool constructs an unstarted pool anchored on baseLoop.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string, virtualNodesPerLoop int) *EventLoopThreadPool {
	return &EventLoopThreadPool{
		baseLoop: baseLoop,
		name:     name,
		ring:     loadbalance.NewRing(virtualNodesPerLoop),
	}
}

// Start spins up numThreads subordinate loops, running cb on each before it
// begins serving. With numThreads == 0, cb runs once on the base loop
// instead, and GetNextLoop always returns it.
func (p *EventLoopThreadPool) Start(numThreads int, lockOSThread bool, cb ThreadInitCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.started = true

	for i := 0; i < numThreads; i++ {
		name := threadName(p.name, i)
		thread := NewEventLoopThread(name, lockOSThread, cb)
		loop := thread.StartLoop()
		p.threads = append(p.threads, thread)
		p.loops = append(p.loops, loop)
		p.ring.Add(len(p.loops) - 1)
	}

	if numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

// Stop quits and joins every subordinate loop's goroutine.
func (p *EventLoopThreadPool) Stop() {
	p.mu.RLock()
	threads := p.threads
	p.mu.RUnlock()

	for _, t := range threads {
		t.Stop()
	}
}

// GetNextLoop returns the loop key hashes to, or the base loop if the pool
// has no subordinate loops.
func (p *EventLoopThreadPool) GetNextLoop(key string) *EventLoop {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx, ok := p.ring.Get(key)
	if !ok {
		// p.loops is non-empty but the ring has nothing registered for it:
		// Start populates both together, so this means they've desynced.
		logging.Errorf("event loop thread pool: %v for key %q, falling back to base loop", errors.ErrEmptyLoadBalancer, key)
		return p.baseLoop
	}
	if idx >= len(p.loops) {
		logging.Warnf("event loop thread pool: ring returned out-of-range index %d for key %q, falling back to base loop", idx, key)
		return p.baseLoop
	}
	return p.loops[idx]
}

// GetAllLoops returns every subordinate loop, or just the base loop if the
// pool has none.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Size returns the number of subordinate loops, not counting the base loop.
func (p *EventLoopThreadPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.loops)
}
