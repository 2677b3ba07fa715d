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
	"github.com/outboxnet/reactor/buffer"
	"github.com/outboxnet/reactor/logging"
)

// ReusePortMode selects whether a TcpServer's listening socket carries
// SO_REUSEPORT, matching the reference implementation's two-valued
// constructor Option enum.
type ReusePortMode int

const (
	// NoReusePort leaves SO_REUSEPORT unset.
	NoReusePort ReusePortMode = iota
	// ReusePort sets SO_REUSEPORT, letting several processes share one port.
	ReusePort
)

// Options collects every TcpServer construction-time knob. Zero value is
// usable: it means a main-loop-only server, 160 virtual ring nodes per
// subordinate loop, and the package's default logger.
type Options struct {
	NumEventLoop        int
	ReusePort           ReusePortMode
	TCPKeepAlive        bool
	HighWaterMark       int
	ReadBufferCap       int
	VirtualNodesPerLoop int
	Logger              logging.Logger
	ThreadInitCallback  ThreadInitCallback
	LockOSThread        bool
}

// Option mutates an Options value; see the With* constructors below.
type Option func(*Options)

// defaultOptions returns the zero-value-equivalent Options with every field
// that needs a non-zero default filled in.
func defaultOptions() *Options {
	return &Options{
		TCPKeepAlive:        true,
		HighWaterMark:       DefaultHighWaterMark,
		ReadBufferCap:       buffer.InitialSize,
		VirtualNodesPerLoop: 0, // 0 => loadbalance.DefaultVirtualNodes
	}
}

// WithNumEventLoop sets the number of subordinate loops. 0 means the main
// loop handles all I/O itself.
func WithNumEventLoop(n int) Option { return func(o *Options) { o.NumEventLoop = n } }

// WithReusePort selects whether the listening socket sets SO_REUSEPORT.
func WithReusePort(mode ReusePortMode) Option { return func(o *Options) { o.ReusePort = mode } }

// WithTCPKeepAlive toggles TCP keep-alive on accepted sockets.
func WithTCPKeepAlive(on bool) Option { return func(o *Options) { o.TCPKeepAlive = on } }

// WithHighWaterMark overrides the default 64 MiB output-buffer threshold
// applied to every connection the server accepts.
func WithHighWaterMark(n int) Option { return func(o *Options) { o.HighWaterMark = n } }

// WithReadBufferCap overrides a fresh connection's initial input-buffer
// writable capacity.
func WithReadBufferCap(n int) Option { return func(o *Options) { o.ReadBufferCap = n } }

// WithVirtualNodesPerLoop overrides the consistent-hash ring's virtual node
// count per subordinate loop.
func WithVirtualNodesPerLoop(n int) Option { return func(o *Options) { o.VirtualNodesPerLoop = n } }

// WithLogger stores l in Options.Logger. TcpServer and the components it
// builds do not read this field: their diagnostics go through the logging
// package's default logger, which WithLogger leaves unchanged.
func WithLogger(l logging.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithThreadInitCallback installs a callback run once on each subordinate
// loop's own goroutine, before that loop serves its first event.
func WithThreadInitCallback(cb ThreadInitCallback) Option {
	return func(o *Options) { o.ThreadInitCallback = cb }
}

// WithLockOSThread pins every subordinate loop goroutine to its own OS
// thread for the loop's lifetime, making IsInLoopGoroutine's thread-identity
// check exact instead of best-effort. It does not affect the main loop,
// whose pinning is set by the lockOSThread argument of NewEventLoop.
func WithLockOSThread(on bool) Option { return func(o *Options) { o.LockOSThread = on } }
