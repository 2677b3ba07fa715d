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

// Package errors defines the sentinel errors shared across the reactor core.
package errors

import "errors"

var (
	// ErrEventLoopNil occurs when a component is constructed with a nil owning EventLoop.
	ErrEventLoopNil = errors.New("reactor: event loop is nil")
	// ErrDuplicateLoop occurs when an EventLoop starts Loop on an OS thread where another EventLoop is already running Loop.
	ErrDuplicateLoop = errors.New("reactor: another event loop already exists on this thread")
	// ErrServerShutdown occurs when the server is in the process of shutting down.
	ErrServerShutdown = errors.New("reactor: server is shutting down")
	// ErrAcceptSocket occurs when the acceptor fails to accept a new connection.
	ErrAcceptSocket = errors.New("reactor: failed to accept a new connection")
	// ErrPollerClosed occurs when an operation is attempted on a closed poller.
	ErrPollerClosed = errors.New("reactor: poller is closed")
	// ErrInvalidTimerCallback occurs when addTimer is called with a nil callback.
	ErrInvalidTimerCallback = errors.New("reactor: timer callback must not be nil")
	// ErrTimerNotFound occurs when cancelling a timer handle that is no longer scheduled.
	ErrTimerNotFound = errors.New("reactor: timer not found")
	// ErrConnectionClosed occurs when sending on a connection that is not in the Connected state.
	ErrConnectionClosed = errors.New("reactor: connection is not open")
	// ErrUnsupportedOp occurs when calling an operation that is not implemented on this platform.
	ErrUnsupportedOp = errors.New("reactor: unsupported operation")
	// ErrEmptyLoadBalancer occurs when picking a loop from a load balancer with zero registered loops.
	ErrEmptyLoadBalancer = errors.New("reactor: load balancer has no registered event loops")
	// ErrNilEventHandler occurs when constructing a TcpServer without any callback wired.
	ErrNilEventHandler = errors.New("reactor: at least one callback must be set")
)
