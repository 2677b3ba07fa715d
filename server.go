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

// Package reactor implements a multi-reactor TCP server core: one main loop
// that owns the listening socket and hands accepted connections off to a
// pool of subordinate loops, each of which owns its connections end to end.
package reactor

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/logging"
)

// EventHandler collects every user-facing callback a TcpServer dispatches.
// At least one field must be non-nil.
type EventHandler struct {
	OnConnection    ConnectionCallback
	OnMessage       MessageCallback
	OnWriteComplete WriteCompleteCallback
	OnHighWaterMark HighWaterMarkCallback
}

// TcpServer orchestrates an Acceptor and an EventLoopThreadPool: it accepts
// connections on its main loop, assigns each to a subordinate loop via
// consistent hashing on the peer's IP, and maintains the table of connections
// currently live across the whole pool.
type TcpServer struct {
	mainLoop *EventLoop
	acceptor *Acceptor
	pool     *EventLoopThreadPool
	opts     *Options
	handler  EventHandler

	name   string
	ipPort string

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int64

	started atomic.Int32
	quit    atomic.Bool
}

// NewTcpServer constructs a server bound to addr that dispatches to
// handler's callbacks once Start is called. loop becomes the server's main
// loop; it may already be running.
func NewTcpServer(loop *EventLoop, name, addr string, handler EventHandler, opts ...Option) (*TcpServer, error) {
	if handler.OnConnection == nil && handler.OnMessage == nil &&
		handler.OnWriteComplete == nil && handler.OnHighWaterMark == nil {
		return nil, errors.ErrNilEventHandler
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	acceptor, err := NewAcceptor(loop, addr, o.ReusePort == ReusePort)
	if err != nil {
		return nil, err
	}

	s := &TcpServer{
		mainLoop:    loop,
		acceptor:    acceptor,
		pool:        NewEventLoopThreadPool(loop, name, o.VirtualNodesPerLoop),
		opts:        o,
		handler:     handler,
		name:        name,
		ipPort:      addr,
		connections: make(map[string]*TcpConnection),
		nextConnID:  1,
	}
	acceptor.NewConnectionCallback = s.newConnection
	return s, nil
}

// SetNumEventLoop sets the number of subordinate loops that Start hands to
// the thread pool, writing straight to the server's options: there is no
// shadowed local variable here to silently discard the caller's value (see
// the design notes' resolved open question). Must be called before Start.
func (s *TcpServer) SetNumEventLoop(n int) { s.opts.NumEventLoop = n }

// Start is idempotent: only the first call actually spins up the thread pool
// and registers the listening socket for read interest.
func (s *TcpServer) Start() {
	if s.started.Add(1) != 1 {
		return
	}
	s.pool.Start(s.opts.NumEventLoop, s.opts.LockOSThread, s.opts.ThreadInitCallback)
	s.mainLoop.RunInLoop(s.acceptor.Listen)
	logging.Infof("tcp server %q listening on %s", s.name, s.ipPort)
}

// Stop quits every subordinate loop and destroys every live connection,
// mirroring the reference implementation's destructor: the table is emptied
// synchronously under s.mu on the caller's goroutine, and each connection's
// teardown runs on its own owner loop; Stop waits for every teardown before
// closing the acceptor and stopping the pool.
func (s *TcpServer) Stop() {
	if !s.quit.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	conns := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = make(map[string]*TcpConnection)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		c.loop.RunInLoop(func(conn *TcpConnection) func() {
			return func() {
				conn.connectDestroyed()
				wg.Done()
			}
		}(c))
	}
	wg.Wait()

	_ = s.acceptor.Close()
	s.pool.Stop()
}

// ConnectionCount reports the number of connections currently in the table.
func (s *TcpServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Connections returns a snapshot of every live connection, for diagnostics.
func (s *TcpServer) Connections() []*TcpConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// newConnection runs on the main loop, invoked by the Acceptor once per
// accepted descriptor: it picks a subordinate loop, builds and registers the
// TcpConnection, wires the four user callbacks plus the internal close
// callback, and defers connectEstablished onto the chosen loop.
func (s *TcpServer) newConnection(fd int, peer *net.TCPAddr) {
	if s.quit.Load() {
		logging.Warnf("tcp server %q: %v, dropping connection from %s", s.name, errors.ErrServerShutdown, peer)
		_ = unix.Close(fd)
		return
	}

	ioLoop := s.pool.GetNextLoop(peer.IP.String())

	s.mu.Lock()
	id := s.nextConnID
	s.nextConnID++
	s.mu.Unlock()

	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, id)

	local, err := localAddr(fd)
	if err != nil {
		logging.Errorf("tcp server %q: getsockname on new connection error: %v", s.name, err)
	}

	logging.Infof("tcp server %q: new connection [%s] from %s", s.name, connName, peer)

	conn := NewTcpConnection(ioLoop, connName, fd, local, peer, s.opts.ReadBufferCap, s.opts.TCPKeepAlive)
	conn.SetHighWaterMark(s.opts.HighWaterMark)
	conn.connectionCallback = s.handler.OnConnection
	conn.messageCallback = s.handler.OnMessage
	conn.writeCompleteCallback = s.handler.OnWriteComplete
	conn.highWaterMarkCallback = s.handler.OnHighWaterMark
	conn.onClose = s.removeConnection

	s.mu.Lock()
	s.connections[connName] = conn
	s.mu.Unlock()

	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection is the internal close callback wired onto every
// connection's onClose slot. It always dispatches to the main loop before
// touching the table, so the table itself needs no lock discipline beyond
// what protects it from newConnection running concurrently on the same loop.
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.mainLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.connections, conn.Name())
		s.mu.Unlock()
		logging.Infof("tcp server %q: removed connection [%s]", s.name, conn.Name())
		conn.loop.QueueInLoop(conn.connectDestroyed)
	})
}
