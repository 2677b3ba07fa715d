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
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/logging"
	"github.com/outboxnet/reactor/pool/goroutine"
	"github.com/outboxnet/reactor/timestamp"
)

// acceptorPool bounds the goroutines spent on the blocking, off-hot-path
// work an Acceptor occasionally needs: resolving+binding the listen address
// at construction time, and reopening the reserve descriptor after an
// EMFILE/ENFILE recovery. Shared across every Acceptor in the process so a
// server farm starting many listeners at once doesn't spawn one goroutine
// each.
var acceptorPool = goroutine.Default()

// NewConnectionCallback is invoked once per accepted descriptor, on the main
// loop, with the descriptor and the peer's resolved address.
type NewConnectionCallback func(fd int, peer *net.TCPAddr)

// Acceptor owns the listening descriptor on the main loop. It accepts one
// connection per read-readiness notification, handing each off through
// NewConnectionCallback, and keeps a single idle "reserve" descriptor around
// so a burst that exhausts the process's descriptor table can still be
// drained rather than spinning the main loop on repeated accept failures.
type Acceptor struct {
	loop       *EventLoop
	listenFd   int
	channel    *Channel
	listenAddr *net.TCPAddr
	listening  bool

	reserveFd int

	NewConnectionCallback NewConnectionCallback
}

// NewAcceptor opens a listening socket bound to addr and wires its channel,
// but does not yet register read interest; call Listen for that. Resolving
// and binding addr can block on DNS, so it runs through the shared acceptor
// worker pool rather than directly on the caller's goroutine.
func NewAcceptor(loop *EventLoop, addr string, reusePort bool) (*Acceptor, error) {
	if loop == nil {
		return nil, errors.ErrEventLoopNil
	}
	fd, laddr, err := resolveAndListen(addr, reusePort)
	if err != nil {
		return nil, err
	}
	reserve, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("open", err)
	}

	a := &Acceptor{
		loop:       loop,
		listenFd:   fd,
		listenAddr: laddr,
		reserveFd:  reserve,
	}
	a.channel = newChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// Addr returns the address the listening socket is bound to.
func (a *Acceptor) Addr() *net.TCPAddr { return a.listenAddr }

// Listening reports whether Listen has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// Listen registers the listening channel for read interest. Must run on the
// main loop.
func (a *Acceptor) Listen() {
	a.loop.AssertInLoopGoroutine()
	a.listening = true
	a.channel.EnableReading()
}

// Close unregisters the acceptor's channels and releases its descriptors.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	if a.reserveFd >= 0 {
		_ = unix.Close(a.reserveFd)
	}
	return unix.Close(a.listenFd)
}

// resolveAndListen runs newListenSocket on the shared acceptor pool instead
// of the caller's own goroutine, then waits for the result.
func resolveAndListen(addr string, reusePort bool) (fd int, laddr *net.TCPAddr, err error) {
	done := make(chan struct{})
	submitErr := acceptorPool.Submit(func() {
		fd, laddr, err = newListenSocket(addr, reusePort)
		close(done)
	})
	if submitErr != nil {
		// Pool exhausted or closed: fall back to running inline rather than
		// failing server construction over a scheduling hiccup.
		return newListenSocket(addr, reusePort)
	}
	<-done
	return fd, laddr, err
}

func (a *Acceptor) handleRead(timestamp.Timestamp) {
	fd, peer, err := acceptOne(a.listenFd)
	if err != nil {
		a.handleAcceptError(err)
		return
	}
	if a.NewConnectionCallback != nil {
		a.NewConnectionCallback(fd, peer)
	} else {
		_ = unix.Close(fd)
	}
}

// handleAcceptError implements the descriptor-exhaustion recovery from the
// design notes' resolved open question: on EMFILE/ENFILE there is no spare
// descriptor to accept with, so the reserve descriptor is closed to free one
// slot, the queued connection is accepted and immediately dropped (freeing
// the slot back up for whoever else needs it), and the reserve is reopened
// right away, asynchronously, through the shared acceptor pool.
func (a *Acceptor) handleAcceptError(err error) {
	if err == unix.EAGAIN {
		return
	}
	if err != unix.EMFILE && err != unix.ENFILE {
		logging.Errorf("%v: %v", errors.ErrAcceptSocket, err)
		return
	}
	logging.Errorf("acceptor: descriptor table exhausted (%v), draining via reserve fd", err)
	if a.reserveFd >= 0 {
		_ = unix.Close(a.reserveFd)
		a.reserveFd = -1
	}
	if fd, _, acceptErr := acceptOne(a.listenFd); acceptErr == nil {
		_ = unix.Close(fd)
	}

	// Reopening /dev/null can itself briefly fail under the same descriptor
	// pressure that got us here; running it through the pool keeps a slow
	// retry off the reactor thread instead of blocking the loop's dispatch.
	loop := a.loop
	_ = acceptorPool.Submit(func() {
		reserve, openErr := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if openErr != nil {
			logging.Errorf("acceptor: reopen reserve fd error: %v", openErr)
			return
		}
		loop.RunInLoop(func() { a.reserveFd = reserve })
	})
}
