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

//go:build linux

package reactor

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenerBacklog is the fixed backlog depth every listening socket is
// opened with.
const listenerBacklog = 1024

// newListenSocket creates a non-blocking, close-on-exec IPv4 TCP listening
// socket bound to addr, with SO_REUSEADDR always set and SO_REUSEPORT set
// only when reusePort is true.
func newListenSocket(addr string, reusePort bool) (fd int, laddr *net.TCPAddr, err error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, nil, err
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
		}
	}()

	if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)); err != nil {
		return -1, nil, err
	}
	if reusePort {
		if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)); err != nil {
			return -1, nil, err
		}
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if tcpAddr.IP != nil {
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return -1, nil, err
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, listenerBacklog)); err != nil {
		return -1, nil, err
	}

	laddr, err = localAddr(fd)
	if err != nil {
		return -1, nil, err
	}
	return fd, laddr, nil
}

// acceptOne accepts a single pending connection off fd, if any, returning
// the accepted socket already marked non-blocking and close-on-exec along
// with the peer's address. unix.EAGAIN is returned unwrapped when nothing
// was queued, so the caller (acceptor.go's handleAcceptError) can tell a
// spurious wakeup apart from a real accept failure.
func acceptOne(fd int) (nfd int, peer *net.TCPAddr, err error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	peer = sockaddrToTCPAddr(sa)
	return nfd, peer, nil
}

// setKeepAlive enables TCP keep-alive on an accepted socket, matching the
// reference implementation's unconditional Socket::setKeepAlive(true).
func setKeepAlive(fd int) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1))
}

// shutdownWrite half-closes the write side of fd, leaving the read side open.
func shutdownWrite(fd int) error {
	return os.NewSyscallError("shutdown", unix.Shutdown(fd, unix.SHUT_WR))
}

// socketError fetches and clears SO_ERROR, the mechanism handleError uses to
// learn what EPOLLERR actually meant.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if errno == 0 {
		return nil
	}
	return os.NewSyscallError("SO_ERROR", unix.Errno(errno))
}

func localAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	return sockaddrToTCPAddr(sa), nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP{}, a.Addr[:]...), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
