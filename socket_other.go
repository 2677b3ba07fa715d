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

//go:build !linux

package reactor

import (
	"net"

	"github.com/outboxnet/reactor/errors"
)

// This module's socket layer is built on Linux-only syscalls (accept4,
// SO_REUSEPORT, epoll-friendly non-blocking setup); every entry point here
// reports ErrUnsupportedOp on any other GOOS rather than failing to build,
// mirroring the reference implementation's own per-platform socket stubs.

func newListenSocket(addr string, reusePort bool) (fd int, laddr *net.TCPAddr, err error) {
	return -1, nil, errors.ErrUnsupportedOp
}

func acceptOne(fd int) (nfd int, peer *net.TCPAddr, err error) {
	return -1, nil, errors.ErrUnsupportedOp
}

func setKeepAlive(fd int) error {
	return errors.ErrUnsupportedOp
}

func shutdownWrite(fd int) error {
	return errors.ErrUnsupportedOp
}

func socketError(fd int) error {
	return errors.ErrUnsupportedOp
}

func localAddr(fd int) (*net.TCPAddr, error) {
	return nil, errors.ErrUnsupportedOp
}
