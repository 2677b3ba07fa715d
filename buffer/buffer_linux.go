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

package buffer

import (
	"golang.org/x/sys/unix"

	"github.com/outboxnet/reactor/pool/byteslice"
)

// ScratchSize is the size of the auxiliary stack-equivalent region used by
// ReadFd to absorb reads that overflow the buffer's writable region without
// ever probing the socket's queued byte count.
const ScratchSize = 65536

// ReadFd fills the writable region and, if that's not enough, an auxiliary
// pooled scratch region, via a single vectored read. It returns the number
// of bytes read (0 meaning the peer closed its write side) or a negative
// sentinel on error, with err carrying the underlying errno.
func (b *Buffer) ReadFd(fd int) (int, error) {
	writable := b.WritableBytes()
	scratch := byteslice.Get(ScratchSize)
	defer byteslice.Put(scratch)

	var iovs [][]byte
	if writable > 0 {
		iovs = [][]byte{b.storage()[b.writer : b.writer+writable], scratch}
	} else {
		iovs = [][]byte{scratch}
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writer += n
	} else {
		b.writer = len(b.storage())
		b.Append(scratch[:n-writable])
	}
	return n, nil
}

// WriteFd issues one write of up to ReadableBytes() bytes. It does not
// retrieve; the caller retrieves the bytes actually written.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		return -1, err
	}
	return n, nil
}
