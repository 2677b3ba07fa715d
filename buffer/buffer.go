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

// Package buffer implements the connection-owned read/write byte buffer: a
// backing array split into [prependable | readable | writable] regions,
// grown by either sliding the readable window down to the prepend floor or
// reallocating, whichever is cheaper. It is not safe for concurrent use —
// exactly one TcpConnection, on exactly one EventLoop, ever touches a given
// Buffer.
package buffer

import "github.com/valyala/bytebufferpool"

const (
	// PrependSize is the fixed reserve at the front of the backing array,
	// room for a caller to splice in a length- or framing-prefix without a
	// second allocation. Nothing in this module currently prepends, but the
	// region is load-bearing for the growth-policy invariant in §3.
	PrependSize = 8
	// InitialSize is the writable capacity a freshly constructed Buffer starts with.
	InitialSize = 1024
)

// Buffer is a resizable byte buffer with a prepend area, grounded on the
// reference implementation's Buffer type.
type Buffer struct {
	bb     *bytebufferpool.ByteBuffer
	reader int
	writer int
}

// New returns an empty Buffer with InitialSize bytes of writable space.
func New() *Buffer { return NewSize(InitialSize) }

// NewSize returns an empty Buffer with at least writable bytes of initial
// writable space, drawn from the shared byte-slice pool.
func NewSize(writable int) *Buffer {
	if writable <= 0 {
		writable = InitialSize
	}
	bb := bytebufferpool.Get()
	total := PrependSize + writable
	if cap(bb.B) < total {
		bb.B = make([]byte, total)
	} else {
		bb.B = bb.B[:total]
	}
	return &Buffer{bb: bb, reader: PrependSize, writer: PrependSize}
}

// Release returns the backing array to the pool. Call this exactly once,
// when the owning connection is destroyed.
func (b *Buffer) Release() {
	if b.bb != nil {
		bytebufferpool.Put(b.bb)
		b.bb = nil
	}
}

func (b *Buffer) storage() []byte { return b.bb.B }

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes returns the number of bytes available to Append without growing.
func (b *Buffer) WritableBytes() int { return len(b.storage()) - b.writer }

// PrependableBytes returns the number of bytes before the reader index.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns a view over the readable region. The slice aliases the
// buffer's backing array and is invalidated by the next mutating call.
func (b *Buffer) Peek() []byte { return b.storage()[b.reader:b.writer] }

// Retrieve advances the reader index by n, which must be <= ReadableBytes().
// When the buffer becomes empty both indices snap back to the prepend floor.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	b.reader += n
	if b.reader == b.writer {
		b.reader, b.writer = PrependSize, PrependSize
	}
}

// RetrieveAll collapses the buffer back to the prepend floor, discarding
// whatever remained readable.
func (b *Buffer) RetrieveAll() {
	b.reader, b.writer = PrependSize, PrependSize
}

// RetrieveAllString retrieves every readable byte and returns it as a string.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies data into the writable region, growing the buffer first if needed.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	b.writer += copy(b.storage()[b.writer:], data)
}

// ensureWritable grows the buffer so that at least n more bytes can be
// written, sliding the readable window down to the prepend floor when the
// prepend area plus the existing writable region already suffice, and
// reallocating only when they don't.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()-PrependSize+b.WritableBytes() >= n {
		readable := b.ReadableBytes()
		storage := b.storage()
		copy(storage[PrependSize:], storage[b.reader:b.writer])
		b.reader = PrependSize
		b.writer = PrependSize + readable
		return
	}
	grown := make([]byte, b.writer+n)
	copy(grown, b.storage()[:b.writer])
	b.bb.B = grown
}
