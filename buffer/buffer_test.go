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

package buffer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRoundTrip(t *testing.T) {
	b := New()
	defer b.Release()

	msg := []byte("hello, reactor")
	b.Append(msg)

	assert.Equal(t, len(msg), b.ReadableBytes())
	assert.Equal(t, msg, b.Peek())
	assert.Equal(t, string(msg), b.RetrieveAllString())
	assert.Equal(t, PrependSize, b.PrependableBytes())
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestRetrievePartial(t *testing.T) {
	b := New()
	defer b.Release()

	b.Append([]byte("0123456789"))
	b.Retrieve(4)
	assert.Equal(t, "456789", string(b.Peek()))

	b.Retrieve(6)
	// Buffer snaps back to the prepend floor once fully drained.
	assert.Equal(t, PrependSize, b.PrependableBytes())
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestSlideDoesNotGrowUnboundedly(t *testing.T) {
	b := New()
	defer b.Release()

	before := cap(b.storage())
	for i := 0; i < 1000; i++ {
		b.Append([]byte("x"))
		b.Retrieve(1)
	}
	// A one-byte append/retrieve cycle that never exceeds InitialSize must
	// never force a reallocation: the prepend-floor slide keeps reusing the
	// same backing array.
	assert.Equal(t, before, cap(b.storage()))
}

func TestGrowsWhenSlackInsufficient(t *testing.T) {
	b := New()
	defer b.Release()

	big := bytes.Repeat([]byte("y"), InitialSize*4)
	b.Append(big)
	assert.Equal(t, len(big), b.ReadableBytes())
	assert.Equal(t, string(big), b.RetrieveAllString())
}

// TestScatterReadOverflowsIntoScratch exercises ReadFd across a Unix domain
// socketpair with a payload larger than the buffer's writable region, so the
// read must spill into the pooled scratch region and be copied back.
func TestScatterReadOverflowsIntoScratch(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	writeFd, readFd := fds[0], fds[1]
	defer unix.Close(writeFd)
	defer unix.Close(readFd)

	payload := bytes.Repeat([]byte("z"), InitialSize+ScratchSize/2)
	go func() {
		written := 0
		for written < len(payload) {
			n, werr := unix.Write(writeFd, payload[written:])
			if werr != nil || n <= 0 {
				return
			}
			written += n
		}
	}()

	b := New()
	defer b.Release()

	total := 0
	for total < len(payload) {
		n, rerr := b.ReadFd(readFd)
		require.NoError(t, rerr)
		if n <= 0 {
			break
		}
		total += n
	}
	assert.Equal(t, len(payload), total)
	assert.Equal(t, strings.Repeat("z", len(payload)), b.RetrieveAllString())
}
