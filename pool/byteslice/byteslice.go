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

// Package byteslice is a size-bucketed pool of byte slices, used to avoid
// allocating the Buffer scatter-read scratch region on every readFd call.
package byteslice

import (
	"math/bits"
	"sync"
)

var builtin Pool

// Get returns a byte slice of the requested length from the built-in pool.
func Get(size int) []byte { return builtin.Get(size) }

// Put returns a byte slice to the built-in pool.
func Put(buf []byte) { builtin.Put(buf) }

// Pool holds 32 sync.Pool buckets, one per power-of-two length class.
type Pool struct {
	buckets [32]sync.Pool
}

// Get retrieves a slice of the requested length from the pool, or allocates
// a fresh one rounded up to the next power of two.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	idx := index(uint32(size))
	if v, ok := p.buckets[idx].Get().([]byte); ok {
		return v[:size]
	}
	return make([]byte, 1<<idx)[:size]
}

// Put returns buf to the pool bucket matching its capacity.
func (p *Pool) Put(buf []byte) {
	size := cap(buf)
	if size == 0 {
		return
	}
	idx := index(uint32(size))
	if size != 1<<idx {
		idx--
	}
	p.buckets[idx].Put(buf[:cap(buf)])
}

func index(n uint32) uint32 { return uint32(bits.Len32(n - 1)) }
