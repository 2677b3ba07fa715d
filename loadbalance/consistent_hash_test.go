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

package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStickiness(t *testing.T) {
	r := NewRing(160)
	r.Add(0)
	r.Add(1)
	r.Add(2)

	first, ok := r.Get("10.0.0.7")
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		got, ok := r.Get("10.0.0.7")
		require.True(t, ok)
		assert.Equal(t, first, got)
	}
}

func TestEmptyRing(t *testing.T) {
	r := NewRing(160)
	_, ok := r.Get("anything")
	assert.False(t, ok)
}

func TestRemoveDisturbsBoundedShare(t *testing.T) {
	const nodes = 4
	const virtualNodes = 100
	const keys = 4000

	r := NewRing(virtualNodes)
	for i := 0; i < nodes; i++ {
		r.Add(i)
	}

	before := make(map[string]int, keys)
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		node, ok := r.Get(k)
		require.True(t, ok)
		before[k] = node
	}

	r.Remove(1)

	moved := 0
	for k, prevNode := range before {
		node, ok := r.Get(k)
		require.True(t, ok)
		assert.NotEqual(t, 1, node, "key %q still maps to removed node", k)
		if node != prevNode {
			moved++
		}
	}

	// Removing one of N nodes should disturb roughly 1/N of the keyspace;
	// allow generous slack for virtual-node hash variance.
	maxExpectedMove := keys/nodes + keys/4
	assert.LessOrEqual(t, moved, maxExpectedMove)
}

func TestDeterministicAfterRemoval(t *testing.T) {
	r := NewRing(3)
	r.Add(0)
	r.Add(1)
	r.Add(2)

	key := "192.168.1.42"
	original, ok := r.Get(key)
	require.True(t, ok)

	r.Remove(original)
	first, ok := r.Get(key)
	require.True(t, ok)
	assert.NotEqual(t, original, first)

	for i := 0; i < 50; i++ {
		got, ok := r.Get(key)
		require.True(t, ok)
		assert.Equal(t, first, got)
	}
}

func TestLen(t *testing.T) {
	r := NewRing(10)
	assert.Equal(t, 0, r.Len())
	r.Add(0)
	r.Add(1)
	assert.Equal(t, 2, r.Len())
	r.Remove(0)
	assert.Equal(t, 1, r.Len())
}
