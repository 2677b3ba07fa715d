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

// Package goroutine provides a bounded worker pool (backed by
// github.com/panjf2000/ants/v2) for the handful of operations in this module
// that must run off a reactor thread yet should not spawn an unbounded
// goroutine per call: blocking address resolution during server startup and
// the acceptor's descriptor-exhaustion recovery path.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultPoolSize bounds the number of concurrently running workers.
	DefaultPoolSize = 1 << 10
	// ExpiryDuration reaps idle workers after this long.
	ExpiryDuration = 10 * time.Second
)

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// Default builds a non-blocking worker pool sized for this module's modest,
// off-hot-path use of the goroutine pool.
func Default() *Pool {
	p, _ := ants.NewPool(DefaultPoolSize, ants.WithOptions(ants.Options{
		ExpiryDuration: ExpiryDuration,
		Nonblocking:    true,
	}))
	return p
}
