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
	"github.com/outboxnet/reactor/timestamp"
)

// Timer is one scheduled callback: fires once at expiration, and if
// interval is positive, reschedules itself that many seconds later every
// time it fires, until cancelled.
type Timer struct {
	callback   func()
	expiration timestamp.Timestamp
	interval   float64
	repeat     bool
	sequence   uint64
}

func newTimer(cb func(), when timestamp.Timestamp, interval float64, seq uint64) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   seq,
	}
}

func (t *Timer) restart(now timestamp.Timestamp) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = timestamp.Zero
	}
}

// TimerHandle identifies a scheduled Timer for cancellation. It carries the
// sequence the timer was created with, so a cancel racing a fire-and-reuse
// can never accidentally cancel an unrelated, later timer at the same slot.
type TimerHandle struct {
	sequence uint64
}

// timerEntry is the ordered-set key: timers are ordered first by
// expiration, then, for timers that land on the exact same microsecond, by
// creation sequence, so no two live timers ever compare equal.
type timerEntry struct {
	expiration timestamp.Timestamp
	sequence   uint64
	timer      *Timer
}

func entryLess(a, b timerEntry) bool {
	if a.expiration != b.expiration {
		return a.expiration < b.expiration
	}
	return a.sequence < b.sequence
}
