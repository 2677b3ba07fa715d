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

// Package timestamp provides a microsecond-resolution point in time, the
// unit every other component in this module uses to stamp poll returns and
// timer expirations.
package timestamp

import (
	"fmt"
	"time"
)

// MicrosecondsPerSecond is the scale factor between seconds and the unit
// Timestamp is stored in.
const MicrosecondsPerSecond int64 = 1e6

// Timestamp is a microseconds-since-Unix-epoch scalar with a total order.
type Timestamp int64

// Zero is the distinguished "invalid" timestamp, identical to the zero value.
const Zero Timestamp = 0

// Now samples the wall clock.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Valid reports whether t is not the zero value.
func (t Timestamp) Valid() bool { return t > 0 }

// Add returns t advanced by secs seconds (secs may be fractional or negative).
func (t Timestamp) Add(secs float64) Timestamp {
	delta := int64(secs * float64(MicrosecondsPerSecond))
	return t + Timestamp(delta)
}

// Before reports whether t occurs strictly before o.
func (t Timestamp) Before(o Timestamp) bool { return t < o }

// After reports whether t occurs strictly after o.
func (t Timestamp) After(o Timestamp) bool { return t > o }

// Sub returns the duration between t and o.
func (t Timestamp) Sub(o Timestamp) time.Duration {
	return time.Duration(int64(t-o)) * time.Microsecond
}

// Time converts t to the standard library's time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

// String renders t as "2006/01/02 15:04:05.000000".
func (t Timestamp) String() string {
	tm := t.Time().UTC()
	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d:%02d.%06d",
		tm.Year(), tm.Month(), tm.Day(), tm.Hour(), tm.Minute(), tm.Second(), tm.Nanosecond()/1000)
}

// RFC3339Micro renders t as RFC3339 with microsecond precision, the format
// logging call sites use so timestamps in log lines line up with whatever
// else is emitting RFC3339 around them.
func (t Timestamp) RFC3339Micro() string {
	return t.Time().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}
