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

package timestamp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTotalOrder(t *testing.T) {
	a := Now()
	b := a.Add(1)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.Before(a))
}

func TestAddFractionalSeconds(t *testing.T) {
	a := Timestamp(0)
	b := a.Add(1.5)
	assert.Equal(t, Timestamp(int64(1.5*float64(MicrosecondsPerSecond))), b)
}

func TestAddNegative(t *testing.T) {
	a := Timestamp(10 * MicrosecondsPerSecond)
	b := a.Add(-5)
	assert.Equal(t, Timestamp(5*MicrosecondsPerSecond), b)
}

func TestValid(t *testing.T) {
	assert.False(t, Zero.Valid())
	assert.True(t, Now().Valid())
}

func TestSub(t *testing.T) {
	a := Timestamp(0)
	b := a.Add(2)
	assert.Equal(t, int64(2), b.Sub(a).Milliseconds()/1000)
}

func TestStringAndRFC3339MicroFormats(t *testing.T) {
	// 2021-05-04T12:34:56.789012Z, expressed as microseconds since epoch.
	ts := Timestamp(1620131696*MicrosecondsPerSecond + 789012)
	assert.Equal(t, "2021/05/04 12:34:56.789012", ts.String())
	assert.Equal(t, "2021-05-04T12:34:56.789012Z", ts.RFC3339Micro())
}
