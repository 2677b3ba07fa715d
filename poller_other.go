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
	"github.com/outboxnet/reactor/errors"
	"github.com/outboxnet/reactor/timestamp"
)

// Poller is a stand-in on platforms without an epoll-equivalent wired up
// yet. newPoller fails before any of its methods are ever reachable; they
// exist only so this file type-checks against eventloop.go's usage.
type Poller struct{}

func newPoller() (*Poller, error) {
	return nil, errors.ErrUnsupportedOp
}

func (p *Poller) Close() error { return errors.ErrUnsupportedOp }

func (p *Poller) Poll(timeoutMs int, active *[]*Channel) (timestamp.Timestamp, error) {
	return timestamp.Now(), errors.ErrUnsupportedOp
}

func (p *Poller) UpdateChannel(ch *Channel) error { return errors.ErrUnsupportedOp }

func (p *Poller) RemoveChannel(ch *Channel) error { return errors.ErrUnsupportedOp }

func (p *Poller) HasChannel(ch *Channel) bool { return false }
