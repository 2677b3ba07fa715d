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

package buffer

import "github.com/outboxnet/reactor/errors"

// ReadFd and WriteFd rely on Linux-only vectored-read plumbing; on any
// other GOOS they report ErrUnsupportedOp instead of failing to build.

func (b *Buffer) ReadFd(fd int) (int, error) {
	return -1, errors.ErrUnsupportedOp
}

func (b *Buffer) WriteFd(fd int) (int, error) {
	return -1, errors.ErrUnsupportedOp
}
