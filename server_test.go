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
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxnet/reactor/buffer"
	"github.com/outboxnet/reactor/timestamp"
)

// startTestServer wires handler onto a fresh main loop and NumEventLoop
// subordinate loops, starts it, and registers cleanup. It returns the
// server and the address it ended up listening on.
func startTestServer(t *testing.T, numLoops int, handler EventHandler, opts ...Option) (*TcpServer, string) {
	t.Helper()

	mainLoop, err := NewEventLoop(false)
	require.NoError(t, err)
	go mainLoop.Loop()

	allOpts := append([]Option{WithNumEventLoop(numLoops)}, opts...)
	server, err := NewTcpServer(mainLoop, "test-server", "127.0.0.1:0", handler, allOpts...)
	require.NoError(t, err)
	server.Start()

	t.Cleanup(func() {
		server.Stop()
		mainLoop.Quit()
	})

	return server, server.acceptor.Addr().String()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

// TestEchoRoundTrip covers scenario E1: a client sends a line, the server
// echoes it back, and exactly one up/down pair is observed.
func TestEchoRoundTrip(t *testing.T) {
	var ups, downs atomic.Int64

	handler := EventHandler{
		OnConnection: func(conn *TcpConnection) {
			if conn.Connected() {
				ups.Add(1)
			} else {
				downs.Add(1)
			}
		},
		OnMessage: func(conn *TcpConnection, buf *buffer.Buffer, _ timestamp.Timestamp) {
			conn.Send([]byte(buf.RetrieveAllString()))
		},
	}

	_, addr := startTestServer(t, 3, handler)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf[:n]))

	require.NoError(t, conn.Close())

	waitFor(t, time.Second, func() bool { return downs.Load() == 1 })
	assert.EqualValues(t, 1, ups.Load())
	assert.EqualValues(t, 1, downs.Load())
}

// TestBackpressureHighWaterMark covers scenario E2: with a 4 KiB
// high-water-mark, a client that writes 8 KiB and stops reading should see
// the server's high-water-mark callback fire exactly once.
func TestBackpressureHighWaterMark(t *testing.T) {
	const mark = 4096
	var hwmFires atomic.Int64

	handler := EventHandler{
		OnMessage: func(conn *TcpConnection, buf *buffer.Buffer, _ timestamp.Timestamp) {
			conn.Send([]byte(buf.RetrieveAllString()))
		},
		OnHighWaterMark: func(conn *TcpConnection, size int) {
			hwmFires.Add(1)
		},
	}

	_, addr := startTestServer(t, 1, handler, WithHighWaterMark(mark))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = conn.Write(payload)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return hwmFires.Load() >= 1 })
	assert.EqualValues(t, 1, hwmFires.Load())
}

// TestPartialWriteThenWriteComplete covers scenario E3: a 1 MiB payload sent
// to a client that isn't reading yet must be delivered in full once the
// client resumes reading, and writeComplete must fire exactly once.
func TestPartialWriteThenWriteComplete(t *testing.T) {
	const payloadSize = 1 << 20
	var writeCompletes atomic.Int64
	connCh := make(chan *TcpConnection, 1)

	handler := EventHandler{
		OnConnection: func(conn *TcpConnection) {
			if conn.Connected() {
				connCh <- conn
			}
		},
		OnWriteComplete: func(conn *TcpConnection) {
			writeCompletes.Add(1)
		},
	}

	_, addr := startTestServer(t, 1, handler)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	serverConn := <-connCh
	payload := make([]byte, payloadSize)
	serverConn.Send(payload)

	received := 0
	buf := make([]byte, 64*1024)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for received < payloadSize {
		n, rerr := conn.Read(buf)
		if rerr != nil {
			break
		}
		received += n
	}

	assert.Equal(t, payloadSize, received)
	waitFor(t, time.Second, func() bool { return writeCompletes.Load() == 1 })
}

// TestHalfCloseFromPeer covers scenario E4: the peer writes one byte then
// shuts down its write side; the server must observe the byte, then a
// clean close, and remove the connection from its table.
func TestHalfCloseFromPeer(t *testing.T) {
	msgCh := make(chan string, 1)
	handler := EventHandler{
		OnMessage: func(conn *TcpConnection, buf *buffer.Buffer, _ timestamp.Timestamp) {
			msgCh <- buf.RetrieveAllString()
		},
	}

	server, addr := startTestServer(t, 1, handler)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	select {
	case got := <-msgCh:
		assert.Equal(t, "x", got)
	case <-time.After(time.Second):
		t.Fatal("message not received")
	}

	waitFor(t, time.Second, func() bool { return server.ConnectionCount() == 0 })
}

// TestCrossLoopSend covers scenario E5: a callback running on one
// subordinate loop sends on a connection owned by a different subordinate
// loop; the byte must still be delivered exactly once.
func TestCrossLoopSend(t *testing.T) {
	connCh := make(chan *TcpConnection, 1)
	handler := EventHandler{
		OnConnection: func(conn *TcpConnection) {
			if conn.Connected() {
				connCh <- conn
			}
		},
	}

	server, addr := startTestServer(t, 2, handler)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	serverConn := <-connCh

	// Pick a subordinate loop that does not own serverConn to fire the
	// cross-loop send from.
	var otherLoop *EventLoop
	for _, l := range server.pool.GetAllLoops() {
		if l != serverConn.Loop() {
			otherLoop = l
			break
		}
	}
	require.NotNil(t, otherLoop)

	done := make(chan struct{})
	otherLoop.RunAfter(0.001, func() {
		serverConn.Send([]byte("y"))
		close(done)
	})
	<-done

	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "y", string(buf[:n]))
}

// TestConnectionLifecycleExactlyOneUpOneDown covers testable property 9
// across several sequential connections.
func TestConnectionLifecycleExactlyOneUpOneDown(t *testing.T) {
	var ups, downs atomic.Int64
	handler := EventHandler{
		OnConnection: func(conn *TcpConnection) {
			if conn.Connected() {
				ups.Add(1)
			} else {
				downs.Add(1)
			}
		},
	}

	_, addr := startTestServer(t, 2, handler)

	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	waitFor(t, 2*time.Second, func() bool { return downs.Load() == 5 })
	assert.EqualValues(t, 5, ups.Load())
	assert.EqualValues(t, 5, downs.Load())
}
