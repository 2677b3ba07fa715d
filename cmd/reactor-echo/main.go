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

// Command reactor-echo is a minimal integration-test harness for the
// reactor core: it echoes back whatever bytes a peer sends, logging every
// connection's lifecycle. It is not the excluded user-facing demonstration
// this project's core intentionally leaves out of scope; it exists only so
// the core can be exercised end to end from the command line or from tests.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/outboxnet/reactor"
	"github.com/outboxnet/reactor/buffer"
	"github.com/outboxnet/reactor/logging"
	"github.com/outboxnet/reactor/timestamp"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	numLoops := flag.Int("loops", 3, "number of subordinate event loops")
	reusePort := flag.Bool("reuseport", false, "set SO_REUSEPORT on the listening socket")
	highWaterMark := flag.Int("hwm", reactor.DefaultHighWaterMark, "output buffer high-water mark, in bytes")
	flag.Parse()

	mainLoop, err := reactor.NewEventLoop(false)
	if err != nil {
		logging.Fatalf("reactor-echo: create main loop: %v", err)
	}

	handler := reactor.EventHandler{
		OnConnection: func(conn *reactor.TcpConnection) {
			if conn.Connected() {
				logging.Infof("reactor-echo: connection up [%s] from %s", conn.Name(), conn.PeerAddr())
			} else {
				logging.Infof("reactor-echo: connection down [%s]", conn.Name())
			}
		},
		OnMessage: func(conn *reactor.TcpConnection, buf *buffer.Buffer, receiveTime timestamp.Timestamp) {
			msg := buf.RetrieveAllString()
			conn.Send([]byte(msg))
		},
		OnHighWaterMark: func(conn *reactor.TcpConnection, size int) {
			logging.Warnf("reactor-echo: [%s] output buffer at %d bytes, above high-water mark", conn.Name(), size)
		},
	}

	mode := reactor.NoReusePort
	if *reusePort {
		mode = reactor.ReusePort
	}

	server, err := reactor.NewTcpServer(mainLoop, "reactor-echo", *addr, handler,
		reactor.WithNumEventLoop(*numLoops),
		reactor.WithReusePort(mode),
		reactor.WithHighWaterMark(*highWaterMark),
	)
	if err != nil {
		logging.Fatalf("reactor-echo: create server: %v", err)
	}

	server.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Infof("reactor-echo: shutting down")
		server.Stop()
		mainLoop.Quit()
	}()

	mainLoop.Loop()
}
