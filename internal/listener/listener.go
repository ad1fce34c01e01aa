// Package listener implements the standalone-mode accept loop of spec §4.10:
// bind one or more addresses filtered by address family, accept
// connections, and hand each one to the pipeline on its own goroutine,
// subject to a soft connection-count admission cap. The accept-loop shape
// (net.Listen per address, one goroutine per accepted connection, a
// sync.WaitGroup tracking in-flight handlers, shutdown via context
// cancellation plus listener Close) is grounded on
// other_examples/2700faeb_infodancer-pop3d__internal-pop3-subprocess.go.go's
// SubprocessServer.Run/acceptLoop, generalized from "spawn a subprocess per
// connection" to "hand the connection to an in-process handler" per
// SPEC_FULL.md's [MODULE listener] section (goroutine-per-connection replaces
// fork-per-connection; CGI/SCGI subprocess launches stay real OS processes).
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hoekit/althttpd/internal/config"
	"github.com/hoekit/althttpd/internal/metrics"
)

// softCap is the child-count soft admission-control threshold of spec §4.10
// ("if the child count exceeds 50, sleep (count-50) seconds").
const softCap = 50

// maxListeners is spec §4.10's "open up to 20 listening sockets" cap.
const maxListeners = 20

// Handler processes one accepted connection to completion.
type Handler func(net.Conn)

// Listener owns the set of bound sockets and the accept loops feeding
// Handler, per spec §4.10.
type Listener struct {
	handler Handler
	log     *zap.Logger

	active int64 // atomic: connections currently being handled

	wg sync.WaitGroup
}

// New constructs a Listener that dispatches every accepted connection to
// handler.
func New(handler Handler, log *zap.Logger) *Listener {
	return &Listener{handler: handler, log: log}
}

// addrsForFamily resolves the configured port to one or more bind addresses
// per the family flag (spec §4.10: "filtered by the family flag"), mirroring
// getaddrinfo(AI_PASSIVE) with a v4-only/v6-only/unspecified filter.
func addrsForFamily(port int, family config.Family) []string {
	switch family {
	case config.FamilyIPv4:
		return []string{fmt.Sprintf("0.0.0.0:%d", port)}
	case config.FamilyIPv6:
		return []string{fmt.Sprintf("[::]:%d", port)}
	default:
		return []string{fmt.Sprintf(":%d", port)}
	}
}

// Run binds the configured address(es), accepts until ctx is cancelled, and
// blocks until every in-flight handler has returned. It returns an error
// only if zero sockets could be bound (spec §4.10: "if zero sockets
// bind+listen, fail startup").
func (l *Listener) Run(ctx context.Context, cfg *config.Config) error {
	addrs := addrsForFamily(cfg.Port, cfg.Family)
	if len(addrs) > maxListeners {
		addrs = addrs[:maxListeners]
	}

	var lns []net.Listener
	for _, addr := range addrs {
		lc := net.ListenConfig{}
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			l.log.Warn("listen failed", zap.String("address", addr), zap.Error(err))
			continue
		}
		lns = append(lns, ln)
		l.log.Info("listening", zap.String("address", addr))
	}
	if len(lns) == 0 {
		return fmt.Errorf("listener: failed to bind any address for port %d", cfg.Port)
	}

	for _, ln := range lns {
		l.wg.Add(1)
		go func(ln net.Listener) {
			defer l.wg.Done()
			l.acceptLoop(ctx, ln)
		}(ln)
	}

	<-ctx.Done()
	for _, ln := range lns {
		ln.Close()
	}
	l.wg.Wait()
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				l.log.Error("accept error", zap.Error(err))
				return
			}
		}

		if n := atomic.LoadInt64(&l.active); n > softCap {
			time.Sleep(time.Duration(n-softCap) * time.Second)
		}

		l.wg.Add(1)
		atomic.AddInt64(&l.active, 1)
		metrics.Recorder.ActiveConnections.Inc()
		go func(c net.Conn) {
			defer l.wg.Done()
			defer atomic.AddInt64(&l.active, -1)
			defer metrics.Recorder.ActiveConnections.Dec()
			l.handler(c)
		}(conn)
	}
}
