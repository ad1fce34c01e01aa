package listener

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/applog"
	"github.com/hoekit/althttpd/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestRunAcceptsAndDispatchesConnections(t *testing.T) {
	port := freePort(t)
	handled := make(chan struct{}, 1)

	l := New(func(c net.Conn) {
		defer c.Close()
		handled <- struct{}{}
	}, applog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, &config.Config{Port: port, Family: config.FamilyAny}) }()

	// Give the listener a moment to bind.
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	conn.Close()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never dispatched to the handler")
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunFailsWhenNoAddressBinds(t *testing.T) {
	l := New(func(net.Conn) {}, applog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := l.Run(ctx, &config.Config{Port: -1, Family: config.FamilyAny})
	require.Error(t, err)
}
