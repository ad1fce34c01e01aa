package pipeline

import (
	"bufio"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/accesslog"
	"github.com/hoekit/althttpd/internal/applog"
	"github.com/hoekit/althttpd/internal/config"
	"github.com/hoekit/althttpd/internal/reqcontext"
)

func newTestPipeline(t *testing.T, root string) *Pipeline {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "access.log")
	cfg := &config.Config{
		Root:       root,
		Port:       8080,
		MaxAge:     120,
		Debug:      true,
		Standalone: true,
	}
	return New(cfg, accesslog.New(logPath), applog.Nop())
}

func TestServeStaticFileEndToEnd(t *testing.T) {
	root := t.TempDir()
	site := filepath.Join(root, "default.website")
	require.NoError(t, os.MkdirAll(site, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "index.html"), []byte("hello world"), 0644))

	p := newTestPipeline(t, root)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Serve(serverConn)
	}()

	req := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	go clientConn.Write([]byte(req))

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(clientConn)
	statusLine, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200 OK")

	var body strings.Builder
	inBody := false
	for {
		line, err := br.ReadString('\n')
		if inBody {
			body.WriteString(line)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			inBody = true
		}
		if err != nil {
			break
		}
	}
	require.Contains(t, body.String(), "hello world")

	<-done
}

func TestServeNotFoundEndToEnd(t *testing.T) {
	root := t.TempDir()
	site := filepath.Join(root, "default.website")
	require.NoError(t, os.MkdirAll(site, 0755))

	p := newTestPipeline(t, root)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Serve(serverConn)
	}()

	req := "GET /missing.html HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	go clientConn.Write([]byte(req))

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(clientConn)
	statusLine, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "404 Not Found")

	<-done
}

func TestBadPathSegmentRejectsDotDot(t *testing.T) {
	assert := require.New(t)
	assert.True(badPathSegment("/../etc/passwd"))
	assert.False(badPathSegment("/.well-known/acme-challenge/x"))
	assert.True(badPathSegment("/.well-known/../x"))
}

func TestParseRangeHeader(t *testing.T) {
	req := &reqcontext.Request{}
	parseRange("bytes=0-0", req)
	require.True(t, req.HasRange)
	require.Equal(t, int64(0), req.RangeStart)
	require.Equal(t, int64(0), req.RangeEnd)
}

func TestParseRangeHeaderOpenEnded(t *testing.T) {
	req := &reqcontext.Request{}
	parseRange("bytes=100-", req)
	require.True(t, req.HasRange)
	require.Equal(t, int64(100), req.RangeStart)
	require.Equal(t, int64(math.MaxInt64), req.RangeEnd)
}
