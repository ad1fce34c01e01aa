package staticfile

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
)

func writeFile(t *testing.T, body string) (string, os.FileInfo) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return path, info
}

func newRW(req *reqcontext.Request) (*response.Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	return response.New(bw, req), &buf
}

func TestServeFullFile(t *testing.T) {
	path, info := writeFile(t, "hello")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	out := buf.String()
	require.Contains(t, out, "200 OK")
	require.Contains(t, out, "Content-length: 5")
	require.Contains(t, out, "hello")
}

func TestServeByteRangeSingleByte(t *testing.T) {
	path, info := writeFile(t, "0123456789")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET", HasRange: true, RangeStart: 0, RangeEnd: 0}
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	out := buf.String()
	require.Contains(t, out, "206 Partial Content")
	require.Contains(t, out, "Content-Range: bytes 0-0/10")
	require.Contains(t, out, "Content-length: 1")
}

func TestServeOpenEndedRangeClampsToFileEnd(t *testing.T) {
	path, info := writeFile(t, "0123456789")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET", HasRange: true, RangeStart: 2, RangeEnd: math.MaxInt64}
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	out := buf.String()
	require.Contains(t, out, "206 Partial Content")
	require.Contains(t, out, "Content-Range: bytes 2-9/10")
	require.Contains(t, out, "Content-length: 8")
	require.Contains(t, out, "23456789")
}

func TestServeInvalidRangeIgnored(t *testing.T) {
	path, info := writeFile(t, "0123456789")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET", HasRange: true, RangeStart: 100, RangeEnd: 0}
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	require.Contains(t, buf.String(), "200 OK")
}

func TestServeIfNoneMatchReturns304(t *testing.T) {
	path, info := writeFile(t, "hello")
	etag := ETag(info.ModTime().Unix(), info.Size())

	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	req.Headers.IfNoneMatch = etag
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	out := buf.String()
	require.Contains(t, out, "304 Not Modified")
	require.NotContains(t, out, "hello")
}

func TestServeHeadHasNoBody(t *testing.T) {
	path, info := writeFile(t, "hello")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "HEAD"}
	rw, buf := newRW(req)

	require.NoError(t, Serve(path, info, req, rw, 120, nil))
	rw.Flush()

	out := buf.String()
	require.Contains(t, out, "200 OK")
	require.NotContains(t, out, "hello")
}
