package replyframer

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
)

func newWriter(req *reqcontext.Request) (*response.Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	w := response.New(bw, req)
	return w, &buf
}

func TestFrameContentLengthBecomes200(t *testing.T) {
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	w, buf := newWriter(req)

	raw := "Content-type: text/plain\r\nContent-length: 5\r\n\r\nhello"
	err := Frame(bufio.NewReader(strings.NewReader(raw)), w, req)
	require.NoError(t, err)
	w.Flush()

	out := buf.String()
	require.Contains(t, out, "200 OK")
	require.Contains(t, out, "Content-Length: 5")
	require.Contains(t, out, "hello")
}

func TestFrameRangeBecomes206(t *testing.T) {
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET", HasRange: true, RangeStart: 0, RangeEnd: 0}
	w, buf := newWriter(req)

	raw := "Content-length: 10\r\n\r\n0123456789"
	err := Frame(bufio.NewReader(strings.NewReader(raw)), w, req)
	require.NoError(t, err)
	w.Flush()

	out := buf.String()
	require.Contains(t, out, "206 Partial Content")
	require.Contains(t, out, "Content-Range: bytes 0-0/10")
	require.Contains(t, out, "Content-Length: 1")
}

func TestFrameLocationHeaderRedirects(t *testing.T) {
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	w, buf := newWriter(req)

	raw := "Location: /elsewhere\r\n\r\n"
	err := Frame(bufio.NewReader(strings.NewReader(raw)), w, req)
	require.NoError(t, err)
	w.Flush()

	out := buf.String()
	require.Contains(t, out, "302 Redirect")
	require.Contains(t, out, "Location: /elsewhere")
}

func TestFrameNoContentLengthBuffersBody(t *testing.T) {
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	w, buf := newWriter(req)

	raw := "Content-type: text/plain\r\n\r\nunbuffered body"
	err := Frame(bufio.NewReader(strings.NewReader(raw)), w, req)
	require.NoError(t, err)
	w.Flush()

	out := buf.String()
	require.Contains(t, out, "Content-Length: 15")
	require.Contains(t, out, "unbuffered body")
}
