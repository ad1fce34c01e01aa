package scgi

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/envvars"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
)

func writeControlFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "app.scgi")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestParseControlFileBasic(t *testing.T) {
	path := writeControlFile(t, "SCGI 127.0.0.1 9999\nfallback: static.html\nrelight: /usr/bin/start-backend\n# comment\n\n")
	cf, err := ParseControlFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cf.Host)
	assert.Equal(t, "9999", cf.Port)
	assert.Equal(t, "static.html", cf.Fallback)
	assert.Equal(t, "/usr/bin/start-backend", cf.Relight)
}

func TestParseControlFileRejectsMalformedFirstLine(t *testing.T) {
	path := writeControlFile(t, "bogus header\n")
	_, err := ParseControlFile(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseControlFileRejectsUnknownDirective(t *testing.T) {
	path := writeControlFile(t, "SCGI 127.0.0.1 9999\nbogus: x\n")
	_, err := ParseControlFile(path)
	assert.Error(t, err)
}

func TestWriteHeaderBlockPutsContentLengthFirst(t *testing.T) {
	var buf bytes.Buffer
	pairs := []envvars.Pair{
		{Name: "SCRIPT_NAME", Value: "/app.scgi"},
		{Name: "CONTENT_LENGTH", Value: "5"},
		{Name: "EMPTY_FIELD", Value: ""},
	}
	require.NoError(t, writeHeaderBlock(&buf, pairs))

	out := buf.String()
	colon := bytes.IndexByte([]byte(out), ':')
	require.Greater(t, colon, -1)
	body := out[colon+1:]

	assert.True(t, strings.HasPrefix(body, "CONTENT_LENGTH\x005\x00"))
	assert.NotContains(t, body, "EMPTY_FIELD")
	assert.Contains(t, body, "SCRIPT_NAME\x00/app.scgi\x00")
	assert.True(t, strings.HasSuffix(out, ","))
}

func TestRelayServesFallbackWhenBackendUnreachable(t *testing.T) {
	path := writeControlFile(t, "SCGI 127.0.0.1 1\nfallback: static.html\n")
	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	rw := response.New(bw, req)

	called := false
	err := Relay(path, nil, "", req, rw, func(relPath string) error {
		called = true
		assert.Equal(t, "static.html", relPath)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRelayRoundTripsThroughTCPBackend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte("Status: 200 OK\r\nContent-length: 5\r\n\r\nhello"))
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	path := writeControlFile(t, "SCGI "+host+" "+port+"\n")

	req := &reqcontext.Request{Protocol: "HTTP/1.1", Method: "GET"}
	var out bytes.Buffer
	bw := bufio.NewWriter(&out)
	rw := response.New(bw, req)

	pairs := []envvars.Pair{{Name: "CONTENT_LENGTH", Value: "0"}}
	require.NoError(t, Relay(path, pairs, "", req, rw, nil))
	rw.Flush()
	<-done

	assert.Contains(t, out.String(), "200 OK")
	assert.Contains(t, out.String(), "hello")
}

func TestByFilename(t *testing.T) {
	assert.True(t, ByFilename("/var/www/app.scgi"))
	assert.False(t, ByFilename("/var/www/app.cgi"))
}
