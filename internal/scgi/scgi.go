// Package scgi implements the SCGI relay of spec §4.8: it parses a control
// file naming a backend host/port plus optional fallback/relight directives,
// connects to the backend, emits a netstring-framed SCGI header block, and
// delegates the reply to internal/replyframer. The netstring framing and
// header-pair writer are grounded on
// caddyserver-caddy/middleware/scgi/scgiclient.go's netString type; the
// CONTENT_LENGTH-first ordering comes from its writePairs. The control-file
// grammar and the fallback/relight retry loop have no caddy analogue and are
// grounded directly on spec §4.8.
package scgi

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hoekit/althttpd/internal/envvars"
	"github.com/hoekit/althttpd/internal/metrics"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/replyframer"
	"github.com/hoekit/althttpd/internal/response"
)

// ControlFile is the parsed form of a *.scgi control file (spec §4.8).
type ControlFile struct {
	Host     string
	Port     string
	Fallback string
	Relight  string
}

// ErrMalformed is returned when the control file's first line is not
// "SCGI <host> <port>" (spec §4.8, malfunction 702/703).
var ErrMalformed = fmt.Errorf("scgi: malformed control file")

// ParseControlFile reads and parses path per spec §4.8's control-file
// grammar: a mandatory "SCGI <host> <port>" first line, then any number of
// "fallback:", "relight:", comment ("#") or blank lines. Any other directive
// is fatal.
func ParseControlFile(path string) (ControlFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return ControlFile{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return ControlFile{}, ErrMalformed
	}
	fields := strings.Fields(sc.Text())
	if len(fields) != 3 || fields[0] != "SCGI" {
		return ControlFile{}, ErrMalformed
	}
	cf := ControlFile{Host: fields[1], Port: fields[2]}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "fallback:"):
			cf.Fallback = strings.TrimSpace(strings.TrimPrefix(line, "fallback:"))
		case strings.HasPrefix(line, "relight:"):
			cf.Relight = strings.TrimSpace(strings.TrimPrefix(line, "relight:"))
		default:
			return ControlFile{}, fmt.Errorf("scgi: unrecognised directive %q", line)
		}
	}
	if err := sc.Err(); err != nil {
		return ControlFile{}, err
	}
	return cf, nil
}

// netString accumulates NUL-terminated NAME\0VALUE\0 pairs and frames them
// as a netstring (decimal length, ':', bytes, ',') when written out. This
// mirrors caddy's middleware/scgi netString type.
type netString struct {
	buf bytes.Buffer
}

func (n *netString) writePair(name, value string) {
	n.buf.WriteString(name)
	n.buf.WriteByte(0)
	n.buf.WriteString(value)
	n.buf.WriteByte(0)
}

func (n *netString) writeTo(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d:", n.buf.Len()); err != nil {
		return err
	}
	if _, err := w.Write(n.buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write([]byte{','})
	return err
}

// writeHeaderBlock emits the SCGI header block for pairs onto w, with
// CONTENT_LENGTH forced first (spec §4.8) and any empty-valued pair omitted.
func writeHeaderBlock(w io.Writer, pairs []envvars.Pair) error {
	ns := &netString{}
	var contentLength string
	for _, p := range pairs {
		if p.Name == "CONTENT_LENGTH" {
			contentLength = p.Value
		}
	}
	if contentLength == "" {
		contentLength = "0"
	}
	ns.writePair("CONTENT_LENGTH", contentLength)

	for _, p := range pairs {
		if p.Name == "CONTENT_LENGTH" || p.Value == "" {
			continue
		}
		ns.writePair(p.Name, p.Value)
	}
	return ns.writeTo(w)
}

// dial connects to cf.Host:cf.Port, running the relight/fallback retry loop
// of spec §4.8 on failure. runRelight is supplied by the caller; serving the
// fallback file after a failed dial is left to Relay.
func dial(cf ControlFile, runRelight func(cmd string) error) (net.Conn, error) {
	addr := net.JoinHostPort(cf.Host, cf.Port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err == nil {
		return conn, nil
	}

	if cf.Relight != "" {
		relight := cf.Relight
		cf.Relight = ""
		if runErr := runRelight(relight); runErr == nil {
			metrics.Recorder.SCGIRelightTotal.Inc()
			time.Sleep(1 * time.Second)
			return net.DialTimeout("tcp", addr, 10*time.Second)
		}
	}
	return nil, err
}

// RunRelight executes cmd via the shell synchronously, per spec §4.8 step 1
// ("run it synchronously"). Grounded on os/exec usage throughout the
// examples' subprocess launchers (internal/cgi.Run).
func RunRelight(cmd string) error {
	c := exec.Command("/bin/sh", "-c", cmd)
	c.Stderr = os.Stderr
	return c.Run()
}

// Relay implements spec §4.8 end to end: parse the control file, connect
// (with relight retry), write the header block and POST body, and frame the
// reply through internal/replyframer. serveFallback is invoked, if non-nil
// and cf.Fallback is set, when the backend cannot be reached after retry; it
// is expected to serve the fallback path as a static file (spec §4.6) and
// its error (if any) is returned unchanged.
func Relay(controlPath string, pairs []envvars.Pair, postBodyPath string, req *reqcontext.Request, rw *response.Writer, serveFallback func(relPath string) error) error {
	cf, err := ParseControlFile(controlPath)
	if err != nil {
		return err
	}

	conn, dialErr := dial(cf, RunRelight)
	if dialErr != nil {
		if cf.Fallback != "" && serveFallback != nil {
			return serveFallback(cf.Fallback)
		}
		return fmt.Errorf("scgi: backend %s:%s unreachable: %w", cf.Host, cf.Port, dialErr)
	}
	defer conn.Close()

	if err := writeHeaderBlock(conn, pairs); err != nil {
		return fmt.Errorf("scgi: write header block: %w", err)
	}

	if postBodyPath != "" {
		body, err := os.Open(postBodyPath)
		if err != nil {
			return fmt.Errorf("scgi: open post body: %w", err)
		}
		_, err = io.Copy(conn, body)
		body.Close()
		if err != nil {
			return fmt.Errorf("scgi: forward post body: %w", err)
		}
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}

	return replyframer.Frame(bufio.NewReader(conn), rw, req)
}

// ByFilename reports whether filePath should be dispatched to the SCGI
// relay, per spec §4.9 step 12 ("filename ends in .scgi").
func ByFilename(filePath string) bool {
	return strings.HasSuffix(filePath, ".scgi")
}
