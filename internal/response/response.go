// Package response implements the response writer of spec §4.4: the status
// line / keep-alive / Date-header latch, and the predefined responders
// (not_found, forbidden, not_authorized, cgi_error, ...).
package response

import (
	"bufio"
	"fmt"
	"time"

	"github.com/hoekit/althttpd/internal/accesslog"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/sanitize"
)

// Writer wraps the connection's write side and the in-flight request
// context, enforcing the single-writer-per-request status latch of spec §3.
type Writer struct {
	bw  *bufio.Writer
	req *reqcontext.Request
}

// New wraps w for req.
func New(w *bufio.Writer, req *reqcontext.Request) *Writer {
	return &Writer{bw: w, req: req}
}

// StartResponse writes the status line and standard headers exactly once
// per request (spec §4.4). Subsequent calls are no-ops.
func (rw *Writer) StartResponse(codePhrase string) {
	if rw.req.StatusSent {
		return
	}
	if len(codePhrase) < 3 {
		// A CGI/SCGI backend emitted a malformed Status header; fall back to
		// a generic success line rather than slicing out of range.
		codePhrase = "200 OK"
	}
	rw.req.StatusSent = true
	rw.req.ReplyStatus = codePhrase[:3]

	fmt.Fprintf(rw.bw, "%s %s\r\n", rw.req.Protocol, codePhrase)

	// Any 4xx/5xx status latches the connection closed, except a 401
	// challenge, which leaves the connection open for a retried request.
	if codePhrase[0] >= '4' && codePhrase[:3] != "401" {
		rw.req.CloseConnection = true
	}
	if rw.req.CloseConnection {
		fmt.Fprintf(rw.bw, "Connection: close\r\n")
	} else {
		fmt.Fprintf(rw.bw, "Connection: keep-alive\r\n")
	}
	fmt.Fprintf(rw.bw, "Date: %s\r\n", sanitize.Rfc822Date(time.Now().Unix()))
}

// Header writes a single "Name: value" header line. It writes unconditionally
// and does not check whether StartResponse has been called (callers are
// expected to always call StartResponse first).
func (rw *Writer) Header(name, value string) {
	fmt.Fprintf(rw.bw, "%s: %s\r\n", name, value)
}

// EndHeaders writes the blank line terminating the header block.
func (rw *Writer) EndHeaders() {
	fmt.Fprintf(rw.bw, "\r\n")
}

// WriteBody writes raw body bytes and tracks BytesOut.
func (rw *Writer) WriteBody(p []byte) (int, error) {
	n, err := rw.bw.Write(p)
	rw.req.BytesOut += int64(n)
	return n, err
}

// Flush flushes the underlying buffered writer.
func (rw *Writer) Flush() error {
	return rw.bw.Flush()
}

// Responders bundles the logger and scheme/host info the predefined
// responders need to finish a request (log + decide exit) after writing a
// canned error body, per spec §4.4 and §7.
type Responders struct {
	Writer *Writer
	Logger *accesslog.Logger
	Req    *reqcontext.Request
	Conn   *reqcontext.Connection
	Scheme string
}

func (r *Responders) finish(diagLine int) (closeConnection bool) {
	r.Req.DiagLine = diagLine
	r.Writer.Flush()
	closed, _ := r.Logger.Log(r.Req, r.Conn, r.Scheme)
	return closed
}

// Finish flushes and logs a response whose status line and body were
// already written directly by a responder other than the ones in this
// package (staticfile, replyframer via cgi/scgi), per spec §4.9 step 13.
func (r *Responders) Finish(diagLine int) bool {
	return r.finish(diagLine)
}

// NotFound replies 404 Not Found, per spec §4.4/§7.
func (r *Responders) NotFound(diagLine int) bool {
	r.Writer.StartResponse("404 Not Found")
	r.Writer.Header("Content-Type", "text/plain; charset=utf-8")
	body := []byte("Not Found\n")
	r.Writer.Header("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Writer.EndHeaders()
	if r.Req.Method != "HEAD" {
		r.Writer.WriteBody(body)
	}
	return r.finish(diagLine)
}

// Forbidden replies 403 Forbidden.
func (r *Responders) Forbidden(diagLine int) bool {
	r.Writer.StartResponse("403 Forbidden")
	r.Writer.Header("Content-Type", "text/plain; charset=utf-8")
	body := []byte("Forbidden\n")
	r.Writer.Header("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Writer.EndHeaders()
	if r.Req.Method != "HEAD" {
		r.Writer.WriteBody(body)
	}
	return r.finish(diagLine)
}

// NotAuthorized replies 401 with a WWW-Authenticate challenge. Unlike the
// other responders, this does not terminate the connection: the caller must
// stop processing the current request but the connection may carry further
// pipelined requests (spec §4.5, §7).
func (r *Responders) NotAuthorized(realm string, diagLine int) bool {
	r.Writer.StartResponse("401 Authorization Required")
	r.Writer.Header("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, realm))
	r.Writer.Header("Content-Type", "text/plain; charset=utf-8")
	body := []byte("Authorization Required\n")
	r.Writer.Header("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Writer.EndHeaders()
	if r.Req.Method != "HEAD" {
		r.Writer.WriteBody(body)
	}
	return r.finish(diagLine)
}

// CGIError replies 500 CGI Configuration Error.
func (r *Responders) CGIError(diagLine int, msg string) bool {
	r.Writer.StartResponse("500 CGI Configuration Error")
	r.Writer.Header("Content-Type", "text/plain; charset=utf-8")
	body := []byte(msg + "\n")
	r.Writer.Header("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Writer.EndHeaders()
	if r.Req.Method != "HEAD" {
		r.Writer.WriteBody(body)
	}
	return r.finish(diagLine)
}

// Malfunction replies 500 Server Malfunction with a diagnostic message,
// per spec §7 ("Internal malfunction").
func (r *Responders) Malfunction(diagLine int, format string, args ...interface{}) bool {
	msg := fmt.Sprintf(format, args...)
	r.Writer.StartResponse("500 Server Malfunction")
	r.Writer.Header("Content-Type", "text/plain; charset=utf-8")
	body := []byte(fmt.Sprintf("Server malfunction #%d: %s\n", diagLine, msg))
	r.Writer.Header("Content-Length", fmt.Sprintf("%d", len(body)))
	r.Writer.EndHeaders()
	if r.Req.Method != "HEAD" {
		r.Writer.WriteBody(body)
	}
	return r.finish(diagLine)
}

// Redirect replies with the given 3xx code; finish controls whether the
// request is logged+closed out immediately (true) or left for the caller to
// finish (false), per spec §4.4.
func (r *Responders) Redirect(scheme, hostPort, path, query string, code int, finish bool, diagLine int) bool {
	phrase := map[int]string{
		301: "301 Permanent Redirect",
		302: "302 Temporary Redirect",
		308: "308 Permanent Redirect",
	}[code]
	r.Writer.StartResponse(phrase)
	location := scheme + "://" + hostPort + path + query
	r.Writer.Header("Location", location)
	r.Writer.Header("Content-Length", "0")
	r.Writer.EndHeaders()
	if !finish {
		return false
	}
	return r.finish(diagLine)
}

// BuildHostPort composes a Host[:port] pair for Location headers, omitting
// the port when empty or exactly "80" (spec §4.4).
func BuildHostPort(host, port string) string {
	if port == "" || port == "80" {
		return host
	}
	return host + ":" + port
}
