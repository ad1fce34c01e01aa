// Package replyframer implements the CGI/SCGI reply framer of spec §4.7,
// shared by the CGI launcher (internal/cgi) and the SCGI relay
// (internal/scgi). It is grounded on caddyserver/caddy's
// middleware/scgi/scgiclient.go and caddyhttp/fastcgi/fcgiclient.go, which
// both parse a CGI-style header block off a backend stream with
// net/textproto before framing an http.Response; this package performs the
// equivalent parse directly against the spec's response-writer contract
// instead of constructing an http.Response.
package replyframer

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
)

// Frame reads a CGI-style header block from r and forwards it, followed by
// the body, to rw. req carries any pending byte-range request (set by the
// earlier static/dispatch logic); a Location or non-200 Status header
// cancels it, per spec §4.7.
func Frame(r *bufio.Reader, rw *response.Writer, req *reqcontext.Request) error {
	tp := textproto.NewReader(r)

	var (
		location      string
		statusPhrase  = "200 OK"
		statusCode    = 200
		contentLength int64 = -1
		passthrough   []headerLine
	)

	for {
		line, err := tp.ReadLine()
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("replyframer: reading header line: %w", err)
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		switch strings.ToLower(name) {
		case "location":
			location = value
			req.HasRange = false
		case "status":
			statusPhrase = value
			if len(value) >= 3 {
				if n, err := strconv.Atoi(value[:3]); err == nil {
					statusCode = n
				}
			}
			if statusCode != 200 {
				req.HasRange = false
			}
		case "content-length":
			contentLength, _ = strconv.ParseInt(value, 10, 64)
		default:
			passthrough = append(passthrough, headerLine{name, value})
		}
	}

	if location != "" {
		rw.StartResponse("302 Redirect")
		rw.Header("Location", location)
		rw.Header("Content-Length", "0")
		rw.EndHeaders()
		return nil
	}

	rw.StartResponse(statusPhrase)

	if contentLength >= 0 && req.HasRange && req.RangeStart < contentLength {
		end := req.RangeEnd
		if end < req.RangeStart || end >= contentLength {
			end = contentLength - 1
		}
		rw.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", req.RangeStart, end, contentLength))
		adjusted := end - req.RangeStart + 1
		for _, h := range passthrough {
			rw.Header(h.name, h.value)
		}
		rw.Header("Content-Length", strconv.FormatInt(adjusted, 10))
		rw.EndHeaders()
		return streamRange(r, rw, req, contentLength, adjusted)
	}

	rw.StartResponse(statusPhrase)

	for _, h := range passthrough {
		rw.Header(h.name, h.value)
	}

	if contentLength >= 0 {
		rw.Header("Content-Length", strconv.FormatInt(contentLength, 10))
		rw.EndHeaders()
		return streamExact(r, rw, req, contentLength)
	}

	// No Content-length: buffer the remainder to report an accurate length
	// (spec §4.7 "absent Content-length, fully buffer the remainder").
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("replyframer: buffering body: %w", err)
	}
	rw.Header("Content-Length", strconv.Itoa(len(body)))
	rw.EndHeaders()
	if req.Method != "HEAD" {
		_, err = rw.WriteBody(body)
	}
	return err
}

type headerLine struct{ name, value string }

// streamExact copies exactly n bytes from r to rw; for a HEAD request the
// bytes are read and discarded.
func streamExact(r *bufio.Reader, rw *response.Writer, req *reqcontext.Request, n int64) error {
	if req.Method == "HEAD" {
		_, err := io.CopyN(io.Discard, r, n)
		return err
	}
	_, err := io.CopyN(writerFunc(rw.WriteBody), r, n)
	return err
}

// streamRange skips req.RangeStart bytes then copies adjusted bytes.
func streamRange(r *bufio.Reader, rw *response.Writer, req *reqcontext.Request, total, adjusted int64) error {
	if req.RangeStart > 0 {
		if _, err := io.CopyN(io.Discard, r, req.RangeStart); err != nil {
			return err
		}
	}
	if req.Method == "HEAD" {
		_, err := io.CopyN(io.Discard, r, adjusted)
		return err
	}
	_, err := io.CopyN(writerFunc(rw.WriteBody), r, adjusted)
	return err
}

// writerFunc adapts a (p []byte) (int, error) method value to io.Writer.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
