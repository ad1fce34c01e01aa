// Package staticfile implements the static file responder of spec §4.6:
// stat, conditional-GET shortcut, byte-range computation and a buffered
// copy of the body to the response writer. It is grounded on caddyserver/caddy's
// caddyhttp/staticfiles/fileserver.go (ETag computed from mtime+size,
// Accept-Ranges handling) but computes the exact `m<mtime-hex>s<size-hex>`
// ETag the spec requires instead of delegating to net/http.ServeContent,
// since the spec's cache semantics (quoted If-None-Match literal match,
// If-Modified-Since compared against mtime) are a fixed wire contract.
package staticfile

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hoekit/althttpd/internal/mimetype"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
	"github.com/hoekit/althttpd/internal/sanitize"
)

// ETag computes the spec's ETag for a file of the given mtime (unix
// seconds) and size.
func ETag(mtimeUnix, size int64) string {
	return fmt.Sprintf("m%xs%x", mtimeUnix, size)
}

// Serve writes file at path to rw according to req, per spec §4.6. maxAgeSec
// is the configured Cache-Control max-age (spec §6 --max-age). armTimeout,
// if non-nil, is called with the full file size in bytes so the caller can
// re-arm its write deadline for the body transfer (spec §5: "30 + size/1000s").
func Serve(path string, info os.FileInfo, req *reqcontext.Request, rw *response.Writer, maxAgeSec int, armTimeout func(size int64)) error {
	size := info.Size()
	mtime := info.ModTime().Unix()
	etag := ETag(mtime, size)

	if cacheHit(req, etag, mtime) {
		rw.StartResponse("304 Not Modified")
		rw.Header("Last-Modified", sanitize.Rfc822Date(mtime))
		rw.Header("Cache-Control", fmt.Sprintf("max-age=%d", maxAgeSec))
		rw.Header("ETag", etag)
		rw.Header("Content-Length", "0")
		rw.EndHeaders()
		return nil
	}

	rangeStart, rangeEnd, partial := computeRange(req, size)
	reportedSize := size
	if partial {
		rw.StartResponse("206 Partial Content")
		rw.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rangeStart, rangeEnd, size))
		reportedSize = rangeEnd - rangeStart + 1
	} else {
		rw.StartResponse("200 OK")
		rangeStart = 0
	}

	rw.Header("Last-Modified", sanitize.Rfc822Date(mtime))
	rw.Header("Cache-Control", fmt.Sprintf("max-age=%d", maxAgeSec))
	rw.Header("ETag", etag)
	rw.Header("Content-type", mimetype.Lookup(path)+"; charset=utf-8")
	rw.Header("Content-length", strconv.FormatInt(reportedSize, 10))
	rw.EndHeaders()

	if req.Method == "HEAD" {
		return nil
	}

	if armTimeout != nil {
		armTimeout(size)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("staticfile: open %s: %w", path, err)
	}
	defer f.Close()

	if rangeStart > 0 {
		if _, err := f.Seek(rangeStart, io.SeekStart); err != nil {
			return fmt.Errorf("staticfile: seek %s: %w", path, err)
		}
	}

	_, err = io.CopyN(bodyWriter{rw}, f, reportedSize)
	if err == io.EOF {
		err = nil
	}
	return err
}

type bodyWriter struct{ rw *response.Writer }

func (b bodyWriter) Write(p []byte) (int, error) { return b.rw.WriteBody(p) }

// cacheHit implements spec §4.6 step 2.
func cacheHit(req *reqcontext.Request, etag string, mtimeUnix int64) bool {
	if inm := req.Headers.IfNoneMatch; inm != "" {
		if matchesETag(inm, etag) {
			return true
		}
	}
	if ims := req.Headers.IfModifiedSince; ims != "" {
		if t, ok := sanitize.ParseRfc822Date(ims); ok && t >= mtimeUnix {
			return true
		}
	}
	return false
}

func matchesETag(header, etag string) bool {
	header = strings.Trim(strings.TrimSpace(header), `"`)
	return header == strings.Trim(etag, `"`)
}

// computeRange implements spec §4.6 step 3.
func computeRange(req *reqcontext.Request, size int64) (start, end int64, partial bool) {
	if !req.HasRange || req.RangeEnd < req.RangeStart || req.RangeStart >= size {
		return 0, 0, false
	}
	end = req.RangeEnd
	if end >= size {
		end = size - 1
	}
	return req.RangeStart, end, true
}
