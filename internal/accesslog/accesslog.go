// Package accesslog implements the CSV access log described in spec §4.3.
// Unlike internal/applog (the structured operational logger), this package
// writes a literal, byte-for-byte wire format: downstream log-processing
// tools depend on field order and quoting, so it is deliberately not routed
// through zap, mirroring the separation caddyserver/caddy keeps between its
// structured `log.Logger`-based httpserver.Logger and its JSON/console
// operational logging.
package accesslog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hoekit/althttpd/internal/reqcontext"
)

// Logger appends one CSV line per request to a (possibly strftime-templated)
// log file path, opened in append mode and closed after every write.
type Logger struct {
	pathTemplate string
}

// New creates a Logger writing to the given path template.
func New(pathTemplate string) *Logger {
	return &Logger{pathTemplate: pathTemplate}
}

// expandPath applies a small strftime-like substitution to the configured
// path template (spec §4.3: "may contain calendar-format specifiers"). If
// the expansion is empty, the literal template is used instead.
func expandPath(template string, now time.Time) string {
	if template == "" {
		return template
	}
	r := strings.NewReplacer(
		"%Y", now.Format("2006"),
		"%m", now.Format("01"),
		"%d", now.Format("02"),
		"%H", now.Format("15"),
		"%M", now.Format("04"),
		"%S", now.Format("05"),
	)
	expanded := r.Replace(template)
	if expanded == "" {
		return template
	}
	return expanded
}

// quote doubles any embedded '"' and wraps the field in quotes, per spec
// §4.3's quoting rule.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// rusageMicros reads self and children CPU usage in microseconds. On
// platforms without getrusage this returns zeros, which only affects the
// CPU-delta log fields, never the response on the wire.
func rusageMicros() (selfUser, selfSys, childUser, childSys int64) {
	var self, children syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &self); err == nil {
		selfUser = int64(self.Utime.Sec)*1_000_000 + int64(self.Utime.Usec)
		selfSys = int64(self.Stime.Sec)*1_000_000 + int64(self.Stime.Usec)
	}
	if err := syscall.Getrusage(syscall.RUSAGE_CHILDREN, &children); err == nil {
		childUser = int64(children.Utime.Sec)*1_000_000 + int64(children.Utime.Usec)
		childSys = int64(children.Stime.Sec)*1_000_000 + int64(children.Stime.Usec)
	}
	return
}

// Log writes one CSV entry for req on conn, per spec §4.3. scheme, together
// with req.Host, req.ScriptURI and req.QuerySuffix, builds the quoted full
// URL field. It returns whether the
// connection's close latch is set, so the caller can decide whether to tear
// down the connection (and, in super-server mode, exit the process) or reset
// req and continue serving pipelined requests.
func (l *Logger) Log(req *reqcontext.Request, conn *reqcontext.Connection, scheme string) (closeConnection bool, err error) {
	now := time.Now()
	path := expandPath(l.pathTemplate, now)

	f, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if openErr != nil {
		return req.CloseConnection, fmt.Errorf("accesslog: open %s: %w", path, openErr)
	}
	defer f.Close()

	fullURL := scheme + "://" + req.Host + req.ScriptURI + req.QuerySuffix

	selfUser, selfSys, childUser, childSys := rusageMicros()
	dSelfUser := selfUser - conn.PrevSelfUserMicros
	dSelfSys := selfSys - conn.PrevSelfSystemMicros
	dChildUser := childUser - conn.PrevChildUserMicros
	dChildSys := childSys - conn.PrevChildSystemMicros
	conn.PrevSelfUserMicros, conn.PrevSelfSystemMicros = selfUser, selfSys
	conn.PrevChildUserMicros, conn.PrevChildSystemMicros = childUser, childSys

	wallMicros := time.Since(conn.RequestStart).Microseconds()

	fields := []string{
		now.Format("2006-01-02 15:04:05"),
		req.RemoteAddr,
		quote(fullURL),
		quote(req.Headers.Referer),
		req.ReplyStatus,
		strconv.FormatInt(req.BytesIn, 10),
		strconv.FormatInt(req.BytesOut, 10),
		strconv.FormatInt(dSelfUser, 10),
		strconv.FormatInt(dSelfSys, 10),
		strconv.FormatInt(dChildUser, 10),
		strconv.FormatInt(dChildSys, 10),
		strconv.FormatInt(wallMicros, 10),
		strconv.Itoa(conn.RequestNumber),
		quote(req.Headers.UserAgent),
		quote(req.RemoteUser),
		strconv.Itoa(len(req.ScriptURI)),
		strconv.Itoa(req.DiagLine),
		strconv.FormatBool(conn.ArrivedTLS), // restored HTTPS field, strictly additive (SPEC_FULL.md)
	}

	if _, err := f.WriteString(strings.Join(fields, ",") + "\n"); err != nil {
		return req.CloseConnection, fmt.Errorf("accesslog: write: %w", err)
	}

	if req.PostBodyPath != "" {
		os.Remove(req.PostBodyPath)
	}

	closeConnection = req.CloseConnection
	if !closeConnection {
		req.StatusSent = false
		req.BytesIn = 0
		req.BytesOut = 0
	}
	return closeConnection, nil
}
