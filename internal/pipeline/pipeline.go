// Package pipeline implements the per-request state machine of spec §4.9:
// the thirteen-step sequence from reading the request line through
// dispatching to a static file, CGI script or SCGI backend, to the final
// close-out and log entry. It is the orchestrator that wires together
// internal/sanitize, internal/vhost, internal/authcheck, internal/staticfile,
// internal/cgi, internal/scgi, internal/envvars and internal/accesslog.
//
// The state-machine shape — read one request, dispatch, loop until a close
// condition — is grounded on caddyserver/caddy's httpserver connection
// handling (one handler per accepted net.Conn, sequential request read/
// write, no request pipelining with overlapping responses), generalized
// from Caddy's net/http-routed model to this spec's linear dispatch-by-
// filesystem-object model.
package pipeline

import (
	"bufio"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/hoekit/althttpd/internal/accesslog"
	"github.com/hoekit/althttpd/internal/authcheck"
	"github.com/hoekit/althttpd/internal/cgi"
	"github.com/hoekit/althttpd/internal/config"
	"github.com/hoekit/althttpd/internal/envvars"
	"github.com/hoekit/althttpd/internal/metrics"
	"github.com/hoekit/althttpd/internal/reqcontext"
	"github.com/hoekit/althttpd/internal/response"
	"github.com/hoekit/althttpd/internal/sanitize"
	"github.com/hoekit/althttpd/internal/scgi"
	"github.com/hoekit/althttpd/internal/staticfile"
	"github.com/hoekit/althttpd/internal/vhost"
)

// Diagnostic line numbers tag the terminal response for the 17th CSV log
// field (spec §7); they are a site-local disambiguator, not the HTTP status.
const (
	diagBadProtocol      = 200
	diagEmptyURI         = 210
	diagBadMethod        = 220
	diagBadHost          = 230
	diagBlockedAgent     = 231
	diagOversizeBody     = 240
	diagBadPathSegment   = 250
	diagNoContentRoot    = 260
	diagStatFailNoIndex  = 270
	diagUnreadableFile   = 271
	diagExtraPathInfo    = 272
	diagAuthFileBroken   = 280
	diagCGIWritable      = 290
	diagStaticOK         = 300
	diagCGIOK            = 301
	diagSCGIOK           = 302
	diagRedirectTrailing = 310
	diagRedirectNotFound = 311
	diagMalfunction      = 500
)

// Pipeline holds everything shared across connections: process-wide config
// and the two loggers (structured operational, and the literal CSV access
// log).
type Pipeline struct {
	Config    *config.Config
	AccessLog *accesslog.Logger
	Log       *zap.Logger
}

// New constructs a Pipeline.
func New(cfg *config.Config, accessLog *accesslog.Logger, log *zap.Logger) *Pipeline {
	return &Pipeline{Config: cfg, AccessLog: accessLog, Log: log}
}

// Serve drives the per-request loop for one accepted connection until the
// close latch fires or the peer disconnects, per spec §4.9 step 13 and §5
// ("up to 100 requests, then one final request with force-close").
func (p *Pipeline) Serve(conn net.Conn) {
	defer conn.Close()

	c := &reqcontext.Connection{
		Conn:       conn,
		RemoteAddr: remoteIP(conn.RemoteAddr().String()),
		ArrivedTLS: p.Config.HTTPS,
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		c.RequestNumber++
		c.RequestStart = time.Now()
		if c.RequestNumber > 100 {
			c.ForceClose = true
		}

		req := &reqcontext.Request{RemoteAddr: c.RemoteAddr}
		rw := response.New(bw, req)
		responders := &response.Responders{
			Writer: rw,
			Logger: p.AccessLog,
			Req:    req,
			Conn:   c,
			Scheme: p.scheme(),
		}

		closeConnection, eof := p.handleOne(br, rw, responders, req, c)
		metrics.ObserveRequest(req.ReplyStatus)
		if eof || closeConnection || c.ForceClose {
			return
		}
	}
}

func (p *Pipeline) scheme() string {
	if p.Config.HTTPS {
		return "https"
	}
	return "http"
}

// handleOne runs one full pass of the spec §4.9 state machine. eof is true
// when the peer closed the connection before sending a request line (a
// silent exit, not an error).
func (p *Pipeline) handleOne(br *bufio.Reader, rw *response.Writer, responders *response.Responders, req *reqcontext.Request, c *reqcontext.Connection) (closeConnection, eof bool) {
	conn := c.Conn
	if t := p.Config.InterRequestTimeout(); t > 0 {
		conn.SetReadDeadline(time.Now().Add(t))
	}

	// Step 2: request line.
	line, err := br.ReadString('\n')
	if err != nil {
		if line == "" {
			return false, true
		}
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return false, true
	}

	if t := p.Config.HeaderTimeout(); t > 0 {
		conn.SetReadDeadline(time.Now().Add(t))
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return responders.Malfunction(diagBadProtocol, "bad request line"), false
	}
	req.Method, req.RawURI, req.Protocol = fields[0], fields[1], fields[2]

	if len(req.Protocol) != 8 || !strings.HasPrefix(req.Protocol, "HTTP/") {
		return responders.Malfunction(diagBadProtocol, "bad protocol %q", req.Protocol), false
	}
	if !strings.HasPrefix(req.RawURI, "/") {
		return responders.NotFound(diagEmptyURI), false
	}
	for strings.HasPrefix(req.RawURI, "//") {
		req.RawURI = req.RawURI[1:]
	}
	if req.Protocol < "HTTP/1.1" || c.ForceClose {
		req.CloseConnection = true
	}

	// Step 3: method.
	switch req.Method {
	case "GET", "POST", "HEAD":
	default:
		return responders.Malfunction(diagBadMethod, "unsupported method %q", req.Method), false
	}

	// Step 4: headers.
	if close := p.readHeaders(br, req, responders); close {
		return true, false
	}

	// Step 5: defaults.
	if req.Host == "" {
		if hn, err := os.Hostname(); err == nil {
			req.Host = hn
		}
	}
	if req.ServerPort == "" {
		req.ServerPort = strconv.Itoa(p.Config.Port)
	}

	// Step 6: split query.
	if idx := strings.IndexByte(req.RawURI, '?'); idx >= 0 {
		req.ScriptURI = req.RawURI[:idx]
		req.QuerySuffix = req.RawURI[idx:]
	} else {
		req.ScriptURI = req.RawURI
	}

	// Step 7: POST body capture.
	if strings.HasPrefix(req.Method, "P") && req.Headers.ContentLength != "" {
		if closeNow := p.capturePostBody(br, req, responders, conn); closeNow {
			return true, false
		}
	}

	// Step 8: sanitize path. The substitution count only gates the Host
	// header (spec §4.1); a sanitized path segment is checked structurally
	// below instead.
	req.ScriptURI, _ = sanitize.Path(req.ScriptURI)
	if badPathSegment(req.ScriptURI) {
		return responders.NotFound(diagBadPathSegment), false
	}

	// Step 9: choose content root.
	host, port := vhost.SplitHostPort(req.Host)
	if port != "" {
		req.ServerPort = port
	}
	normalizedHost := vhost.NormalizeHost(host)
	root, ok := vhost.Resolve(p.Config.Root, normalizedHost, p.Config.Standalone)
	if !ok {
		return responders.NotFound(diagNoContentRoot), false
	}
	req.ContentRoot = root
	req.Host = normalizedHost

	// Step 10: resolve file.
	resolution, done := p.resolveFile(req, responders)
	if done {
		return resolution.closeConnection, false
	}

	if t := p.Config.PreDispatchTimeout(); t > 0 {
		conn.SetDeadline(time.Now().Add(t))
	}

	// Step 11: auth check.
	if result, ok := authcheck.Evaluate(req.DirPath, req.Auth.Type, req.Auth.Arg, p.Config.HTTPS); ok {
		switch result.Decision {
		case authcheck.DecisionAllow:
			req.RemoteUser = result.RemoteUser
		case authcheck.DecisionChallenge:
			return responders.NotAuthorized(result.Realm, diagAuthFileBroken), false
		case authcheck.DecisionRedirectHTTPS:
			hostPort := response.BuildHostPort(req.Host, req.ServerPort)
			return responders.Redirect("https", hostPort, req.ScriptURI, req.QuerySuffix, 301, true, diagRedirectTrailing), false
		case authcheck.DecisionNotFound:
			return responders.NotFound(diagAuthFileBroken), false
		}
	}

	// Step 12: dispatch.
	return p.dispatch(req, rw, responders, conn), false
}

type fileResolution struct {
	closeConnection bool
}

// readHeaders implements spec §4.9 step 4.
func (p *Pipeline) readHeaders(br *bufio.Reader, req *reqcontext.Request, responders *response.Responders) (closed bool) {
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			if err != nil {
				break
			}
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)

		switch name {
		case "host":
			sanitizedHost, subs := sanitize.Path(value)
			if subs != 0 {
				responders.Forbidden(diagBadHost)
				return true
			}
			req.Host = sanitizedHost
		case "user-agent":
			req.Headers.UserAgent = value
			for _, blocked := range p.Config.BlockedUserAgents {
				if blocked != "" && strings.Contains(value, blocked) {
					responders.Forbidden(diagBlockedAgent)
					return true
				}
			}
		case "accept":
			req.Headers.Accept = value
		case "accept-encoding":
			req.Headers.AcceptEncoding = value
		case "cookie":
			if req.Headers.Cookie == "" {
				req.Headers.Cookie = value
			} else {
				req.Headers.Cookie += "; " + value
			}
		case "referer":
			req.Headers.Referer = value
			for _, blocked := range p.Config.BlockedReferrers {
				if blocked != "" && strings.Contains(value, blocked) {
					responders.Forbidden(diagBlockedAgent)
					return true
				}
			}
		case "if-none-match":
			req.Headers.IfNoneMatch = value
		case "if-modified-since":
			req.Headers.IfModifiedSince = value
		case "range":
			parseRange(value, req)
		case "authorization":
			req.Headers.Authorization = value
			authType, authArg, found := strings.Cut(value, " ")
			if found {
				req.Auth.Type = authType
				req.Auth.Arg = authArg
			}
		case "content-length":
			req.Headers.ContentLength = value
		case "content-type":
			req.Headers.ContentType = value
		case "connection":
			if strings.EqualFold(value, "close") {
				req.CloseConnection = true
			}
		}

		if err != nil {
			break
		}
	}
	return false
}

// parseRange parses a "bytes=S-E" or "bytes=S-" Range header, per spec §4.9
// step 4.
func parseRange(value string, req *reqcontext.Request) {
	spec := strings.TrimPrefix(value, "bytes=")
	if spec == value {
		return
	}
	start, end, found := strings.Cut(spec, "-")
	if !found {
		return
	}
	s, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return
	}
	req.RangeStart = s
	req.HasRange = true
	if end == "" {
		// Open-ended range ("bytes=S-"): the original sets rangeEnd to
		// 0x7fffffff so it always clamps down to size-1 (althttpd-linenum.c
		// n==1 && x1>0 case); mirror that with a sentinel well past any
		// real file size.
		req.RangeEnd = math.MaxInt64
		return
	}
	if e, err := strconv.ParseInt(end, 10, 64); err == nil {
		req.RangeEnd = e
	}
}

// capturePostBody implements spec §4.9 step 7.
func (p *Pipeline) capturePostBody(br *bufio.Reader, req *reqcontext.Request, responders *response.Responders, conn net.Conn) (closed bool) {
	n, err := strconv.ParseInt(req.Headers.ContentLength, 10, 64)
	if err != nil || n < 0 {
		responders.Malfunction(diagOversizeBody, "bad content-length")
		return true
	}
	if n > config.MaxContentLength {
		responders.Malfunction(diagOversizeBody, "content-length %d exceeds maximum", n)
		return true
	}

	f, err := os.CreateTemp("", "-post-data-"+uuid.NewString())
	if err != nil {
		responders.Malfunction(diagMalfunction, "mkstemp: %v", err)
		return true
	}
	defer f.Close()

	if t := p.Config.PostBodyTimeout(n); t > 0 {
		conn.SetReadDeadline(time.Now().Add(t))
	}

	written, err := io.Copy(f, io.LimitReader(br, n))
	if err != nil || written != n {
		responders.Malfunction(diagMalfunction, "short post body read: %v", err)
		return true
	}
	req.BytesIn += written
	req.PostBodyPath = f.Name()
	return false
}

// badPathSegment implements spec §4.9 step 8's rejection rule: no segment
// may begin with '.' or '-', except that "/.well-known/" permits '.' and
// '-' but never "/..".
func badPathSegment(scriptURI string) bool {
	if strings.HasPrefix(scriptURI, "/.well-known/") {
		return strings.Contains(scriptURI, "/..")
	}
	for _, seg := range strings.Split(scriptURI, "/") {
		if strings.HasPrefix(seg, ".") || strings.HasPrefix(seg, "-") {
			return true
		}
	}
	return false
}

// resolveFile implements spec §4.9 step 10.
func (p *Pipeline) resolveFile(req *reqcontext.Request, responders *response.Responders) (fileResolution, bool) {
	segments := strings.Split(strings.Trim(req.ScriptURI, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	cur := req.ContentRoot
	for i, seg := range segments {
		candidate := filepath.Join(cur, seg)
		info, err := os.Stat(candidate)
		if err != nil {
			if redirectPath, ok := findNotFoundPage(cur, req.ContentRoot); ok {
				return fileResolution{closeConnection: responders.Redirect(
					responders.Scheme, response.BuildHostPort(req.Host, req.ServerPort),
					redirectPath, "", 302, true, diagRedirectNotFound)}, true
			}
			return fileResolution{closeConnection: responders.NotFound(diagStatFailNoIndex)}, true
		}

		if info.Mode().IsRegular() {
			if info.Mode().Perm()&0444 == 0 {
				return fileResolution{closeConnection: responders.NotFound(diagUnreadableFile)}, true
			}
			req.FilePath = candidate
			req.RealScript = candidate
			req.DirPath = cur
			req.PathInfo = "/" + strings.Join(segments[i+1:], "/")
			if req.PathInfo == "/" {
				req.PathInfo = ""
			}
			return fileResolution{}, false
		}

		cur = candidate
	}

	// Walk ended at a directory: try /home, /index.html, /index.cgi.
	for _, candidate := range []string{"home", "index.html", "index.cgi"} {
		full := filepath.Join(cur, candidate)
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			if !strings.HasSuffix(req.ScriptURI, "/") {
				return fileResolution{closeConnection: responders.Redirect(
					responders.Scheme, response.BuildHostPort(req.Host, req.ServerPort),
					req.ScriptURI+"/", req.QuerySuffix, 301, true, diagRedirectTrailing)}, true
			}
			req.FilePath = full
			req.RealScript = full
			req.DirPath = cur
			req.PathInfo = ""
			return fileResolution{}, false
		}
	}
	return fileResolution{closeConnection: responders.NotFound(diagStatFailNoIndex)}, true
}

// findNotFoundPage searches from dir up to root (inclusive) for a
// not-found.html file, per spec §4.9 step 10.
func findNotFoundPage(dir, root string) (string, bool) {
	for {
		candidate := filepath.Join(dir, "not-found.html")
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			rel, err := filepath.Rel(root, candidate)
			if err == nil {
				return "/" + rel, true
			}
		}
		if dir == root || dir == "/" || dir == "." {
			return "", false
		}
		dir = filepath.Dir(dir)
	}
}

// dispatch implements spec §4.9 step 12.
func (p *Pipeline) dispatch(req *reqcontext.Request, rw *response.Writer, responders *response.Responders, conn net.Conn) bool {
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return responders.NotFound(diagUnreadableFile)
	}

	armStaticStream := func(size int64) {
		if t := p.Config.StaticStreamTimeout(size); t > 0 {
			conn.SetWriteDeadline(time.Now().Add(t))
		}
	}

	switch {
	case cgi.IsExecutable(info):
		if err := cgi.CheckPermissions(info); err != nil {
			return responders.CGIError(diagCGIWritable, "script is writable by group or others")
		}
		metrics.Recorder.CGIInvocationsTotal.Inc()
		pairs := envvars.Build(req, envvars.Params{
			DocumentRoot:    req.ContentRoot,
			ScriptDirectory: req.DirPath,
			ScriptFilename:  req.FilePath,
			ScriptName:      req.ScriptURI,
			ServerName:      req.Host,
			ServerPort:      req.ServerPort,
			HTTPS:           p.Config.HTTPS,
		})
		if err := cgi.Run(req.FilePath, req.DirPath, pairs, req.PostBodyPath, req, rw, conn); err != nil {
			p.Log.Error("cgi script failed", zap.String("script", req.FilePath), zap.Error(err))
			return responders.Malfunction(diagMalfunction, "cgi: %v", err)
		}
		if cgi.IsNPH(req.FilePath) {
			// NPH bypasses the reply framer and the access log by contract
			// (spec §4.7); the connection is torn down after this request.
			return true
		}
		return responders.Finish(diagCGIOK)

	case scgi.ByFilename(req.FilePath):
		pairs := envvars.Build(req, envvars.Params{
			DocumentRoot:    req.ContentRoot,
			ScriptDirectory: req.DirPath,
			ScriptFilename:  req.FilePath,
			ScriptName:      req.ScriptURI,
			ServerName:      req.Host,
			ServerPort:      req.ServerPort,
			SCGI:            true,
		})
		err := scgi.Relay(req.FilePath, pairs, req.PostBodyPath, req, rw, func(relPath string) error {
			fallbackPath := filepath.Join(req.DirPath, relPath)
			info, statErr := os.Stat(fallbackPath)
			if statErr != nil {
				return statErr
			}
			req.CloseConnection = true
			return staticfile.Serve(fallbackPath, info, req, rw, p.Config.MaxAge, armStaticStream)
		})
		if err != nil {
			p.Log.Error("scgi relay failed", zap.String("control_file", req.FilePath), zap.Error(err))
			return responders.Malfunction(diagMalfunction, "scgi: %v", err)
		}
		return responders.Finish(diagSCGIOK)

	case req.PathInfo != "":
		// Extra path info past the resolved file is only meaningful for
		// CGI/SCGI; static content forbids it (spec §4.9 step 12).
		return responders.NotFound(diagExtraPathInfo)

	default:
		if err := staticfile.Serve(req.FilePath, info, req, rw, p.Config.MaxAge, armStaticStream); err != nil {
			return responders.Malfunction(diagMalfunction, "static: %v", err)
		}
		return responders.Finish(diagStaticOK)
	}
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return strings.TrimPrefix(host, "::ffff:")
}
