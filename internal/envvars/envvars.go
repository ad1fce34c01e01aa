// Package envvars holds the single, immutable CGI/SCGI variable table
// described in spec §4.9 and §9 ("CGI / SCGI env map as data"): the mapping
// from variable name to request-context field is defined once here and
// walked, in the same order, by both the CGI putenv loop (internal/cgi) and
// the SCGI header-block loop (internal/scgi). CONTENT_LENGTH is always
// first, which matters for SCGI (spec §4.8).
package envvars

import (
	"strings"

	"github.com/hoekit/althttpd/internal/reqcontext"
)

// badPrefix is the historical bash function-export vulnerability guard
// (spec §6 "Environment policy"): any value beginning with this is silenced.
const badPrefix = "() {"

// Params is everything the table needs besides the request context itself.
type Params struct {
	DocumentRoot    string
	ScriptDirectory string
	ScriptFilename  string
	ScriptName      string
	ServerName      string
	ServerPort      string
	HTTPS           bool
	SCGI            bool // sets SCGI=1 and omits GATEWAY_INTERFACE/HTTPS/REQUEST_SCHEME
}

// Build returns the ordered (name, value) pairs for req, with
// CONTENT_LENGTH first, per spec §4.9's fixed mapping. A nil/zero value is
// rendered as "", never omitted from the CGI putenv loop, but the SCGI
// writer (internal/scgi) is responsible for omitting empty-valued pairs per
// spec §4.8 ("omitting any whose value is null").
func Build(req *reqcontext.Request, p Params) []Pair {
	contentLength := req.Headers.ContentLength
	if contentLength == "" {
		contentLength = "0"
	}

	pairs := []Pair{
		{"CONTENT_LENGTH", contentLength},
		{"AUTH_TYPE", req.Auth.Type},
		{"AUTH_CONTENT", req.Auth.Arg},
		{"CONTENT_TYPE", req.Headers.ContentType},
		{"DOCUMENT_ROOT", p.DocumentRoot},
		{"HTTP_ACCEPT", req.Headers.Accept},
		{"HTTP_ACCEPT_ENCODING", req.Headers.AcceptEncoding},
		{"HTTP_COOKIE", req.Headers.Cookie},
		{"HTTP_HOST", req.Host},
		{"HTTP_IF_MODIFIED_SINCE", req.Headers.IfModifiedSince},
		{"HTTP_IF_NONE_MATCH", req.Headers.IfNoneMatch},
		{"HTTP_REFERER", req.Headers.Referer},
		{"HTTP_USER_AGENT", req.Headers.UserAgent},
		{"PATH", "/usr/bin:/bin"},
		{"PATH_INFO", req.PathInfo},
		{"QUERY_STRING", strings.TrimPrefix(req.QuerySuffix, "?")},
		{"REMOTE_ADDR", req.RemoteAddr},
		{"REQUEST_METHOD", req.Method},
		{"REQUEST_URI", req.RawURI},
		{"REMOTE_USER", req.RemoteUser},
		{"SCRIPT_DIRECTORY", p.ScriptDirectory},
		{"SCRIPT_FILENAME", p.ScriptFilename},
		{"SCRIPT_NAME", p.ScriptName},
		{"SERVER_NAME", p.ServerName},
		{"SERVER_PORT", p.ServerPort},
		{"SERVER_PROTOCOL", req.Protocol},
	}

	if p.SCGI {
		pairs = append(pairs, Pair{"SCGI", "1"})
	} else {
		pairs = append(pairs,
			Pair{"GATEWAY_INTERFACE", "CGI/1.0"},
		)
		if p.HTTPS {
			pairs = append(pairs, Pair{"HTTPS", "on"}, Pair{"REQUEST_SCHEME", "https"})
		} else {
			pairs = append(pairs, Pair{"REQUEST_SCHEME", "http"})
		}
	}

	for i, pair := range pairs {
		if strings.HasPrefix(pair.Value, badPrefix) {
			pairs[i].Value = ""
		}
	}

	return pairs
}

// Pair is one NAME=VALUE entry.
type Pair struct {
	Name  string
	Value string
}
