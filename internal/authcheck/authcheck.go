// Package authcheck implements the per-directory "-auth" control file
// grammar and decision procedure of spec §4.5.
package authcheck

import (
	"bufio"
	"os"
	"strings"

	"github.com/hoekit/althttpd/internal/sanitize"
)

// Decision is the outcome of evaluating a -auth file against a request.
type Decision int

const (
	// DecisionAllow means the request may proceed; RemoteUser, if any, has
	// been set by the caller.
	DecisionAllow Decision = iota
	// DecisionChallenge means reply 401 with Realm.
	DecisionChallenge
	// DecisionRedirectHTTPS means reply 301 to the same path over https.
	DecisionRedirectHTTPS
	// DecisionNotFound means reply 404 (https-only over plain HTTP, or a
	// malformed/unreadable auth file, or an unrecognized directive).
	DecisionNotFound
)

// Result carries the decision plus any data the caller needs to act on it.
type Result struct {
	Decision   Decision
	Realm      string
	RemoteUser string
}

// FileName is the per-directory control file name, per spec §4.5.
const FileName = "-auth"

// Evaluate reads the -auth file in dir (if any) and decides how to handle a
// request whose Authorization header value (type, arg) and HTTPS status are
// given. A missing -auth file is reported via ok=false, meaning the caller
// should skip authorization entirely.
func Evaluate(dir string, authType, authArg string, isHTTPS bool) (result Result, ok bool) {
	path := dir + "/" + FileName
	f, err := os.Open(path)
	if err != nil {
		return Result{}, false
	}
	defer f.Close()

	// The Basic credential is decoded at most once per request, regardless
	// of how many `user` directives are checked against it (spec §4.5).
	var decoded string
	var decodedOnce bool
	decodeCred := func() string {
		if !decodedOnce {
			decodedOnce = true
			if strings.EqualFold(authType, "Basic") {
				decoded = sanitize.DecodeBase64(authArg)
			}
		}
		return decoded
	}

	realm := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		directive, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch directive {
		case "realm":
			realm = rest
		case "user":
			name, credPart, found := strings.Cut(rest, " ")
			if !found {
				return Result{Decision: DecisionNotFound}, true
			}
			credPart = strings.TrimSpace(credPart)
			if decodeCred() == credPart {
				return Result{Decision: DecisionAllow, RemoteUser: name}, true
			}
		case "https-only":
			if !isHTTPS {
				return Result{Decision: DecisionNotFound}, true
			}
		case "http-redirect":
			if !isHTTPS {
				return Result{Decision: DecisionRedirectHTTPS}, true
			}
		case "anyone":
			return Result{Decision: DecisionAllow}, true
		default:
			return Result{Decision: DecisionNotFound}, true
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{Decision: DecisionNotFound}, true
	}

	return Result{Decision: DecisionChallenge, Realm: realm}, true
}
