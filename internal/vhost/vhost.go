// Package vhost implements virtual-host directory resolution (spec §4.9
// steps 8-9, §6 "Virtual hosting"): <host>.website under the content root,
// falling back to default.website, and in standalone mode to the root
// itself.
package vhost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeHost lowercases host, strips a trailing dot, and replaces any
// byte other than [a-z0-9] with '_' (including '.', so "example.com"
// becomes "example_com"), per spec §4.9 step 9 and the original's
// www_sqlite_org.website convention (althttpd-linenum.c). The caller is
// expected to have already split off the port.
func NormalizeHost(host string) string {
	host = strings.ToLower(host)
	host = strings.TrimSuffix(host, ".")
	out := make([]byte, len(host))
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// SplitHostPort splits a Host header value into host and port, honoring a
// bracketed IPv6 literal ("[::1]:8080"), per spec §4.9 step 4.
func SplitHostPort(hostHeader string) (host, port string) {
	if strings.HasPrefix(hostHeader, "[") {
		if end := strings.IndexByte(hostHeader, ']'); end >= 0 {
			host = hostHeader[1:end]
			rest := hostHeader[end+1:]
			if strings.HasPrefix(rest, ":") {
				port = rest[1:]
			}
			return host, port
		}
	}
	if idx := strings.LastIndexByte(hostHeader, ':'); idx >= 0 {
		return hostHeader[:idx], hostHeader[idx+1:]
	}
	return hostHeader, ""
}

// Resolve chooses the content root directory for a normalized host, per
// spec §4.9 step 9: <root>/<host>.website, else <root>/default.website,
// else (standalone only) <root> itself.
func Resolve(root, normalizedHost string, standalone bool) (string, bool) {
	candidate := filepath.Join(root, normalizedHost+".website")
	if isDir(candidate) {
		return candidate, true
	}
	defaultSite := filepath.Join(root, "default.website")
	if isDir(defaultSite) {
		return defaultSite, true
	}
	if standalone {
		return root, true
	}
	return "", false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// CheckRoot performs the boot-time sanity check the original ran before its
// first accept: confirm that at least one site directory under root will
// ever resolve, so a misconfigured --root fails fast instead of 404-ing
// every request. In standalone mode the root itself is always an eligible
// fallback (see Resolve), so only non-standalone (super-server) deployments
// are rejected outright.
func CheckRoot(root string, standalone bool) error {
	if !isDir(root) {
		return fmt.Errorf("vhost: root %s is not a directory", root)
	}
	if standalone {
		return nil
	}
	if isDir(filepath.Join(root, "default.website")) {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("vhost: reading root %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".website") {
			return nil
		}
	}
	return fmt.Errorf("vhost: root %s has no default.website or <host>.website directory", root)
}
