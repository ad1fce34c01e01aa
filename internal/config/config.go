// Package config holds the process-wide, read-only configuration that is
// populated once at boot from CLI flags. The Config is not mutated once
// startup has finished filling it in; every request-handling goroutine reads
// it freely without synchronization.
package config

import (
	"fmt"
	"time"
)

// Family restricts which address families the standalone listener binds.
type Family int

// Address family choices for --family.
const (
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

// DefaultMaxAge is the default Cache-Control max-age, in seconds, for static
// file responses (spec §6, --max-age).
const DefaultMaxAge = 120

// DefaultMaxCPUSeconds is the default per-child CPU rlimit (spec §6,
// --max-cpu). Zero disables the rlimit.
const DefaultMaxCPUSeconds = 30

// MaxContentLength is the hard cap on a POST body (spec §6).
const MaxContentLength = 250_000_000

// DefaultBlockedUserAgents is the built-in User-Agent substring block list
// (spec §9 Open Question 1, resolved as data rather than code), restored
// from original_source/althttpd-linenum.c's azDisallow table.
var DefaultBlockedUserAgents = []string{
	"Windows 9",
	"Download Master",
	"Ezooms/",
	"HTTrace",
	"AhrefsBot",
	"MicroMessenger",
	"OPPO A33 Build",
	"SemrushBot",
	"MegaIndex.ru",
	"MJ12bot",
	"Chrome/0.A.B.C",
	"Neevabot/",
	"BLEXBot/",
}

// DefaultBlockedReferrers is the built-in Referer substring block list,
// restored from the same source file's (disabled-by-default, but spec-
// resolved as "reject on match") azDisallow table for referrers.
var DefaultBlockedReferrers = []string{
	"skidrowcrack.com",
	"hoshiyuugi.tistory.com",
	"skidrowgames.net",
	"devids.net/",
}

// Config is the immutable, process-wide configuration record described in
// spec §3 ("Ownership").
type Config struct {
	Root          string // content root directory
	Port          int    // 0 means super-server mode (stdin/stdout already connected)
	User          string // user to drop privileges to
	LogFile       string // access log path, may contain strftime-style verbs
	HTTPS         bool   // requests are understood to have arrived over HTTPS
	Family        Family
	Jail          bool // chroot before dropping privileges
	MaxAge        int  // seconds
	MaxCPUSeconds int  // 0 disables the rlimit
	Debug         bool // disables all timeouts
	InputFile     string
	DateTest      bool

	// MetricsAddr, when non-empty, starts a Prometheus exposition listener
	// on this address. This is an ambient addition (SPEC_FULL.md) with no
	// CLI-flag analogue in the original spec; it defaults to empty (off).
	MetricsAddr string

	// BlockedUserAgents and BlockedReferrers are data, not code (spec §9
	// Open Question 1): substrings that cause a 403 when found in the
	// respective header.
	BlockedUserAgents []string
	BlockedReferrers  []string

	// Standalone reports whether the process was launched in standalone
	// (listening) mode rather than super-server (stdin/stdout) mode.
	Standalone bool
}

// Validate performs the startup sanity checks the boot sequence needs before
// the first connection is accepted.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: --root is required")
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("config: --max-age must be >= 0")
	}
	if c.MaxCPUSeconds < 0 {
		return fmt.Errorf("config: --max-cpu must be >= 0")
	}
	return nil
}

// InterRequestTimeout is the keep-alive idle timeout between pipelined
// requests on one connection (spec §5).
func (c *Config) InterRequestTimeout() time.Duration {
	if c.Debug {
		return 0
	}
	return 30 * time.Second
}

// HeaderTimeout is the deadline for reading the request line and headers
// (spec §5).
func (c *Config) HeaderTimeout() time.Duration {
	if c.Debug {
		return 0
	}
	return 15 * time.Second
}

// PostBodyTimeout computes the deadline for reading a POST body of the given
// length (spec §5: "15 + content_length/2000 s").
func (c *Config) PostBodyTimeout(contentLength int64) time.Duration {
	if c.Debug {
		return 0
	}
	return time.Duration(15+contentLength/2000) * time.Second
}

// PreDispatchTimeout is the 10s deadline after path resolution and before
// dispatch (spec §5).
func (c *Config) PreDispatchTimeout() time.Duration {
	if c.Debug {
		return 0
	}
	return 10 * time.Second
}

// StaticStreamTimeout computes the deadline for streaming a static response
// of the given size (spec §5: "30 + size/1000 s").
func (c *Config) StaticStreamTimeout(size int64) time.Duration {
	if c.Debug {
		return 0
	}
	return time.Duration(30+size/1000) * time.Second
}
