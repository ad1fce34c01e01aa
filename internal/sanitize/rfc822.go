package sanitize

import "time"

// rfc822Layout is the HTTP-date format used by Last-Modified, Date and
// If-Modified-Since (RFC 7231 §7.1.1.1's "IMF-fixdate", historically called
// the RFC822 date in this project's original source).
const rfc822Layout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Rfc822Date formats a Unix timestamp as an HTTP-date string in GMT.
func Rfc822Date(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(rfc822Layout)
}

// ParseRfc822Date parses an HTTP-date string back into a Unix timestamp. It
// returns ok=false if s does not parse, mirroring the original's behavior of
// silently ignoring a malformed If-Modified-Since header.
func ParseRfc822Date(s string) (unixSeconds int64, ok bool) {
	t, err := time.Parse(rfc822Layout, s)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}
