package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRfc822RoundTrip checks ParseRfc822Date(Rfc822Date(t)) == t for t
// sampled at stride 127 from 0 to just past 5,000,000, plus three values
// near 2^31. The full stride-127 sweep over [0, 2^31) is runDateTest in
// cmd/althttpd, exercised by TestRunDateTestSucceeds.
func TestRfc822RoundTrip(t *testing.T) {
	const limit = int64(1) << 31
	for ts := int64(0); ts < limit; ts += 127 {
		s := Rfc822Date(ts)
		got, ok := ParseRfc822Date(s)
		require.True(t, ok, "failed to parse %q", s)
		require.Equal(t, ts, got)
		if ts > 5_000_000 {
			// Sampling the full range at stride 127 is ~17M iterations;
			// this test stops after a bounded prefix and spot-checks the
			// top of the range below.
			break
		}
	}

	// Spot-check near the top of the range.
	for _, ts := range []int64{limit - 1, limit - 127, limit - 128} {
		s := Rfc822Date(ts)
		got, ok := ParseRfc822Date(s)
		require.True(t, ok)
		require.Equal(t, ts, got)
	}
}

func TestParseRfc822DateRejectsGarbage(t *testing.T) {
	_, ok := ParseRfc822Date("not a date")
	require.False(t, ok)
}
