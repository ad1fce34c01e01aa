package mimetype

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableIsSorted(t *testing.T) {
	assert.True(t, sort.SliceIsSorted(table, func(i, j int) bool {
		return table[i].suffix < table[j].suffix
	}))
}

func TestLookupKnownSuffix(t *testing.T) {
	assert.Equal(t, "text/html", Lookup("index.html"))
	assert.Equal(t, "image/png", Lookup("logo.PNG"))
}

func TestLookupUnknownSuffixFallsBackToOctetStream(t *testing.T) {
	assert.Equal(t, DefaultType, Lookup("binary.xyzzy"))
	assert.Equal(t, DefaultType, Lookup("noextension"))
	assert.Equal(t, DefaultType, Lookup("trailingdot."))
}
