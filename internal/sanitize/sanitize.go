// Package sanitize implements the byte-class table, percent-escape
// compaction, base64 decoding and RFC822 date helpers described in spec
// §4.1. The allow-set is a [256]bool lookup table, mirroring the original
// implementation's aSafe[] byte-class table (original_source/
// althttpd-linenum.c), rather than a runtime character-class test.
package sanitize

// safeByte classifies the allow-set [0-9a-zA-Z,-./:_~] for URL paths and the
// Host header, per spec §3 invariants.
var safeByte [256]bool

func init() {
	for c := '0'; c <= '9'; c++ {
		safeByte[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		safeByte[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		safeByte[c] = true
	}
	for _, c := range []byte(",-./:_~") {
		safeByte[c] = true
	}
}

// Path replaces every byte outside the allow-set with '_', and compacts any
// three-byte sequence beginning with '%' to a single '_' (advancing three
// bytes in the source, one in the destination). It returns the sanitized
// string and the number of substitutions made.
func Path(in string) (string, int) {
	out := make([]byte, 0, len(in))
	subs := 0
	for i := 0; i < len(in); {
		c := in[i]
		if c == '%' {
			out = append(out, '_')
			subs++
			i += 3
			continue
		}
		if safeByte[c] {
			out = append(out, c)
		} else {
			out = append(out, '_')
			subs++
		}
		i++
	}
	return string(out), subs
}

// Host reports whether host contains only bytes from the allow-set; it is
// used as a boolean predicate, per spec §4.1 ("sanitize_host").
func Host(host string) bool {
	_, subs := Path(host)
	return subs == 0
}

// b64table maps a base64 alphabet byte to its 6-bit value, or 0xFF if the
// byte is not part of the standard alphabet (including '=' padding, which
// DecodeBase64 skips before consulting the table).
var b64table [256]byte

func init() {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	for i := range b64table {
		b64table[i] = 0xFF
	}
	for i := 0; i < len(alphabet); i++ {
		b64table[alphabet[i]] = byte(i)
	}
}

// DecodeBase64 decodes the standard base64 alphabet, ignoring '=' padding
// and treating any other unknown byte as the zero value, per spec §4.1. This
// lenient behavior (rather than rejecting malformed input) matches the
// original implementation, which is only ever used to decode HTTP Basic
// credentials before a literal string comparison — a malformed credential
// simply fails to match, it never causes a hard error.
func DecodeBase64(in string) string {
	var bits uint32
	var nbits uint
	out := make([]byte, 0, len(in)*3/4+1)
	for i := 0; i < len(in); i++ {
		c := in[i]
		if c == '=' {
			continue
		}
		v := b64table[c]
		if v == 0xFF {
			v = 0
		}
		bits = bits<<6 | uint32(v)
		nbits += 6
		if nbits >= 8 {
			nbits -= 8
			out = append(out, byte(bits>>nbits))
		}
	}
	return string(out)
}
