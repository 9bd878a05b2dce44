package sigv4

import (
	"net/url"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// shouldEscape reports whether c falls outside the RFC 3986 unreserved set.
// Unlike url.QueryEscape this also escapes ! ' ( ) * and never emits '+'.
func shouldEscape(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return false
	case c == '-', c == '_', c == '.', c == '~':
		return false
	}
	return true
}

// Escape percent-encodes s for use in a canonical URI segment or query component.
func Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldEscape(c) {
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// EscapePath encodes every '/'-separated segment of p independently and keeps the
// separators, so "folder/file (1).txt" becomes "folder/file%20%281%29.txt".
func EscapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = Escape(s)
	}
	return strings.Join(segs, "/")
}

// ReescapePath normalizes an already-escaped path to the canonical encoding
// segment by segment. An encoded slash ("%2F") stays inside its segment.
func ReescapePath(escaped string) (string, error) {
	segs := strings.Split(escaped, "/")
	for i, s := range segs {
		raw, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		segs[i] = Escape(raw)
	}
	return strings.Join(segs, "/"), nil
}
