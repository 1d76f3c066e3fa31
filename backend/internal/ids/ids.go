// Package ids generates identifiers: k-sortable ids for messages and events,
// and short human-friendly disambiguation suffixes for workspace names.
package ids

import (
	"crypto/rand"
	"strings"

	"github.com/maruel/ksid"
)

// New returns a new k-sortable, lexicographically-ordered id prefixed with
// kind (e.g. "msg", "evt", "ws").
func New(kind string) string {
	return kind + "_" + ksid.New().String()
}

// crockford is the Crockford base32 alphabet: no I, L, O, U, to avoid
// visual confusion and accidental profanity in generated suffixes.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Suffix returns a random n-character Crockford base32 suffix, used to
// disambiguate a workspace name on collision (spec: "<name>-<suffix>").
func Suffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on a supported platform does not fail; if it somehow
		// does, fall back to a fixed low-entropy suffix rather than panic.
		for i := range buf {
			buf[i] = 0
		}
	}
	var sb strings.Builder
	sb.Grow(n)
	for _, b := range buf {
		sb.WriteByte(crockford[int(b)%len(crockford)])
	}
	return sb.String()
}
