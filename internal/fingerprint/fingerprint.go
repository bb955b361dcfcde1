// Package fingerprint computes the deterministic grouping key that joins
// documents to recurring templates. Same inputs always produce the same key,
// across calls and restarts; the key is the sole join between the two sides.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritics: decompose, drop combining marks, recompose.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize casefolds the vendor name, strips diacritics and punctuation, and
// collapses whitespace.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Vendor returns the vendor-only key. A tax id (digits only) dominates the
// name: two spellings of one vendor with the same tax id share a key, and the
// key survives OCR noise in the name.
func Vendor(vendorName, taxID string) string {
	if digits := digitsOnly(taxID); digits != "" {
		return digest("t|" + digits)
	}
	return digest("v|" + Normalize(vendorName))
}

// WithAmount returns the full key including a coarse amount bucket, so two
// unrelated obligations from one vendor at very different price points do not
// collapse into one series. amountCents must be positive; a non-positive
// amount yields the vendor-only key and bucket 0.
func WithAmount(vendorName, taxID string, amountCents int64) (key string, bucket int) {
	vk := Vendor(vendorName, taxID)
	if amountCents <= 0 {
		return vk, 0
	}
	bucket = Bucket(amountCents)
	return vk + "#b" + strconv.Itoa(bucket), bucket
}

// Bucket maps a cent amount onto doubling magnitude bands. Amounts within a
// factor of two land in at most two adjacent bands, which keeps ~40%
// deviations of one series together while separating price points that differ
// by an order of magnitude.
func Bucket(amountCents int64) int {
	if amountCents <= 0 {
		return 0
	}
	return bits.Len64(uint64(amountCents))
}

// VendorPart strips the amount-bucket suffix from a full key.
func VendorPart(key string) string {
	if i := strings.IndexByte(key, '#'); i >= 0 {
		return key[:i]
	}
	return key
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
