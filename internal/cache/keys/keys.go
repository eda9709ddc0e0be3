// Package keys derives cache fingerprints from canonical request URLs.
// Two requests that spell the same canonical URL map to the same
// fingerprint and therefore the same cache file.
package keys

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns the hex digest of the canonical URL string. The
// digest is 128 bits wide so it can serve directly as a cache filename
// stem with no collision handling.
func Fingerprint(canonicalURL string) string {
	sum := md5.Sum([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// Filename is the cache file name for a fingerprint: the hex digest plus
// the payload extension (".png" or ".xml").
func Filename(fingerprint, ext string) string {
	return fingerprint + ext
}

// DocHash digests a capability document; endpoints are replaced when the
// advertised document's hash changes.
func DocHash(raw []byte) uint64 {
	return xxhash.Sum64(raw)
}
