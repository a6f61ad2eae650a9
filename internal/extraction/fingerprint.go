package extraction

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintHexLen is 32 hex characters, i.e. the first 128 bits of the
// sha256 digest. A full 256-bit digest is unnecessary for a cache key and
// the truncated form keeps CacheEntry primary keys short.
const fingerprintHexLen = 32

// Fingerprint returns a stable, lowercase hex content hash of b. It depends
// only on the bytes: two blobs with identical content yield identical
// fingerprints regardless of filename.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:fingerprintHexLen]
}
