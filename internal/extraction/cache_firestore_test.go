package extraction

import "testing"

// Firestore's client requires a live project (or emulator) to construct, so
// no test here runs CacheStoreFirestore's methods; the CacheStore contract
// is tested against CacheStoreFile (cache_file_test.go) and a mock store
// (cache_test.go). This file pins the collection name contract (one
// document per fingerprint under parseCacheCollection), the only thing
// checkable without a client.
func TestParseCacheCollectionName(t *testing.T) {
	if parseCacheCollection != "parseCache" {
		t.Fatalf("expected parseCache collection name, got %q", parseCacheCollection)
	}
}
