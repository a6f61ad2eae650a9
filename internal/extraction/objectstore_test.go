package extraction

import (
	"testing"
	"time"
)

// Exercising ObjectStore's GCS calls needs a live bucket or emulator, so
// this just pins the signed-URL lifetime contract.
func TestUploadURLTTL(t *testing.T) {
	if uploadURLTTL != 15*time.Minute {
		t.Fatalf("expected 15m upload URL TTL, got %v", uploadURLTTL)
	}
}
