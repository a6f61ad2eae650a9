package extraction

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const parseCacheCollection = "parseCache"

// CacheStoreFirestore is the Firestore-backed ParseCache store (§6.3),
// one document per fingerprint in the parseCache collection.
type CacheStoreFirestore struct {
	client *firestore.Client
}

// NewCacheStoreFirestore wraps an already-initialized Firestore client.
func NewCacheStoreFirestore(client *firestore.Client) *CacheStoreFirestore {
	return &CacheStoreFirestore{client: client}
}

func (s *CacheStoreFirestore) Get(ctx context.Context, fingerprint string) (CacheEntry, bool, error) {
	doc, err := s.client.Collection(parseCacheCollection).Doc(fingerprint).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, newCacheUnavailable("firestore cache read failed", err)
	}

	var entry CacheEntry
	if err := doc.DataTo(&entry); err != nil {
		return CacheEntry{}, false, newCacheUnavailable("decode cached entry", err)
	}

	// Best-effort hit-count increment; failure does not fail the read.
	_, _ = s.client.Collection(parseCacheCollection).Doc(fingerprint).Update(ctx, []firestore.Update{
		{Path: "HitCount", Value: firestore.Increment(1)},
	})

	return entry, true, nil
}

func (s *CacheStoreFirestore) Put(ctx context.Context, entry CacheEntry) error {
	_, err := s.client.Collection(parseCacheCollection).Doc(entry.Fingerprint).Set(ctx, entry)
	if err != nil {
		return newCacheUnavailable("firestore cache write failed", err)
	}
	return nil
}

func (s *CacheStoreFirestore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.client.Collection(parseCacheCollection).Doc(fingerprint).Delete(ctx)
	if err != nil {
		return newCacheUnavailable("firestore cache delete failed", err)
	}
	return nil
}

func (s *CacheStoreFirestore) ReapExpired(ctx context.Context) (int, error) {
	now := time.Now()
	docs := s.client.Collection(parseCacheCollection).Where("ExpiresAt", "<", now).Documents(ctx)
	defer docs.Stop()

	count := 0
	for {
		doc, err := docs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, newCacheUnavailable("firestore janitor sweep failed", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return count, newCacheUnavailable("firestore janitor delete failed", err)
		}
		count++
	}
	return count, nil
}
