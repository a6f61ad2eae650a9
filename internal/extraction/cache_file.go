package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheStoreFile is the default ParseCache backend: a single JSON file,
// loaded once and guarded by a mutex. Grounded on the same
// sync.Once-plus-mutex-plus-JSON-file idiom used elsewhere in the corpus
// for a local schema cache, generalized to CacheEntry rows keyed by
// fingerprint.
type CacheStoreFile struct {
	path string

	once    sync.Once
	mu      sync.Mutex
	entries map[string]CacheEntry
}

// NewCacheStoreFile returns a file-backed store rooted at path. If path is
// empty, "data/parse_cache.json" is used.
func NewCacheStoreFile(path string) *CacheStoreFile {
	if path == "" {
		path = "data/parse_cache.json"
	}
	return &CacheStoreFile{path: path}
}

func (s *CacheStoreFile) load() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.entries = make(map[string]CacheEntry)

		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			log.Printf("parse cache: failed to create data directory: %v", err)
			return
		}
		data, err := os.ReadFile(s.path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("parse cache: failed to read cache file: %v", err)
			}
			return
		}
		if err := json.Unmarshal(data, &s.entries); err != nil {
			log.Printf("parse cache: malformed cache file, resetting: %v", err)
			s.entries = make(map[string]CacheEntry)
		}
	})
}

func (s *CacheStoreFile) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal parse cache: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *CacheStoreFile) Get(ctx context.Context, fingerprint string) (CacheEntry, bool, error) {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return CacheEntry{}, false, nil
	}
	entry.HitCount++
	s.entries[fingerprint] = entry
	if err := s.persist(); err != nil {
		log.Printf("parse cache: failed to persist hit count: %v", err)
	}
	return entry, true, nil
}

func (s *CacheStoreFile) Put(ctx context.Context, entry CacheEntry) error {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Fingerprint] = entry
	return s.persist()
}

func (s *CacheStoreFile) Delete(ctx context.Context, fingerprint string) error {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fingerprint)
	return s.persist()
}

func (s *CacheStoreFile) ReapExpired(ctx context.Context) (int, error) {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for fp, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, fp)
			count++
		}
	}
	if count > 0 {
		if err := s.persist(); err != nil {
			return count, err
		}
	}
	return count, nil
}
