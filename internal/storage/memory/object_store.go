// Package memory stores uploaded objects in-memory for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Object is one stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore implements pipeline.ObjectStore in memory.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]Object)}
}

// PutFile copies the local file into the store under key.
func (s *ObjectStore) PutFile(ctx context.Context, key, localPath, contentType string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	// #nosec G304 -- callers pass paths resolved by the content store.
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	s.Put(key, data, contentType)
	return nil
}

// Put stores data directly.
func (s *ObjectStore) Put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
}

// Exists reports whether key is stored.
func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// List returns the sorted keys starting with prefix.
func (s *ObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns a stored object.
func (s *ObjectStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
