package dedup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ContainerStore manages fixed-capacity share containers on disk, one
// file per container Name in its directory, plus an LRU read
// cache of recently touched container bodies, to keep restore-path
// reads off disk for the common case.
type ContainerStore struct {
	dir   string
	cache *lru.Cache[Name, []byte]
	mu    sync.Mutex
}

// NewContainerStore opens a ContainerStore rooted at dir with a cache
// holding up to cacheSize container bodies in memory.
func NewContainerStore(dir string, cacheSize int) (*ContainerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dedup: mkdir container dir failed: %w", err)
	}
	cache, err := lru.New[Name, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dedup: container cache init failed: %w", err)
	}
	return &ContainerStore{dir: dir, cache: cache}, nil
}

// WriteContainer persists a full container under name, the write side of
// a per-user buffer flush.
func (s *ContainerStore) WriteContainer(name Name, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(filepath.Join(s.dir, name.String()), body, 0o644); err != nil {
		return fmt.Errorf("dedup: write container failed: %w", err)
	}
	s.cache.Add(name, body)
	return nil
}

// ReadSlice returns body[offset:offset+length] from container name,
// serving from the LRU cache when possible.
func (s *ContainerStore) ReadSlice(name Name, offset, length int32) ([]byte, error) {
	body, err := s.readContainer(name)
	if err != nil {
		return nil, err
	}
	end := int(offset) + int(length)
	if offset < 0 || end > len(body) {
		return nil, fmt.Errorf("dedup: container %s slice [%d:%d] out of bounds (%d bytes)", name, offset, end, len(body))
	}
	return body[offset:end], nil
}

func (s *ContainerStore) readContainer(name Name) ([]byte, error) {
	if body, ok := s.cache.Get(name); ok {
		return body, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if body, ok := s.cache.Get(name); ok {
		return body, nil
	}
	body, err := os.ReadFile(filepath.Join(s.dir, name.String()))
	if err != nil {
		return nil, fmt.Errorf("dedup: read container %s failed: %w", name, err)
	}
	s.cache.Add(name, body)
	return body, nil
}
