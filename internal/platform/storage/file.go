package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

// fileStore keeps all entries in one JSON document. Every read goes to disk
// so changes made by another process (for example a second CLI invocation
// running logout) are observed.
type fileStore struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// NewFile returns a store persisted at path. The parent directory is created
// with 0700 and the document is written with 0600.
func NewFile(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &fileStore{path: path}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode storage file %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *fileStore) save(entries map[string]string) error {
	data, err := sonic.ConfigStd.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace storage file: %w", err)
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	entries, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

func (s *fileStore) SetMany(_ context.Context, updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range updates {
		entries[k] = v
	}
	return s.save(entries)
}

func (s *fileStore) Remove(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	entries, err := s.load()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := entries[k]; ok {
			delete(entries, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(entries)
}

func (s *fileStore) Keys(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *fileStore) Stats(ctx context.Context) (map[string]any, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":  DriverFile,
		"path":  s.path,
		"total": len(keys),
	}, nil
}

func (s *fileStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
