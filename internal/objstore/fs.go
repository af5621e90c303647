// Package objstore holds raw document bytes keyed by fingerprint. The
// filesystem implementation shards keys by their first byte and writes
// atomically via rename, so a crashed write never leaves a readable partial
// object. The returned handle is the key-relative path, suitable for
// persisting on the document row.
package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	handle := filepath.Join(key[:2], key)
	path := filepath.Join(s.root, handle)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit object %s: %w", key, err)
	}
	return filepath.ToSlash(handle), nil
}

func (s *FSStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if handle == "" || strings.Contains(handle, "..") {
		return nil, fmt.Errorf("invalid object handle %q", handle)
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(handle)))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", handle, err)
	}
	return data, nil
}

func validateKey(key string) error {
	if len(key) < 2 {
		return fmt.Errorf("object key %q too short", key)
	}
	for _, r := range key {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return fmt.Errorf("object key %q is not a hex fingerprint", key)
		}
	}
	return nil
}
