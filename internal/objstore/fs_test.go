package objstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewFSStore(t.TempDir())
	key := "ab34ef0123456789ab34ef0123456789ab34ef0123456789ab34ef0123456789"
	data := []byte("raw document bytes")

	handle, err := s.Put(context.Background(), key, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if handle == "" {
		t.Fatal("expected non-empty handle")
	}

	got, err := s.Get(context.Background(), handle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestPutSameKeyOverwrites(t *testing.T) {
	s := NewFSStore(t.TempDir())
	key := "cd0000000000000000000000000000000000000000000000000000000000cd00"

	if _, err := s.Put(context.Background(), key, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	handle, err := s.Put(context.Background(), key, []byte("second"))
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	got, err := s.Get(context.Background(), handle)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("got %q, want %q", got, "second")
	}
}

func TestPutShardsByPrefix(t *testing.T) {
	root := t.TempDir()
	s := NewFSStore(root)
	key := "ef99000000000000000000000000000000000000000000000000000000000000"

	handle, err := s.Put(context.Background(), key, []byte("x"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if filepath.Dir(filepath.FromSlash(handle)) != "ef" {
		t.Fatalf("handle %q not sharded by key prefix", handle)
	}
	if _, err := os.Stat(filepath.Join(root, "ef", key)); err != nil {
		t.Fatalf("object not at sharded path: %v", err)
	}
}

func TestPutRejectsBadKeys(t *testing.T) {
	s := NewFSStore(t.TempDir())
	for _, key := range []string{"", "a", "../etc/passwd", "UPPERCASEKEY00"} {
		if _, err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q): expected error", key)
		}
	}
}

func TestGetRejectsTraversal(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if _, err := s.Get(context.Background(), "../outside"); err == nil {
		t.Fatal("expected error for traversal handle")
	}
}

func TestGetMissingObject(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if _, err := s.Get(context.Background(), "ab/ab00"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestCancelledContext(t *testing.T) {
	s := NewFSStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "ab00", []byte("x")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if _, err := s.Get(ctx, "ab/ab00"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
