package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetPutDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, "a/1", []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "a/1", []byte("uno")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(ctx, "a/1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(v) != "uno" {
		t.Errorf("expected overwrite, got %q", v)
	}

	if err := s.Delete(ctx, "a/1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "a/1"); ok {
		t.Error("expected miss after delete")
	}
	if err := s.Delete(ctx, "a/1"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestListPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, k := range []string{"s1/cache/b", "s1/cache/a", "s1/session/x", "s2/cache/a"} {
		if err := s.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	kvs, err := s.List(ctx, "s1/cache/")
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(kvs))
	}
	if kvs[0].Key != "s1/cache/a" || kvs[1].Key != "s1/cache/b" {
		t.Errorf("unexpected order: %s, %s", kvs[0].Key, kvs[1].Key)
	}

	n, err := s.Count(ctx, "s1/")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3, got %d", n)
	}

	removed, err := s.DeletePrefix(ctx, "s1/cache/")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if n, _ := s.Count(ctx, "s2/"); n != 1 {
		t.Errorf("other namespace touched: %d", n)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	v, ok, err := s2.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Errorf("expected persisted value, got %q ok=%v err=%v", v, ok, err)
	}
}
