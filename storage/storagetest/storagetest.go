// Package storagetest holds a behavioural test suite shared by every
// storage.Storage backend.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/realmguard/storage"
)

// Run exercises s against the storage.Storage contract. New must return an
// empty backend for every subtest.
func Run(t *testing.T, newStorage func(t *testing.T) storage.Storage) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newStorage(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, newStorage(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newStorage(t)) })
	t.Run("InvalidTTL", func(t *testing.T) { testInvalidTTL(t, newStorage(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, newStorage(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStorage(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, newStorage(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, newStorage(t)) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte(`{"name":"Laptop"}`)

	if err := s.Set(ctx, "p1", data, storage.WithCollection("products")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	// Mutating the caller's slice must not change the stored record.
	data[0] = 'X'

	item, err := s.Get(ctx, "p1", storage.WithCollection("products"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != `{"name":"Laptop"}` {
		t.Fatalf("Get() returned %q", item.Data)
	}
	if item.CreatedAt.IsZero() || item.ExpiresAt != nil {
		t.Fatalf("unexpected metadata: %+v", item)
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() should not fail for a missing key: %v", err)
	}
	if item != nil {
		t.Fatal("Get() should return nil for a missing key")
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "sid", []byte("x"), storage.WithSessions("session"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() with TTL failed: %v", err)
	}
	item, err := s.Get(ctx, "sid", storage.WithSessions("session"))
	if err != nil || item == nil {
		t.Fatalf("Get() before expiry: %v %v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt not set")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "sid", storage.WithSessions("session"))
	if err != nil {
		t.Fatalf("Get() after expiry failed: %v", err)
	}
	if item != nil {
		t.Fatal("Get() returned an expired item")
	}
	entries, err := s.List(ctx, storage.WithSessions("session"))
	if err != nil || len(entries) != 0 {
		t.Fatalf("List() after expiry = %v, %v", entries, err)
	}
}

func testInvalidTTL(t *testing.T, s storage.Storage) {
	err := s.Set(context.Background(), "k", []byte("v"), storage.WithTTL(0))
	if !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("Set() with zero TTL = %v, want ErrInvalidOptions", err)
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	writes := []struct {
		data string
		opts []storage.Option
	}{
		{"global", nil},
		{"persons", []storage.Option{storage.WithCollection("persons")}},
		{"products", []storage.Option{storage.WithCollection("products")}},
		{"session", []storage.Option{storage.WithSessions("session")}},
		{"login", []storage.Option{storage.WithSessions("login")}},
	}
	for _, w := range writes {
		if err := s.Set(ctx, "1", []byte(w.data), w.opts...); err != nil {
			t.Fatalf("Set(%s) failed: %v", w.data, err)
		}
	}
	for _, w := range writes {
		item, err := s.Get(ctx, "1", w.opts...)
		if err != nil || item == nil || string(item.Data) != w.data {
			t.Fatalf("namespace %s not isolated: %v %v", w.data, item, err)
		}
	}
}

func testList(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for _, k := range []string{"3", "1", "2"} {
		if err := s.Set(ctx, k, []byte("person-"+k), storage.WithCollection("persons")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "9", []byte("other"), storage.WithCollection("personsx")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	entries, err := s.List(ctx, storage.WithCollection("persons"))
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(entries))
	}
	for i, want := range []string{"1", "2", "3"} {
		if entries[i].Key != want || string(entries[i].Data) != "person-"+want {
			t.Fatalf("entry %d = %s:%s", i, entries[i].Key, entries[i].Data)
		}
	}

	empty, err := s.List(ctx, storage.WithCollection("nothing"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("List() of empty namespace = %v, %v", empty, err)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	opt := storage.WithCollection("persons")

	if err := s.Set(ctx, "1", []byte("a"), opt); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Set(ctx, "2", []byte("b"), opt); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Delete(ctx, opt, storage.WithKey("1")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if item, err := s.Get(ctx, "1", opt); err != nil || item != nil {
		t.Fatalf("key 1 should be gone: %v %v", item, err)
	}
	if item, err := s.Get(ctx, "2", opt); err != nil || item == nil {
		t.Fatalf("key 2 should remain: %v %v", item, err)
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	sessions := storage.WithSessions("session")

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k), sessions); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}
	if err := s.Set(ctx, "a", []byte("keep"), storage.WithSessions("login")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	if err := s.Delete(ctx, sessions); err != nil {
		t.Fatalf("Delete() namespace failed: %v", err)
	}
	entries, err := s.List(ctx, sessions)
	if err != nil || len(entries) != 0 {
		t.Fatalf("namespace should be empty: %v %v", entries, err)
	}
	if item, err := s.Get(ctx, "a", storage.WithSessions("login")); err != nil || item == nil {
		t.Fatalf("sibling namespace should survive: %v %v", item, err)
	}
}
