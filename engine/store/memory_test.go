package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/corewf/flowengine/engine/store"
)

func TestMemStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	if _, err := s.Get(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("Get on missing key: got %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get: got (%s, %v), want (v, nil)", got, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != store.ErrNotFound {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); err != store.ErrNotFound {
		t.Fatalf("expired key should read as not found, got %v", err)
	}
}

func TestMemStoreSetIfAbsentAndGetAndDeleteIf(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	ok, err := s.SetIfAbsent(ctx, "lock:x", []byte("owner-1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent should succeed, got (%v, %v)", ok, err)
	}
	ok, err = s.SetIfAbsent(ctx, "lock:x", []byte("owner-2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetIfAbsent should fail while held, got (%v, %v)", ok, err)
	}

	ok, err = s.GetAndDeleteIf(ctx, "lock:x", []byte("owner-2"))
	if err != nil || ok {
		t.Fatalf("GetAndDeleteIf with wrong owner should fail, got (%v, %v)", ok, err)
	}
	ok, err = s.GetAndDeleteIf(ctx, "lock:x", []byte("owner-1"))
	if err != nil || !ok {
		t.Fatalf("GetAndDeleteIf with correct owner should succeed, got (%v, %v)", ok, err)
	}
}

func TestMemStoreHashAndSet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	if err := s.HSet(ctx, "h", "f1", []byte("v1")); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := s.HSet(ctx, "h", "f2", []byte("v2")); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	all, err := s.HGetAll(ctx, "h")
	if err != nil || len(all) != 2 {
		t.Fatalf("HGetAll: got %v, %v", all, err)
	}

	if err := s.SAdd(ctx, "s", "a"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if err := s.SAdd(ctx, "s", "b"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	members, err := s.SMembers(ctx, "s")
	if err != nil || len(members) != 2 {
		t.Fatalf("SMembers: got %v, %v", members, err)
	}
	if err := s.SRem(ctx, "s", "a"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	members, _ = s.SMembers(ctx, "s")
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("SMembers after SRem: got %v, want [b]", members)
	}
}

func TestMemStoreStreamAppendAndRange(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	for i := 0; i < 5; i++ {
		if err := s.StreamAppend(ctx, "ev", []byte{byte(i)}, 0); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	entries, cursor, err := s.StreamRange(ctx, "ev", "", 3)
	if err != nil || len(entries) != 3 {
		t.Fatalf("StreamRange: got %d entries, err %v", len(entries), err)
	}
	rest, _, err := s.StreamRange(ctx, "ev", cursor, 10)
	if err != nil || len(rest) != 2 {
		t.Fatalf("StreamRange continuation: got %d entries, err %v", len(rest), err)
	}
}
