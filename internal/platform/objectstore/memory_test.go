package objectstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	if err := store.Put(ctx, "obs/42", payload, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "obs/42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: got %v, want %v", got, payload)
	}
	if ct := store.ContentType("obs/42"); ct != "image/png" {
		t.Errorf("content type: got %s, want image/png", ct)
	}

	if err := store.Remove(ctx, "obs/42"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, "obs/42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "obs/999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_RemoveMissing(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Remove(context.Background(), "obs/999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PutCopiesPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	payload := []byte("original")
	if err := store.Put(ctx, "obs/1", payload, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload[0] = 'X'

	got, err := store.Get(ctx, "obs/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored payload mutated by caller: %s", got)
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Put(ctx, "obs/1", []byte("v1"), "text/plain")
	store.Put(ctx, "obs/1", []byte("v2"), "text/plain")

	got, err := store.Get(ctx, "obs/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected v2, got %s", got)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 object, got %d", store.Len())
	}
}
