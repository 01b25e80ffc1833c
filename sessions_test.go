package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ttpcard/crop"
)

func TestSessionStore(t *testing.T) {
	store := NewSessionStore()
	src := newTestSession(30, 40).Source()

	id, s := store.Create(src)
	if id == "" {
		t.Fatalf("empty session id")
	}
	if s.Aspect() != crop.CardPhotoAspect {
		t.Fatalf("got aspect %v, want %v", s.Aspect(), crop.CardPhotoAspect)
	}
	got, ok := store.Get(id)
	if !ok || got != s {
		t.Fatalf("Get(%q) = %p, %v", id, got, ok)
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("found unknown session")
	}

	other, _ := store.Create(src)
	if other == id {
		t.Fatalf("duplicate session id %q", id)
	}
	if store.Len() != 2 {
		t.Fatalf("got %d sessions, want 2", store.Len())
	}

	if !store.Delete(id) {
		t.Fatalf("Delete(%q) = false", id)
	}
	if store.Delete(id) {
		t.Fatalf("second Delete(%q) = true", id)
	}
	if store.Len() != 1 {
		t.Fatalf("got %d sessions, want 1", store.Len())
	}
}

func TestSessionStore_Expire(t *testing.T) {
	store := NewSessionStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	src := newTestSession(30, 40).Source()

	stale, _ := store.Create(src)
	now = now.Add(20 * time.Minute)
	fresh, _ := store.Create(src)
	now = now.Add(15 * time.Minute)

	if n := store.Expire(30 * time.Minute); n != 1 {
		t.Fatalf("expired %d sessions, want 1", n)
	}
	if _, ok := store.Get(stale); ok {
		t.Fatalf("stale session still present")
	}
	if _, ok := store.Get(fresh); !ok {
		t.Fatalf("fresh session was expired")
	}

	// Get refreshed the fresh session
	now = now.Add(20 * time.Minute)
	if n := store.Expire(30 * time.Minute); n != 0 {
		t.Fatalf("expired %d sessions, want 0", n)
	}
}

func TestSessionStore_RunExpiryStopsWithContext(t *testing.T) {
	store := NewSessionStore()
	ctx, cancel := context.WithCancel(zerolog.Nop().WithContext(context.Background()))

	done := make(chan struct{})
	go func() {
		store.RunExpiry(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("RunExpiry did not return after cancel")
	}
}
