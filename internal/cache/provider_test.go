package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()

	if _, err := provider.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	if err := provider.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := provider.Get(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "value" {
		t.Fatalf("wrong value: %q", got)
	}

	if err := provider.Del(ctx, "key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := provider.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestMemoryProviderTTL(t *testing.T) {
	provider := NewMemoryProvider()
	current := time.Now()
	provider.now = func() time.Time { return current }
	ctx := context.Background()

	if err := provider.Set(ctx, "key", []byte("value"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := provider.Get(ctx, "key"); err != nil {
		t.Fatalf("entry expired too early: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := provider.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryProviderSetNX(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()

	stored, err := provider.SetNX(ctx, "lock", []byte("a"), 0)
	if err != nil || !stored {
		t.Fatalf("first SetNX must store: %v %v", stored, err)
	}
	stored, err = provider.SetNX(ctx, "lock", []byte("b"), 0)
	if err != nil || stored {
		t.Fatalf("second SetNX must not store: %v %v", stored, err)
	}

	got, err := provider.Get(ctx, "lock")
	if err != nil || string(got) != "a" {
		t.Fatalf("original value lost: %q %v", got, err)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	provider := NewMemoryProvider()
	ctx := context.Background()

	value := []byte("original")
	if err := provider.Set(ctx, "key", value, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value[0] = 'X'

	got, err := provider.Get(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliases caller buffer: %q", got)
	}
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	provider := NoopProvider{}
	ctx := context.Background()

	if err := provider.Set(ctx, "key", []byte("value"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := provider.Get(ctx, "key"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("noop provider must always miss, got %v", err)
	}
}
