package memory

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})

	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	v, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := p.Get(ctx, "missing"); ok {
		t.Fatalf("missing key should not be found")
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(Config{Now: func() time.Time { return now }})

	if _, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("entry expired early")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatalf("entry should have expired")
	}
	// the expired read also reclaims the slot
	if p.Len() != 0 {
		t.Fatalf("expired entry should be deleted on read, len=%d", p.Len())
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(Config{Now: func() time.Time { return now }})

	if _, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(1000 * time.Hour)
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("zero-TTL entry should never expire")
	}
}

func TestOverwriteRenewsTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(Config{Now: func() time.Time { return now }})

	_, _ = p.Set(ctx, "k", []byte("v1"), 1, time.Minute)
	now = now.Add(50 * time.Second)
	_, _ = p.Set(ctx, "k", []byte("v2"), 1, time.Minute)

	now = now.Add(50 * time.Second) // 100s after the first write
	v, ok, _ := p.Get(ctx, "k")
	if !ok || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("renewed entry should survive: %q, %v", v, ok)
	}
}

func TestDelAndClose(t *testing.T) {
	ctx := context.Background()
	p := New(Config{})

	_, _ = p.Set(ctx, "a", []byte("1"), 1, 0)
	_, _ = p.Set(ctx, "b", []byte("2"), 1, 0)
	if p.Len() != 2 {
		t.Fatalf("Len = %d, want 2", p.Len())
	}

	if err := p.Del(ctx, "a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len after Del = %d, want 1", p.Len())
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("Close should drop all entries, len=%d", p.Len())
	}
}
