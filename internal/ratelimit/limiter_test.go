package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	tb := NewTokenBucket(60, 3, time.Minute)
	defer tb.Close()

	for i := 0; i < 3; i++ {
		if !tb.Allow("teller-1") {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	if tb.Allow("teller-1") {
		t.Fatal("request beyond burst was allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	tb := NewTokenBucket(60, 1, time.Minute)
	defer tb.Close()

	if !tb.Allow("a") {
		t.Fatal("first caller refused")
	}
	if !tb.Allow("b") {
		t.Fatal("second caller should have its own bucket")
	}
	if tb.Allow("a") {
		t.Fatal("first caller exceeded its bucket")
	}
}

func TestResetClearsState(t *testing.T) {
	tb := NewTokenBucket(60, 1, time.Minute)
	defer tb.Close()

	tb.Allow("a")
	if tb.Allow("a") {
		t.Fatal("bucket should be exhausted")
	}
	tb.Reset()
	if !tb.Allow("a") {
		t.Fatal("reset should restore capacity")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tb := NewTokenBucket(60, 1, time.Minute)
	tb.Close()
	tb.Close()
}
