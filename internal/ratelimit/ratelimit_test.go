package ratelimit

import "testing"

func TestAllowWithinCapacity(t *testing.T) {
    l := New(3, 1)
    for i := 0; i < 3; i++ {
        if !l.Allow("10.0.0.1:5555") {
            t.Fatalf("expected request %d to be allowed", i)
        }
    }
}

func TestRejectsOverCapacity(t *testing.T) {
    l := New(2, 1)
    l.Allow("10.0.0.1:5555")
    l.Allow("10.0.0.1:5555")

    if l.Allow("10.0.0.1:5555") {
        t.Error("expected third request from same client to be rejected")
    }
}

func TestPerClientIsolation(t *testing.T) {
    l := New(1, 1)
    l.Allow("10.0.0.1:5555")

    if !l.Allow("10.0.0.2:5555") {
        t.Error("expected a different client to have its own bucket")
    }
}

func TestDisabledWhenCapacityNonPositive(t *testing.T) {
    l := New(0, 0)
    for i := 0; i < 1000; i++ {
        if !l.Allow("10.0.0.1:5555") {
            t.Fatal("expected limiter to be a no-op when capacity <= 0")
        }
    }
}
