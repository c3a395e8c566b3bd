package memory

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "k", 2, time.Minute); !ok {
			t.Fatalf("call %d denied", i)
		}
	}
	if ok, _ := l.Allow(ctx, "k", 2, time.Minute); ok {
		t.Fatal("third call allowed")
	}
	if ok, _ := l.Allow(ctx, "other", 2, time.Minute); !ok {
		t.Fatal("keys must not share a window")
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow(ctx, "k", 2, time.Minute); !ok {
		t.Fatal("new window denied")
	}
}
