package quota_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/formatic/hooks/quota"
	"github.com/formatic/hooks/store/memory"
	"github.com/formatic/hooks/webhook"
)

func ctx() context.Context { return context.Background() }

func newGuard(t *testing.T, dailyLimit int) (*quota.StoreGuard, *webhook.Webhook) {
	t.Helper()

	s := memory.New()
	svc := webhook.NewService(s, nil)

	wh, err := svc.Create(ctx(), webhook.Input{
		FormID:     "form-1",
		URL:        "https://example.com/hook",
		EventTypes: []string{"*"},
		DailyLimit: dailyLimit,
	})
	if err != nil {
		t.Fatal(err)
	}

	return quota.NewStoreGuard(s), wh
}

func TestWindowEnd(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	if got := quota.WindowEnd(now); !got.Equal(want) {
		t.Fatalf("WindowEnd = %v, want %v", got, want)
	}
}

func TestReserveUpToLimit(t *testing.T) {
	g, wh := newGuard(t, 10)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		ok, err := g.Reserve(ctx(), wh, now)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("reservation %d should succeed", i+1)
		}
	}

	ok, err := g.Reserve(ctx(), wh, now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("11th reservation should be denied")
	}
}

func TestReserveUnlimited(t *testing.T) {
	g, wh := newGuard(t, 0)
	now := time.Now().UTC()

	for i := 0; i < 100; i++ {
		ok, err := g.Reserve(ctx(), wh, now)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("unlimited webhook should never be denied")
		}
	}
}

func TestReserveWindowRollover(t *testing.T) {
	g, wh := newGuard(t, 2)
	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if ok, _ := g.Reserve(ctx(), wh, day1); !ok {
			t.Fatal("reservation within limit should succeed")
		}
	}
	if ok, _ := g.Reserve(ctx(), wh, day1); ok {
		t.Fatal("expected denial at limit")
	}

	// New UTC day: window resets, reservations succeed again.
	if ok, err := g.Reserve(ctx(), wh, day2); err != nil || !ok {
		t.Fatalf("expected reservation in new window, ok=%v err=%v", ok, err)
	}
}

func TestReserveConcurrent(t *testing.T) {
	const limit = 10
	g, wh := newGuard(t, limit)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	results := make(chan bool, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Reserve(ctx(), wh, now)
			if err != nil {
				t.Error(err)
				return
			}
			results <- ok
		}()
	}

	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}

	if granted != limit {
		t.Fatalf("expected exactly %d grants, got %d", limit, granted)
	}
}
