package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// runStoreSuite exercises the Store contract shared by every implementation.
// Keys are prefixed per subtest so a shared backend can be reused.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "suite:missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		if err := s.Set(ctx, "suite:a", "one", 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Set(ctx, "suite:a", "two", time.Minute); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		got, err := s.Get(ctx, "suite:a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != "two" {
			t.Errorf("Get = %q, want %q", got, "two")
		}
	})

	t.Run("SetNX", func(t *testing.T) {
		ok, err := s.SetNX(ctx, "suite:nx", "first", time.Minute)
		if err != nil || !ok {
			t.Fatalf("first SetNX = %v, %v; want true, nil", ok, err)
		}
		ok, err = s.SetNX(ctx, "suite:nx", "second", time.Minute)
		if err != nil {
			t.Fatalf("second SetNX: %v", err)
		}
		if ok {
			t.Error("second SetNX = true, want false")
		}
		if got, _ := s.Get(ctx, "suite:nx"); got != "first" {
			t.Errorf("value = %q, want %q", got, "first")
		}
	})

	t.Run("SetNXConcurrent", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SetNX(ctx, "suite:race", fmt.Sprintf("w%d", i), time.Minute)
				if err != nil {
					t.Errorf("SetNX: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if n := wins.Load(); n != 1 {
			t.Errorf("SetNX winners = %d, want 1", n)
		}
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		if err := s.Set(ctx, "suite:cas", "v1", time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		ok, err := s.CompareAndSwap(ctx, "suite:cas", "stale", "v2", time.Minute)
		if err != nil {
			t.Fatalf("CAS mismatch: %v", err)
		}
		if ok {
			t.Error("CAS with wrong old value succeeded")
		}
		ok, err = s.CompareAndSwap(ctx, "suite:cas", "v1", "v2", time.Minute)
		if err != nil || !ok {
			t.Fatalf("CAS = %v, %v; want true, nil", ok, err)
		}
		if got, _ := s.Get(ctx, "suite:cas"); got != "v2" {
			t.Errorf("value = %q, want v2", got)
		}
		ok, err = s.CompareAndSwap(ctx, "suite:cas-missing", "", "x", time.Minute)
		if err != nil {
			t.Fatalf("CAS missing: %v", err)
		}
		if ok {
			t.Error("CAS on missing key succeeded")
		}
	})

	t.Run("Del", func(t *testing.T) {
		s.Set(ctx, "suite:d1", "x", 0)
		s.Set(ctx, "suite:d2", "y", 0)
		if err := s.Del(ctx, "suite:d1", "suite:d2", "suite:never"); err != nil {
			t.Fatalf("Del: %v", err)
		}
		for _, k := range []string{"suite:d1", "suite:d2"} {
			if _, err := s.Get(ctx, k); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(%s) after Del = %v, want ErrNotFound", k, err)
			}
		}
		if err := s.Del(ctx); err != nil {
			t.Errorf("Del with no keys = %v, want nil", err)
		}
	})

	t.Run("DelPattern", func(t *testing.T) {
		s.Set(ctx, "suite:payment:waiting:th_1", "1", time.Minute)
		s.Set(ctx, "suite:payment:order:th_1", "12345", time.Minute)
		s.Set(ctx, "suite:payment:waiting:th_2", "1", time.Minute)

		n, err := s.DelPattern(ctx, "suite:payment:*:th_1")
		if err != nil {
			t.Fatalf("DelPattern: %v", err)
		}
		if n != 2 {
			t.Errorf("DelPattern removed %d, want 2", n)
		}
		if _, err := s.Get(ctx, "suite:payment:waiting:th_2"); err != nil {
			t.Errorf("other thread key was removed: %v", err)
		}
	})

	t.Run("Lists", func(t *testing.T) {
		if err := s.RPush(ctx, "suite:list", time.Hour, "a", "b"); err != nil {
			t.Fatalf("RPush: %v", err)
		}
		if err := s.RPush(ctx, "suite:list", time.Hour, "c"); err != nil {
			t.Fatalf("RPush: %v", err)
		}
		all, err := s.LRange(ctx, "suite:list", 0, -1)
		if err != nil {
			t.Fatalf("LRange: %v", err)
		}
		if fmt.Sprint(all) != "[a b c]" {
			t.Errorf("LRange all = %v, want [a b c]", all)
		}
		tail, _ := s.LRange(ctx, "suite:list", -2, -1)
		if fmt.Sprint(tail) != "[b c]" {
			t.Errorf("LRange tail = %v, want [b c]", tail)
		}
		none, _ := s.LRange(ctx, "suite:list", 5, 10)
		if len(none) != 0 {
			t.Errorf("LRange out of range = %v, want empty", none)
		}
		n, err := s.DelPattern(ctx, "suite:li*")
		if err != nil {
			t.Fatalf("DelPattern list: %v", err)
		}
		if n != 1 {
			t.Errorf("DelPattern list removed %d, want 1", n)
		}
		gone, _ := s.LRange(ctx, "suite:list", 0, -1)
		if len(gone) != 0 {
			t.Errorf("list after delete = %v, want empty", gone)
		}
	})

	t.Run("JSONHelpers", func(t *testing.T) {
		type payload struct {
			Code   string   `json:"code"`
			Events []string `json:"events"`
		}
		in := payload{Code: "BR1", Events: []string{"x", "y"}}
		if err := SetJSON(ctx, s, "suite:json", in, time.Minute); err != nil {
			t.Fatalf("SetJSON: %v", err)
		}
		var out payload
		if err := GetJSON(ctx, s, "suite:json", &out); err != nil {
			t.Fatalf("GetJSON: %v", err)
		}
		if out.Code != "BR1" || len(out.Events) != 2 {
			t.Errorf("GetJSON = %+v", out)
		}
		if err := GetJSON(ctx, s, "suite:json-missing", &out); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetJSON missing = %v, want ErrNotFound", err)
		}
		s.Set(ctx, "suite:json-bad", "{not json", time.Minute)
		if err := GetJSON(ctx, s, "suite:json-bad", &out); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("GetJSON bad = %v, want decode error", err)
		}
	})
}

func TestRangeBounds(t *testing.T) {
	tests := []struct {
		n           int
		start, stop int64
		lo, hi      int
		ok          bool
	}{
		{5, 0, -1, 0, 5, true},
		{5, 1, 2, 1, 3, true},
		{5, -2, -1, 3, 5, true},
		{5, -10, 1, 0, 2, true},
		{5, 3, 100, 3, 5, true},
		{5, 4, 2, 0, 0, false},
		{0, 0, -1, 0, 0, false},
		{5, 5, 6, 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, ok := rangeBounds(tt.n, tt.start, tt.stop)
		if ok != tt.ok {
			t.Errorf("rangeBounds(%d, %d, %d) ok = %v, want %v", tt.n, tt.start, tt.stop, ok, tt.ok)
			continue
		}
		if ok && (lo != tt.lo || hi != tt.hi) {
			t.Errorf("rangeBounds(%d, %d, %d) = [%d:%d], want [%d:%d]", tt.n, tt.start, tt.stop, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestKeyLayout(t *testing.T) {
	keys := []string{
		ThreadKey("5511"), ChatKey("5511"), RunLockKey("th_1"),
		PaymentWaitingKey("th_1"), PaymentOrderKey("th_1"), PendingOrderKey("th_1"),
		OrderCacheKey("123"), TrackingKey("BR1"), TrackingNoticeKey("BR1"),
		InboundSeenKey("wamid.1"),
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	patterns := ThreadStatePatterns("th_1")
	if len(patterns) != 2 {
		t.Fatalf("ThreadStatePatterns = %v, want 2 patterns", patterns)
	}
}
