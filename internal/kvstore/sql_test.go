package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lojaortopedic/atendente/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openKVTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.KVEntry{}, &models.KVListItem{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedSQL(t *testing.T) (*SQL, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSQL(SQLOpts{DB: openKVTestDB(t), Now: clk.now})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	return s, clk
}

func TestSQLStore_Contract(t *testing.T) {
	s, err := NewSQL(SQLOpts{DB: openKVTestDB(t)})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	runStoreSuite(t, s)
}

func TestNewSQL_RequiresDB(t *testing.T) {
	_, err := NewSQL(SQLOpts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestOpenSQLite_Memory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ctx := context.Background()
	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := s.Get(ctx, "k"); err != nil || got != "v" {
		t.Errorf("Get = %q, %v; want v, nil", got, err)
	}
}

func TestSQLStore_Expiry(t *testing.T) {
	s, clk := newClockedSQL(t)
	ctx := context.Background()

	s.Set(ctx, "tracking:BR1", "cached", 30*time.Minute)
	s.Set(ctx, "thread:5511", "th_1", 0)

	clk.advance(29 * time.Minute)
	if _, err := s.Get(ctx, "tracking:BR1"); err != nil {
		t.Errorf("Get before expiry: %v", err)
	}

	clk.advance(2 * time.Minute)
	if _, err := s.Get(ctx, "tracking:BR1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "thread:5511"); err != nil {
		t.Errorf("key without ttl expired: %v", err)
	}
}

func TestSQLStore_SetNXReplacesExpired(t *testing.T) {
	s, clk := newClockedSQL(t)
	ctx := context.Background()

	ok, _ := s.SetNX(ctx, "tracking:notified:BR1", "1", 24*time.Hour)
	if !ok {
		t.Fatal("first SetNX should win")
	}
	clk.advance(23 * time.Hour)
	if ok, _ := s.SetNX(ctx, "tracking:notified:BR1", "1", 24*time.Hour); ok {
		t.Error("SetNX inside ttl window should lose")
	}
	clk.advance(2 * time.Hour)
	ok, err := s.SetNX(ctx, "tracking:notified:BR1", "1", 24*time.Hour)
	if err != nil {
		t.Fatalf("SetNX after expiry: %v", err)
	}
	if !ok {
		t.Error("SetNX after expiry should win")
	}
}

func TestSQLStore_CASIgnoresExpired(t *testing.T) {
	s, clk := newClockedSQL(t)
	ctx := context.Background()

	s.Set(ctx, "lock:run:th_1", "old", time.Minute)
	clk.advance(2 * time.Minute)
	ok, err := s.CompareAndSwap(ctx, "lock:run:th_1", "old", "new", time.Minute)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Error("CAS against an expired value should fail")
	}
}

func TestSQLStore_ListTTLRefresh(t *testing.T) {
	s, clk := newClockedSQL(t)
	ctx := context.Background()

	s.RPush(ctx, "chat:5511", time.Hour, "first")
	clk.advance(50 * time.Minute)
	s.RPush(ctx, "chat:5511", time.Hour, "second")
	clk.advance(50 * time.Minute)

	got, err := s.LRange(ctx, "chat:5511", 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("LRange = %v, want both items (ttl refreshed by second push)", got)
	}
}

func TestSQLStore_PurgeExpired(t *testing.T) {
	s, clk := newClockedSQL(t)
	ctx := context.Background()

	s.Set(ctx, "a", "1", time.Minute)
	s.Set(ctx, "b", "1", 0)
	s.RPush(ctx, "l", time.Minute, "x", "y")
	clk.advance(time.Hour)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 3 {
		t.Errorf("PurgeExpired = %d, want 3", n)
	}
	var count int64
	s.db.Model(&models.KVEntry{}).Count(&count)
	if count != 1 {
		t.Errorf("remaining entries = %d, want 1", count)
	}
}

func TestGlobToLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"payment:*:th_1", "payment:%:th!_1"},
		{"tracking:BR?", "tracking:BR_"},
		{"100%", "100!%"},
		{"a!b", "a!!b"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := globToLike(tt.in); got != tt.want {
			t.Errorf("globToLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSQLStore_DelPatternLiteralUnderscore(t *testing.T) {
	s, _ := newClockedSQL(t)
	ctx := context.Background()

	s.Set(ctx, "order:pending:th_1", "1", 0)
	s.Set(ctx, "order:pending:thX1", "1", 0)

	n, err := s.DelPattern(ctx, "order:pending:th_1")
	if err != nil {
		t.Fatalf("DelPattern: %v", err)
	}
	if n != 1 {
		t.Errorf("DelPattern removed %d, want 1 (underscore is literal)", n)
	}
	if _, err := s.Get(ctx, "order:pending:thX1"); err != nil {
		t.Errorf("thX1 should survive: %v", err)
	}
}
