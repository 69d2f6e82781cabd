package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lojaortopedic/atendente/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// likeEscape is the ESCAPE character used when translating globs to LIKE.
// A backslash would need different quoting in MySQL and SQLite.
const likeEscape = "!"

// SQL is a Store backed by the kv_entries and kv_list_items tables. Expiry
// is evaluated at read time; PurgeExpired removes dead rows.
type SQL struct {
	db    *gorm.DB
	now   func() time.Time
	owned bool // Close closes the underlying connection
}

// SQLOpts holds parameters for creating a SQL store.
type SQLOpts struct {
	DB  *gorm.DB
	Now func() time.Time // defaults to time.Now
}

// NewSQL creates a SQL-backed Store. The tables must already be migrated.
func NewSQL(opts SQLOpts) (*SQL, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("kvstore: sql: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SQL{db: opts.DB, now: now}, nil
}

// OpenSQLite opens (or creates) a SQLite database at path, migrates the
// key-value tables and returns a Store over it. ":memory:" gives a private
// in-process store, used by the console chat and tests.
func OpenSQLite(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("kvstore: open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.KVEntry{}, &models.KVListItem{}); err != nil {
		return nil, fmt.Errorf("kvstore: migrate sqlite %s: %w", path, err)
	}
	s, err := NewSQL(SQLOpts{DB: db})
	if err != nil {
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *SQL) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl)
	return &t
}

// live restricts a query to rows that have not expired.
func (s *SQL) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at IS NULL OR expires_at > ?", s.now())
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var e models.KVEntry
	err := s.live(s.db.WithContext(ctx).Where("`key` = ?", key)).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return e.Value, nil
}

func (s *SQL) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := models.KVEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl), UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}

// SetNX clears an expired row for key first, then inserts with ON CONFLICT DO
// NOTHING so concurrent callers race on the primary key.
func (s *SQL) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("`key` = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now()).
			Delete(&models.KVEntry{}).Error; err != nil {
			return err
		}
		e := models.KVEntry{Key: key, Value: value, ExpiresAt: s.expiry(ttl), UpdatedAt: s.now()}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("kvstore: setnx %s: %w", key, err)
	}
	return inserted, nil
}

func (s *SQL) CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	res := s.live(s.db.WithContext(ctx).Model(&models.KVEntry{}).
		Where("`key` = ? AND value = ?", key, oldValue)).
		Updates(map[string]interface{}{
			"value":      newValue,
			"expires_at": s.expiry(ttl),
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("kvstore: cas %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *SQL) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("`key` IN ?", keys).Delete(&models.KVEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("`key` IN ?", keys).Delete(&models.KVListItem{}).Error
	})
	if err != nil {
		return fmt.Errorf("kvstore: del: %w", err)
	}
	return nil
}

func (s *SQL) DelPattern(ctx context.Context, pattern string) (int, error) {
	like := globToLike(pattern)
	var deleted int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var keys []string
		if err := s.live(tx.Model(&models.KVEntry{}).
			Where("`key` LIKE ? ESCAPE '"+likeEscape+"'", like)).
			Pluck("key", &keys).Error; err != nil {
			return err
		}
		var listKeys []string
		if err := s.live(tx.Model(&models.KVListItem{}).
			Where("`key` LIKE ? ESCAPE '"+likeEscape+"'", like)).
			Distinct().Pluck("key", &listKeys).Error; err != nil {
			return err
		}
		if err := tx.Where("`key` LIKE ? ESCAPE '"+likeEscape+"'", like).Delete(&models.KVEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("`key` LIKE ? ESCAPE '"+likeEscape+"'", like).Delete(&models.KVListItem{}).Error; err != nil {
			return err
		}
		seen := make(map[string]bool, len(keys)+len(listKeys))
		for _, k := range append(keys, listKeys...) {
			seen[k] = true
		}
		deleted = len(seen)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("kvstore: del pattern %s: %w", pattern, err)
	}
	return deleted, nil
}

func (s *SQL) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	exp := s.expiry(ttl)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exp != nil {
			if err := tx.Model(&models.KVListItem{}).Where("`key` = ?", key).
				Update("expires_at", exp).Error; err != nil {
				return err
			}
		}
		items := make([]models.KVListItem, len(values))
		for i, v := range values {
			items[i] = models.KVListItem{Key: key, Value: v, ExpiresAt: exp, CreatedAt: s.now()}
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return fmt.Errorf("kvstore: rpush %s: %w", key, err)
	}
	return nil
}

func (s *SQL) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var vals []string
	if err := s.live(s.db.WithContext(ctx).Model(&models.KVListItem{}).Where("`key` = ?", key)).
		Order("id").Pluck("value", &vals).Error; err != nil {
		return nil, fmt.Errorf("kvstore: lrange %s: %w", key, err)
	}
	lo, hi, ok := rangeBounds(len(vals), start, stop)
	if !ok {
		return []string{}, nil
	}
	return vals[lo:hi], nil
}

// PurgeExpired deletes expired rows from both tables and returns how many
// rows were removed.
func (s *SQL) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, m := range []interface{}{&models.KVEntry{}, &models.KVListItem{}} {
		res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(m)
		if res.Error != nil {
			return total, fmt.Errorf("kvstore: purge expired: %w", res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

// Close releases the connection opened by OpenSQLite. Stores built with
// NewSQL leave the caller's *gorm.DB open.
func (s *SQL) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// globToLike translates a Redis glob ("*", "?") into a LIKE pattern escaped
// with likeEscape.
func globToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '!':
			b.WriteString(likeEscape)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
