package models

import "time"

// KVEntry is a single string value in the SQL-backed key-value store. It is
// used when no Redis is configured. Expired rows are ignored on read and
// purged lazily.
type KVEntry struct {
	Key       string     `gorm:"primaryKey;size:255"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// KVListItem is one element of an append-only list in the SQL-backed
// key-value store. Order is the insertion order (ID).
type KVListItem struct {
	ID        uint       `gorm:"primaryKey;autoIncrement"`
	Key       string     `gorm:"size:255;not null;index"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
}
