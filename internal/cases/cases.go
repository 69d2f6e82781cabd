// Package cases records customer issues forwarded to the finance team.
package cases

import (
	"fmt"
	"time"

	"github.com/lojaortopedic/atendente/internal/models"
	"gorm.io/gorm"
)

// Case status values.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
)

// Reasons lists the accepted escalation reasons.
var Reasons = []string{"payment_issue", "refund", "taxation", "payment_proof", "other"}

// Priorities lists the accepted priorities, lowest first.
var Priorities = []string{"low", "normal", "high", "urgent"}

// ValidReason reports whether r is an accepted escalation reason.
func ValidReason(r string) bool { return contains(Reasons, r) }

// ValidPriority reports whether p is an accepted priority.
func ValidPriority(p string) bool { return contains(Priorities, p) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// OpenOpts holds the details of a new finance case.
type OpenOpts struct {
	ThreadID      string
	CustomerID    string
	OrderNumber   string
	TrackingCode  string
	Reason        string
	Priority      string // "normal" when empty
	Details       string
	AttachmentURL string
}

// Open records a new finance case.
func Open(db *gorm.DB, opts OpenOpts) (*models.FinanceCase, error) {
	if opts.CustomerID == "" {
		return nil, fmt.Errorf("cases: customer is required")
	}
	if !ValidReason(opts.Reason) {
		return nil, fmt.Errorf("cases: invalid reason %q", opts.Reason)
	}
	priority := opts.Priority
	if priority == "" {
		priority = "normal"
	}
	if !ValidPriority(priority) {
		return nil, fmt.Errorf("cases: invalid priority %q", priority)
	}

	c := models.FinanceCase{
		ThreadID:      opts.ThreadID,
		CustomerID:    opts.CustomerID,
		OrderNumber:   opts.OrderNumber,
		TrackingCode:  opts.TrackingCode,
		Reason:        opts.Reason,
		Priority:      priority,
		Details:       opts.Details,
		AttachmentURL: opts.AttachmentURL,
		Status:        StatusOpen,
		CreatedAt:     time.Now(),
	}
	if err := db.Create(&c).Error; err != nil {
		return nil, fmt.Errorf("cases: open: %w", err)
	}
	return &c, nil
}

// ListOpts filters List results.
type ListOpts struct {
	Status     string // empty for all
	CustomerID string
	Limit      int
}

// List returns finance cases, newest first.
func List(db *gorm.DB, opts ListOpts) ([]models.FinanceCase, error) {
	q := db.Model(&models.FinanceCase{})
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.CustomerID != "" {
		q = q.Where("customer_id = ?", opts.CustomerID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var out []models.FinanceCase
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("cases: list: %w", err)
	}
	return out, nil
}

// Get returns a single case by ID.
func Get(db *gorm.DB, id uint) (*models.FinanceCase, error) {
	var c models.FinanceCase
	if err := db.First(&c, id).Error; err != nil {
		return nil, fmt.Errorf("cases: get %d: %w", id, err)
	}
	return &c, nil
}

// Acknowledge marks an open case as handled by someone on the finance team.
func Acknowledge(db *gorm.DB, id uint, by string) error {
	if by == "" {
		return fmt.Errorf("cases: acknowledger is required")
	}
	now := time.Now()
	result := db.Model(&models.FinanceCase{}).
		Where("id = ? AND status = ?", id, StatusOpen).
		Updates(map[string]interface{}{
			"status":          StatusAcknowledged,
			"acknowledged_by": by,
			"acknowledged_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("cases: acknowledge %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("cases: open case not found: %d", id)
	}
	return nil
}

// CountOpen returns the number of unacknowledged cases by reason.
func CountOpen(db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Reason string
		Total  int64
	}
	err := db.Model(&models.FinanceCase{}).
		Select("reason, count(*) as total").
		Where("status = ?", StatusOpen).
		Group("reason").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("cases: count open: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Reason] = r.Total
	}
	return out, nil
}
