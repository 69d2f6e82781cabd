package models

import "time"

// FinanceCase is a customer issue forwarded to the finance team, either by
// the assistant (escalation, payment proof) or by the tracking sanitizer.
type FinanceCase struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	ThreadID       string     `gorm:"size:128;index"`
	CustomerID     string     `gorm:"size:64;not null;index"`
	OrderNumber    string     `gorm:"size:32;index"`
	TrackingCode   string     `gorm:"size:64"`
	Reason         string     `gorm:"size:32;not null"`      // payment_issue, refund, taxation, payment_proof, other
	Priority       string     `gorm:"size:8;default:normal"` // low, normal, high, urgent
	Details        string     `gorm:"type:text"`
	AttachmentURL  string     `gorm:"size:512"`
	Status         string     `gorm:"size:16;default:open;index"` // open, acknowledged
	AcknowledgedBy string     `gorm:"size:64"`
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}
