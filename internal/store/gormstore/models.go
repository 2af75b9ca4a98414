package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table. Balance and lifetime counters share
// the row so they are always read and written together.
type Account struct {
	AccountID         string         `gorm:"primaryKey"`
	Username          string         `gorm:"not null;uniqueIndex:idx_accounts_username"`
	Balance           int64          `gorm:"not null"`
	StartingBalance   int64          `gorm:"not null"`
	CreditsAdded      int64          `gorm:"not null;default:0"`
	CreditsUsed       int64          `gorm:"not null;default:0"`
	Generations       int64          `gorm:"not null;default:0"`
	LastCreditAddedAt *time.Time
	LastCreditUsedAt  *time.Time
	CreatedAt         time.Time      `gorm:"not null"`
	UpdatedAt         time.Time      `gorm:"not null"`
	History           []HistoryEntry `gorm:"foreignKey:AccountID;references:AccountID;constraint:OnDelete:CASCADE"`
}

func (Account) TableName() string { return "accounts" }

// HistoryEntry mirrors the account_history table.
type HistoryEntry struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	AccountID  string         `gorm:"not null;index:idx_history_account_occurred,priority:1"`
	Category   string         `gorm:"not null"`
	Task       string         `gorm:"not null"`
	Detail     string         `gorm:"not null"`
	Status     string         `gorm:"not null"`
	OccurredAt time.Time      `gorm:"not null;index:idx_history_account_occurred,priority:2"`
	ResultRef  *string        `gorm:""`
	Metadata   datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

func (HistoryEntry) TableName() string { return "account_history" }

// Models lists every table managed by the store, in creation order.
func Models() []any {
	return []any{&Account{}, &HistoryEntry{}}
}
