package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Issue mirrors the latest known state of an escrow record.
type Issue struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Repository   string    `gorm:"uniqueIndex:idx_issue_key;not null"`
	IssueID      uint64    `gorm:"uniqueIndex:idx_issue_key;not null"`
	Mint         string    `gorm:"index"`
	Funder       string
	Reward       string `gorm:"not null"`
	Completed    bool   `gorm:"index"`
	Contributors string
	Percentages  string
	LockedAt     time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// Claim is one paid out contributor share.
type Claim struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Repository string    `gorm:"uniqueIndex:idx_claim_key;not null"`
	IssueID    uint64    `gorm:"uniqueIndex:idx_claim_key;not null"`
	GithubID   string    `gorm:"uniqueIndex:idx_claim_key;not null"`
	Claimer    string    `gorm:"index"`
	Mint       string
	Amount     string `gorm:"not null"`
	ClaimedAt  time.Time
}

// IdentityLink is the most recent wallet bound to a login.
type IdentityLink struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	GithubID  string    `gorm:"uniqueIndex;not null"`
	Address   string    `gorm:"index"`
	UpdatedAt time.Time
}

// EventRecord is the raw event log. Fingerprint deduplicates replays.
// Height and Position are zero for events recorded without a ledger position.
type EventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type        string    `gorm:"index"`
	Fingerprint string    `gorm:"uniqueIndex;size:64"`
	Height      uint64    `gorm:"index"`
	Position    int
	Attributes  string
	RecordedAt  time.Time
}

func (EventRecord) TableName() string { return "events" }

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Issue{}, &Claim{}, &IdentityLink{}, &EventRecord{})
}
