// Package indexer projects committed ledger events into a relational store
// for reporting and the reward_listClaims RPC.
package indexer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"ghreward/core/events"
)

const defaultQueueSize = 1024

// Open connects to dsn. postgres:// and postgresql:// URLs use the postgres
// driver; anything else is treated as a sqlite path or URI.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("indexer: dsn required")
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return db, nil
}

// Indexer consumes ledger events. It implements events.Emitter; events are
// queued and written by Run.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	queue  chan events.Event
}

func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: logger.With("component", "indexer"),
		now:    time.Now,
		queue:  make(chan events.Event, defaultQueueSize),
	}, nil
}

// Emit queues evt. It blocks while the queue is full so committed events are
// never dropped.
func (idx *Indexer) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	idx.queue <- evt
}

// Run writes queued events until ctx is cancelled, then drains what is left.
func (idx *Indexer) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-idx.queue:
			idx.record(ctx, evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-idx.queue:
					idx.record(context.Background(), evt)
				default:
					return nil
				}
			}
		}
	}
}

func (idx *Indexer) record(ctx context.Context, evt events.Event) {
	if err := idx.Record(ctx, evt); err != nil {
		idx.logger.Error("index event failed", "type", evt.EventType(), "error", err)
	}
}

// Record persists evt and updates the projections. Events already recorded
// are ignored. Only reward events are indexed.
//
// Events delivered as events.Committed are deduplicated by ledger position,
// so a repeated state change (a login linked back to an earlier wallet) is
// still projected. Bare events fall back to their content.
func (idx *Indexer) Record(ctx context.Context, evt events.Event) error {
	var pos *events.Committed
	if committed, ok := evt.(events.Committed); ok {
		pos = &committed
		evt = committed.Inner
	}
	typed, ok := evt.(events.Typed)
	if !ok {
		return nil
	}
	rendered := typed.Event()
	if rendered == nil || !strings.HasPrefix(rendered.Type, "reward.") {
		return nil
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return err
	}
	row := EventRecord{
		ID:          uuid.New(),
		Type:        rendered.Type,
		Fingerprint: fingerprint(rendered.Type, attrs, pos),
		Attributes:  string(attrs),
		RecordedAt:  idx.now().UTC(),
	}
	if pos != nil {
		row.Height = pos.Height
		row.Position = pos.Index
	}
	return idx.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return idx.project(tx, evt, row.RecordedAt)
	})
}

func fingerprint(eventType string, attrs []byte, pos *events.Committed) string {
	h := blake3.New(32, nil)
	if pos != nil {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[:8], pos.Height)
		binary.BigEndian.PutUint64(buf[8:], uint64(pos.Index))
		_, _ = h.Write(buf[:])
	}
	_, _ = h.Write([]byte(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(attrs)
	return hex.EncodeToString(h.Sum(nil))
}

func (idx *Indexer) project(tx *gorm.DB, evt events.Event, at time.Time) error {
	switch e := evt.(type) {
	case events.RewardLocked:
		var issue Issue
		err := tx.Where("repository = ? AND issue_id = ?", e.Repository, e.IssueID).First(&issue).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Issue{
				ID:         uuid.New(),
				Repository: e.Repository,
				IssueID:    e.IssueID,
				Mint:       e.Mint.String(),
				Funder:     e.Funder.String(),
				Reward:     amountString(e.Total),
				LockedAt:   at,
				UpdatedAt:  at,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&issue).Updates(map[string]interface{}{
			"reward":     amountString(e.Total),
			"mint":       e.Mint.String(),
			"updated_at": at,
		}).Error
	case events.RewardIssueCompleted:
		completed := at
		issue := Issue{
			ID:           uuid.New(),
			Repository:   e.Repository,
			IssueID:      e.IssueID,
			Reward:       "0",
			Completed:    true,
			Contributors: strings.Join(e.Contributors, ","),
			Percentages:  joinPercentages(e.Percentages),
			CompletedAt:  &completed,
			LockedAt:     at,
			UpdatedAt:    at,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository"}, {Name: "issue_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed", "contributors", "percentages", "completed_at", "updated_at"}),
		}).Create(&issue).Error
	case events.RewardClaimed:
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Claim{
			ID:         uuid.New(),
			Repository: e.Repository,
			IssueID:    e.IssueID,
			GithubID:   e.GithubID,
			Claimer:    e.Claimer.String(),
			Mint:       e.Mint.String(),
			Amount:     amountString(e.Amount),
			ClaimedAt:  at,
		}).Error
	case events.RewardIdentityLinked:
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "github_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "updated_at"}),
		}).Create(&IdentityLink{
			ID:        uuid.New(),
			GithubID:  strings.ToLower(e.GithubID),
			Address:   e.Address.String(),
			UpdatedAt: at,
		}).Error
	}
	return nil
}

// ListClaims returns recorded claims, optionally narrowed to one repository
// and issue. An empty repository lists everything; a nil issueID lists every
// issue of the repository. Issue 0 is a valid filter.
func (idx *Indexer) ListClaims(ctx context.Context, repository string, issueID *uint64) ([]Claim, error) {
	q := idx.db.WithContext(ctx).Order("claimed_at ASC").Order("github_id ASC")
	if repository != "" {
		q = q.Where("repository = ?", repository)
		if issueID != nil {
			q = q.Where("issue_id = ?", *issueID)
		}
	}
	var out []Claim
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	Repository string
	Completed  *bool
	Limit      int
}

func (idx *Indexer) ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error) {
	q := idx.db.WithContext(ctx).Order("repository ASC").Order("issue_id ASC")
	if filter.Repository != "" {
		q = q.Where("repository = ?", filter.Repository)
	}
	if filter.Completed != nil {
		q = q.Where("completed = ?", *filter.Completed)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []Issue
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Identity returns the wallet most recently linked to login, or nil.
func (idx *Indexer) Identity(ctx context.Context, login string) (*IdentityLink, error) {
	var link IdentityLink
	err := idx.db.WithContext(ctx).Where("github_id = ?", strings.ToLower(strings.TrimSpace(login))).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// EventCount reports how many distinct events were recorded.
func (idx *Indexer) EventCount(ctx context.Context) (int64, error) {
	var n int64
	err := idx.db.WithContext(ctx).Model(&EventRecord{}).Count(&n).Error
	return n, err
}
