package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingeventdomain "github.com/smallbiznis/creditledger/internal/billingevent/domain"
	pkgdb "github.com/smallbiznis/creditledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() billingeventdomain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, record *billingeventdomain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string, forUpdate bool) (*billingeventdomain.EventRecord, error) {
	query := db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", provider, providerEventID)
	if forUpdate && pkgdb.SupportsRowLocking(db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var record billingeventdomain.EventRecord
	err := query.Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&billingeventdomain.EventRecord{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", processedAt).Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]billingeventdomain.EventRecord, error) {
	var records []billingeventdomain.EventRecord
	err := db.WithContext(ctx).
		Where("processed_at IS NULL AND received_at <= ?", olderThan).
		Order("received_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
