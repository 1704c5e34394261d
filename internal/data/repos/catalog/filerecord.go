package catalog

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

type FileRecordRepo interface {
	Upsert(dbc dbctx.Context, record *types.FileRecord) error
	Exists(dbc dbctx.Context, externalFileID string) (bool, error)
	GetByExternalFileID(dbc dbctx.Context, externalFileID string) (*types.FileRecord, error)
	Search(dbc dbctx.Context, roomID int64, text string) ([]*types.FileRecord, error)
	CountByRoom(dbc dbctx.Context, roomID int64) (int64, error)
}

type fileRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileRecordRepo(db *gorm.DB, baseLog *logger.Logger) FileRecordRepo {
	repoLog := baseLog.With("repo", "FileRecordRepo")
	return &fileRecordRepo{db: db, log: repoLog}
}

// Upsert inserts the record or atomically replaces the row holding the same
// external_file_id. The unique index on external_file_id is the store's sole
// consistency mechanism across concurrent writers, so replacement must happen
// inside one statement rather than a read-modify-write.
func (r *fileRecordRepo) Upsert(dbc dbctx.Context, record *types.FileRecord) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if record == nil {
		return nil
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.CapturedAt = record.CapturedAt.UTC()

	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_file_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"room_id",
				"file_kind",
				"display_name",
				"size_bytes",
				"origin_message_id",
				"captured_at",
				"provenance",
				"updated_at",
			}),
		}).
		Create(record).Error; err != nil {
		return err
	}
	return nil
}

func (r *fileRecordRepo) Exists(dbc dbctx.Context, externalFileID string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.FileRecord{}).
		Where("external_file_id = ?", externalFileID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *fileRecordRepo) GetByExternalFileID(dbc dbctx.Context, externalFileID string) (*types.FileRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var record types.FileRecord
	err := transaction.WithContext(dbc.Ctx).
		Where("external_file_id = ?", externalFileID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Search matches the lowered display name against the lowered query text.
// Ordering is captured_at DESC then id so identical store state always yields
// the same sequence.
func (r *fileRecordRepo) Search(dbc dbctx.Context, roomID int64, text string) ([]*types.FileRecord, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.FileRecord
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(text))) + "%"
	if err := transaction.WithContext(dbc.Ctx).
		Where("room_id = ?", roomID).
		Where(`LOWER(display_name) LIKE ? ESCAPE '\'`, pattern).
		Order("captured_at DESC").
		Order("id").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fileRecordRepo) CountByRoom(dbc dbctx.Context, roomID int64) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.FileRecord{}).
		Where("room_id = ?", roomID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
