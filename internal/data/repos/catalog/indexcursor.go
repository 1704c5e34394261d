package catalog

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

type IndexCursorRepo interface {
	Save(dbc dbctx.Context, roomID int64, lastProcessedMessageID int64) error
	Load(dbc dbctx.Context, roomID int64) (int64, bool, error)
}

type indexCursorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIndexCursorRepo(db *gorm.DB, baseLog *logger.Logger) IndexCursorRepo {
	repoLog := baseLog.With("repo", "IndexCursorRepo")
	return &indexCursorRepo{db: db, log: repoLog}
}

func (r *indexCursorRepo) Save(dbc dbctx.Context, roomID int64, lastProcessedMessageID int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	cursor := &types.IndexCursor{
		RoomID:                 roomID,
		LastProcessedMessageID: lastProcessedMessageID,
		UpdatedAt:              time.Now().UTC(),
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_processed_message_id", "updated_at"}),
		}).
		Create(cursor).Error; err != nil {
		return err
	}
	return nil
}

func (r *indexCursorRepo) Load(dbc dbctx.Context, roomID int64) (int64, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var cursor types.IndexCursor
	err := transaction.WithContext(dbc.Ctx).
		Where("room_id = ?", roomID).
		First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor.LastProcessedMessageID, true, nil
}
