package services

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

// Miss is the event emitted when a lookup matches nothing. The literal query
// text is preserved so the notification names exactly what was asked for.
type Miss struct {
	RoomID      int64  `json:"room_id"`
	Query       string `json:"query"`
	RequesterID int64  `json:"requester_id"`
}

// QueryService answers free-text lookups against the catalog. It performs no
// I/O beyond the store; the miss fan-out belongs to the MissNotifier.
type QueryService interface {
	Query(dbc dbctx.Context, roomID int64, text string) ([]*types.FileRecord, error)
	Count(dbc dbctx.Context, roomID int64) (int64, error)
}

type queryService struct {
	db         *gorm.DB
	log        *logger.Logger
	recordRepo catalog.FileRecordRepo
}

func NewQueryService(db *gorm.DB, baseLog *logger.Logger, recordRepo catalog.FileRecordRepo) QueryService {
	return &queryService{
		db:         db,
		log:        baseLog.With("service", "QueryService"),
		recordRepo: recordRepo,
	}
}

func (s *queryService) Query(dbc dbctx.Context, roomID int64, text string) ([]*types.FileRecord, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil, nil
	}
	records, err := s.recordRepo.Search(dbc, roomID, normalized)
	if err != nil {
		return nil, fmt.Errorf("Query: search %q in room %d: %w", normalized, roomID, err)
	}
	return records, nil
}

func (s *queryService) Count(dbc dbctx.Context, roomID int64) (int64, error) {
	return s.recordRepo.CountByRoom(dbc, roomID)
}
