package services

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

// IngestResult reports what happened to one message: not every message carries
// a file, and not every candidate passes the gate.
type IngestResult struct {
	Extracted bool
	Decision  Decision
	Record    *types.FileRecord
}

func (r IngestResult) Indexed() bool {
	return r.Extracted && r.Decision == DecisionAccept
}

// IngestService is the single write path into the catalog. The live message
// handler and the backfill walker both route through Process; only the
// provenance differs.
type IngestService interface {
	Process(dbc dbctx.Context, msg *botapi.Message, roomID int64, provenance types.Provenance) (IngestResult, error)
	HandleNewMessage(dbc dbctx.Context, msg *botapi.Message, roomID int64) (IngestResult, error)
}

type ingestService struct {
	db         *gorm.DB
	log        *logger.Logger
	extractor  Extractor
	gate       DedupGate
	recordRepo catalog.FileRecordRepo
}

func NewIngestService(
	db *gorm.DB,
	baseLog *logger.Logger,
	extractor Extractor,
	gate DedupGate,
	recordRepo catalog.FileRecordRepo,
) IngestService {
	return &ingestService{
		db:         db,
		log:        baseLog.With("service", "IngestService"),
		extractor:  extractor,
		gate:       gate,
		recordRepo: recordRepo,
	}
}

func (s *ingestService) Process(dbc dbctx.Context, msg *botapi.Message, roomID int64, provenance types.Provenance) (IngestResult, error) {
	candidate, ok := s.extractor.Extract(msg, roomID)
	if !ok {
		return IngestResult{}, nil
	}
	candidate.Provenance = provenance

	decision, err := s.gate.Decide(dbc, candidate, provenance)
	if err != nil {
		return IngestResult{Extracted: true}, fmt.Errorf("Process: gate decision: %w", err)
	}
	result := IngestResult{Extracted: true, Decision: decision, Record: candidate}
	if decision != DecisionAccept {
		return result, nil
	}

	if err := s.recordRepo.Upsert(dbc, candidate); err != nil {
		return result, fmt.Errorf("Process: store write for %s: %w", candidate.ExternalFileID, err)
	}
	s.log.Debug("Indexed file",
		"room_id", roomID,
		"external_file_id", candidate.ExternalFileID,
		"file_kind", candidate.FileKind,
		"provenance", provenance,
	)
	return result, nil
}

func (s *ingestService) HandleNewMessage(dbc dbctx.Context, msg *botapi.Message, roomID int64) (IngestResult, error) {
	return s.Process(dbc, msg, roomID, types.ProvenanceDirect)
}
