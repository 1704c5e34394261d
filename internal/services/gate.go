package services

import (
	"fmt"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

type Decision string

const (
	DecisionAccept        Decision = "accept"
	DecisionSkipDuplicate Decision = "skip_duplicate"
	DecisionSkipStale     Decision = "skip_stale"
)

// DedupGate decides whether a candidate record overwrites, is skipped, or is
// rejected. Direct posts are authoritative: a direct candidate never
// overwrites an existing record, and an existing direct record is never
// overwritten by backfilled evidence regardless of timestamps. Backfilled
// candidates win only on a strictly newer timestamp, which makes re-processing
// the same history safe (at-least-once, resolved by time, never by arrival
// order).
type DedupGate interface {
	Decide(dbc dbctx.Context, candidate *types.FileRecord, provenance types.Provenance) (Decision, error)
}

type dedupGate struct {
	log        *logger.Logger
	recordRepo catalog.FileRecordRepo
}

func NewDedupGate(baseLog *logger.Logger, recordRepo catalog.FileRecordRepo) DedupGate {
	return &dedupGate{
		log:        baseLog.With("service", "DedupGate"),
		recordRepo: recordRepo,
	}
}

func (g *dedupGate) Decide(dbc dbctx.Context, candidate *types.FileRecord, provenance types.Provenance) (Decision, error) {
	if candidate == nil {
		return "", fmt.Errorf("Decide: candidate is nil")
	}

	switch provenance {
	case types.ProvenanceDirect:
		exists, err := g.recordRepo.Exists(dbc, candidate.ExternalFileID)
		if err != nil {
			return "", fmt.Errorf("Decide: existence check for %s: %w", candidate.ExternalFileID, err)
		}
		if exists {
			return DecisionSkipDuplicate, nil
		}
		return DecisionAccept, nil

	case types.ProvenanceBackfilled:
		existing, err := g.recordRepo.GetByExternalFileID(dbc, candidate.ExternalFileID)
		if err != nil {
			return "", fmt.Errorf("Decide: lookup for %s: %w", candidate.ExternalFileID, err)
		}
		if existing == nil {
			return DecisionAccept, nil
		}
		if existing.Provenance == types.ProvenanceDirect {
			return DecisionSkipDuplicate, nil
		}
		if candidate.CapturedAt.UTC().After(existing.CapturedAt.UTC()) {
			return DecisionAccept, nil
		}
		return DecisionSkipStale, nil

	default:
		return "", fmt.Errorf("Decide: unknown provenance %q", provenance)
	}
}
