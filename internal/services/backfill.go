package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/httpx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/transport"
	"github.com/chatdex/chatdex-backend/internal/types"
)

type WalkState string

const (
	WalkStateIdle      WalkState = "idle"
	WalkStateRunning   WalkState = "running"
	WalkStateCompleted WalkState = "completed"
	WalkStateAborted   WalkState = "aborted"
	WalkStateCancelled WalkState = "cancelled"
)

// WalkStatus is a point-in-time snapshot of one room's walk.
type WalkStatus struct {
	RoomID         int64     `json:"room_id"`
	State          WalkState `json:"state"`
	Anchor         int64     `json:"anchor"`
	Frontier       int64     `json:"frontier"`
	ScannedCount   int64     `json:"scanned_count"`
	ProcessedCount int64     `json:"processed_count"`
	FailedLookups  int64     `json:"failed_lookups"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

type BackfillConfig struct {
	BatchSize              int
	MaxRetries             int
	MaxConsecutiveFailures int
	MaxMessages            int64
	StatusEvery            int64
	BatchPause             time.Duration
	RateLimitFallback      time.Duration
}

func DefaultBackfillConfig() BackfillConfig {
	return BackfillConfig{
		BatchSize:              50,
		MaxRetries:             3,
		MaxConsecutiveFailures: 25,
		MaxMessages:            0,
		StatusEvery:            100,
		BatchPause:             500 * time.Millisecond,
		RateLimitFallback:      5 * time.Second,
	}
}

// lowestMessageID is the smallest id the transport can ever assign; the walk
// completes once the frontier reaches it.
const lowestMessageID int64 = 1

// BackfillService drives the historical walk: it discovers messages by point
// lookups over consecutive descending ids (no history-listing capability is
// assumed), routes everything through the shared gateway, and survives gaps,
// transient failures and restarts. One walk per room at a time; walks for
// different rooms run independently.
type BackfillService interface {
	Start(roomID int64, anchor int64) (WalkStatus, error)
	Cancel(roomID int64) error
	Status(roomID int64) (WalkStatus, bool)
	Wait(roomID int64)
}

type walk struct {
	mu     sync.Mutex
	status WalkStatus

	// seen is walk-scoped: external file ids already handled in this run, so a
	// resumed/overlapping batch does not re-route the same file to the gate.
	seen map[string]bool

	cancelled bool
	done      chan struct{}

	statusMessageID int64
	lastReported    int64
}

func (w *walk) snapshot() WalkStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *walk) setState(state WalkState, lastError string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
	w.status.LastError = lastError
	if state != WalkStateRunning {
		w.status.FinishedAt = time.Now().UTC()
	}
}

func (w *walk) isCancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

type backfillService struct {
	db         *gorm.DB
	log        *logger.Logger
	gateway    transport.Client
	ingest     IngestService
	cursorRepo catalog.IndexCursorRepo
	cfg        BackfillConfig

	ctx context.Context

	mu    sync.Mutex
	walks map[int64]*walk
}

func NewBackfillService(
	ctx context.Context,
	db *gorm.DB,
	baseLog *logger.Logger,
	gateway transport.Client,
	ingest IngestService,
	cursorRepo catalog.IndexCursorRepo,
	cfg BackfillConfig,
) BackfillService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBackfillConfig().BatchSize
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = DefaultBackfillConfig().MaxConsecutiveFailures
	}
	if cfg.RateLimitFallback <= 0 {
		cfg.RateLimitFallback = DefaultBackfillConfig().RateLimitFallback
	}
	return &backfillService{
		db:         db,
		log:        baseLog.With("service", "BackfillService"),
		gateway:    gateway,
		ingest:     ingest,
		cursorRepo: cursorRepo,
		cfg:        cfg,
		ctx:        ctx,
		walks:      make(map[int64]*walk),
	}
}

func (s *backfillService) Start(roomID int64, anchor int64) (WalkStatus, error) {
	if anchor <= lowestMessageID {
		return WalkStatus{}, fmt.Errorf("Start: anchor %d leaves nothing to walk", anchor)
	}

	s.mu.Lock()
	if existing, ok := s.walks[roomID]; ok && existing.snapshot().State == WalkStateRunning {
		s.mu.Unlock()
		return existing.snapshot(), fmt.Errorf("Start: walk already running for room %d", roomID)
	}

	frontier := anchor
	if saved, found, err := s.cursorRepo.Load(dbctx.Context{Ctx: s.ctx}, roomID); err != nil {
		s.log.Warn("Cursor load failed, starting from anchor", "room_id", roomID, "error", err)
	} else if found && saved < anchor && saved >= lowestMessageID {
		frontier = saved
		s.log.Info("Resuming walk from persisted cursor", "room_id", roomID, "cursor", saved, "anchor", anchor)
	}

	w := &walk{
		status: WalkStatus{
			RoomID:    roomID,
			State:     WalkStateRunning,
			Anchor:    anchor,
			Frontier:  frontier,
			StartedAt: time.Now().UTC(),
		},
		seen: make(map[string]bool),
		done: make(chan struct{}),
	}
	s.walks[roomID] = w
	s.mu.Unlock()

	go s.run(w)
	return w.snapshot(), nil
}

func (s *backfillService) Cancel(roomID int64) error {
	s.mu.Lock()
	w, ok := s.walks[roomID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("Cancel: no walk for room %d", roomID)
	}
	w.mu.Lock()
	w.cancelled = true
	w.mu.Unlock()
	return nil
}

func (s *backfillService) Status(roomID int64) (WalkStatus, bool) {
	s.mu.Lock()
	w, ok := s.walks[roomID]
	s.mu.Unlock()
	if !ok {
		return WalkStatus{RoomID: roomID, State: WalkStateIdle}, false
	}
	return w.snapshot(), true
}

// Wait blocks until the room's walk reaches a terminal state.
func (s *backfillService) Wait(roomID int64) {
	s.mu.Lock()
	w, ok := s.walks[roomID]
	s.mu.Unlock()
	if !ok {
		return
	}
	<-w.done
}

type lookupResult struct {
	messageID int64
	msg       *botapi.Message
	err       error
}

func (s *backfillService) run(w *walk) {
	defer close(w.done)

	roomID := w.status.RoomID
	walkLog := s.log.With("room_id", roomID)
	walkLog.Info("Backfill walk started", "anchor", w.status.Anchor, "frontier", w.status.Frontier)

	s.postStatus(w, "Indexing history... 0 files indexed so far.")

	consecutiveFailures := 0

	for {
		snap := w.snapshot()

		if snap.Frontier <= lowestMessageID {
			s.finish(w, WalkStateCompleted, "")
			return
		}
		if s.cfg.MaxMessages > 0 && snap.ScannedCount >= s.cfg.MaxMessages {
			walkLog.Info("Message budget reached", "scanned", snap.ScannedCount, "budget", s.cfg.MaxMessages)
			s.finish(w, WalkStateCompleted, "")
			return
		}
		// Cancellation is cooperative and only observed here, between batches;
		// an in-flight lookup always completes.
		if w.isCancelled() || s.ctx.Err() != nil {
			s.finish(w, WalkStateCancelled, "")
			return
		}

		high := snap.Frontier - 1
		low := snap.Frontier - int64(s.cfg.BatchSize)
		if low < lowestMessageID {
			low = lowestMessageID
		}

		results, err := s.fetchBatch(roomID, high, low)
		if err != nil {
			if transport.IsForbidden(err) {
				walkLog.Error("Walk lost access to room", "error", err)
				s.finish(w, WalkStateAborted, "access to room denied; re-add the bot as administrator and restart the walk")
				return
			}
			// Context shutdown while fetching.
			s.finish(w, WalkStateCancelled, "")
			return
		}

		resolved := make([]lookupResult, 0, len(results))
		batchFailures := 0
		for _, r := range results {
			switch {
			case r.err == nil:
				resolved = append(resolved, r)
			case transport.IsNotFound(r.err):
				// Expected gap: deleted message or an id that never was one.
			case transport.IsForbidden(r.err):
				walkLog.Error("Walk lost access to room", "message_id", r.messageID, "error", r.err)
				s.finish(w, WalkStateAborted, "access to room denied; re-add the bot as administrator and restart the walk")
				return
			default:
				batchFailures++
				walkLog.Warn("Lookup failed after retries", "message_id", r.messageID, "error", r.err)
			}
		}

		if batchFailures > 0 {
			consecutiveFailures += batchFailures
			w.mu.Lock()
			w.status.FailedLookups += int64(batchFailures)
			w.mu.Unlock()
			if consecutiveFailures >= s.cfg.MaxConsecutiveFailures {
				walkLog.Error("Aborting walk: too many consecutive failed lookups", "failures", consecutiveFailures)
				s.finish(w, WalkStateAborted, fmt.Sprintf("aborted after %d consecutive failed lookups", consecutiveFailures))
				return
			}
		} else {
			consecutiveFailures = 0
		}

		if len(resolved) == 0 && batchFailures == 0 {
			// The whole batch resolved to nothing: the walk has run out of
			// history.
			s.finish(w, WalkStateCompleted, "")
			return
		}

		// Newest first, matching the walk's overall direction. Out-of-order
		// arrivals within the batch are harmless: the gate resolves by
		// timestamp, not arrival order.
		sort.Slice(resolved, func(i, j int) bool { return resolved[i].messageID > resolved[j].messageID })
		for _, r := range resolved {
			s.processMessage(w, walkLog, r.msg, roomID)
		}

		w.mu.Lock()
		w.status.Frontier = low
		w.status.ScannedCount += high - low + 1
		w.mu.Unlock()

		if err := s.cursorRepo.Save(dbctx.Context{Ctx: s.ctx}, roomID, low); err != nil {
			walkLog.Warn("Cursor save failed; a restart will re-process this batch", "frontier", low, "error", err)
		}

		s.maybeReportProgress(w)
		s.pause(s.cfg.BatchPause)
	}
}

// fetchBatch issues one gateway lookup per id in [low, high], bounded by the
// gateway's own slot budget. A Forbidden result anywhere cancels the rest of
// the batch.
func (s *backfillService) fetchBatch(roomID int64, high, low int64) ([]lookupResult, error) {
	n := int(high - low + 1)
	results := make([]lookupResult, n)

	g, gctx := errgroup.WithContext(s.ctx)
	g.SetLimit(s.cfg.BatchSize)
	for i := 0; i < n; i++ {
		i := i
		messageID := high - int64(i)
		g.Go(func() error {
			msg, err := s.fetchWithRetry(gctx, roomID, messageID)
			results[i] = lookupResult{messageID: messageID, msg: msg, err: err}
			if transport.IsForbidden(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetchWithRetry retries transient failures with jittered exponential backoff
// and honors rate-limit pauses without counting them as attempts; NotFound and
// Forbidden return immediately.
func (s *backfillService) fetchWithRetry(ctx context.Context, roomID int64, messageID int64) (*botapi.Message, error) {
	backoff := time.Second
	attempt := 0
	var lastErr error

	for attempt <= s.cfg.MaxRetries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg, err := s.gateway.GetMessage(ctx, roomID, messageID)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		switch {
		case transport.IsNotFound(err), transport.IsForbidden(err):
			return nil, err
		case transport.IsRateLimited(err):
			s.pauseCtx(ctx, transport.RetryAfter(err, s.cfg.RateLimitFallback))
		default:
			attempt++
			if attempt > s.cfg.MaxRetries {
				return nil, lastErr
			}
			s.pauseCtx(ctx, httpx.JitterSleep(backoff))
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (s *backfillService) processMessage(w *walk, walkLog *logger.Logger, msg *botapi.Message, roomID int64) {
	result, err := s.ingest.Process(dbctx.Context{Ctx: s.ctx}, msg, roomID, types.ProvenanceBackfilled)
	if err != nil {
		// One bad record must not stop the walk.
		walkLog.Warn("Dropping record after store write failure", "message_id", msg.MessageID, "error", err)
		return
	}
	if !result.Extracted {
		return
	}

	w.mu.Lock()
	if w.seen[result.Record.ExternalFileID] {
		w.mu.Unlock()
		return
	}
	w.seen[result.Record.ExternalFileID] = true
	if result.Decision == DecisionAccept {
		w.status.ProcessedCount++
	}
	w.mu.Unlock()
}

// maybeReportProgress edits the walk's status message in place once enough new
// files have been accepted since the last report.
func (s *backfillService) maybeReportProgress(w *walk) {
	w.mu.Lock()
	processed := w.status.ProcessedCount
	due := s.cfg.StatusEvery > 0 && processed-w.lastReported >= s.cfg.StatusEvery
	if due {
		w.lastReported = processed
	}
	w.mu.Unlock()

	if due {
		s.editStatus(w, fmt.Sprintf("Indexing history... %d files indexed so far.", processed))
	}
}

func (s *backfillService) finish(w *walk, state WalkState, lastError string) {
	w.setState(state, lastError)
	snap := w.snapshot()
	s.log.Info("Backfill walk finished",
		"room_id", snap.RoomID,
		"state", state,
		"scanned", snap.ScannedCount,
		"indexed", snap.ProcessedCount,
		"failed_lookups", snap.FailedLookups,
	)

	var text string
	switch state {
	case WalkStateCompleted:
		text = fmt.Sprintf("Indexing finished: %d files indexed.", snap.ProcessedCount)
	case WalkStateCancelled:
		text = fmt.Sprintf("Indexing cancelled: %d files indexed so far.", snap.ProcessedCount)
	case WalkStateAborted:
		text = fmt.Sprintf("Indexing stopped: %s (%d files indexed).", lastError, snap.ProcessedCount)
	}
	if text != "" {
		s.editStatus(w, text)
	}
}

// postStatus sends the walk's single status message; later reports edit it in
// place instead of flooding the room.
func (s *backfillService) postStatus(w *walk, text string) {
	msg, err := s.gateway.SendMessage(s.ctx, w.status.RoomID, text)
	if err != nil {
		s.log.Warn("Status message post failed", "room_id", w.status.RoomID, "error", err)
		return
	}
	w.mu.Lock()
	w.statusMessageID = msg.MessageID
	w.mu.Unlock()
}

func (s *backfillService) editStatus(w *walk, text string) {
	w.mu.Lock()
	statusID := w.statusMessageID
	roomID := w.status.RoomID
	w.mu.Unlock()
	if statusID == 0 {
		return
	}
	if err := s.gateway.EditMessageText(s.ctx, roomID, statusID, text); err != nil {
		s.log.Warn("Status message edit failed", "room_id", roomID, "error", err)
	}
}

func (s *backfillService) pause(d time.Duration) {
	s.pauseCtx(s.ctx, d)
}

func (s *backfillService) pauseCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
