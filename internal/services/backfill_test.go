package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/data/repos/testutil"
	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/transport"
	"github.com/chatdex/chatdex-backend/internal/types"
)

type sentMessage struct {
	roomID int64
	text   string
}

// fakeGateway is an in-memory transport.Client. Message history is a map from
// message id to message; absent ids resolve to not_found, like deleted
// messages do.
type fakeGateway struct {
	mu sync.Mutex

	messages map[int64]*botapi.Message
	// getMessage, when set, overrides the map lookup.
	getMessage func(roomID, messageID int64) (*botapi.Message, error)

	admins    []botapi.ChatMember
	adminsErr error
	sendErrTo map[int64]error

	sent         []sentMessage
	edits        []string
	calls        int64
	maxRequested int64
	onGetMessage func(calls int64)
}

func errNotFound() error {
	return &transport.Error{Kind: transport.KindNotFound, Op: "getMessage", Err: errors.New("message to get not found")}
}

func errForbidden() error {
	return &transport.Error{Kind: transport.KindForbidden, Op: "getMessage", Err: errors.New("bot was kicked")}
}

func errTransient() error {
	return &transport.Error{Kind: transport.KindTransient, Op: "getMessage", Err: errors.New("bad gateway")}
}

func (f *fakeGateway) GetMessage(ctx context.Context, roomID int64, messageID int64) (*botapi.Message, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	if messageID > f.maxRequested {
		f.maxRequested = messageID
	}
	hook := f.onGetMessage
	f.mu.Unlock()

	if hook != nil {
		hook(calls)
	}
	if f.getMessage != nil {
		return f.getMessage(roomID, messageID)
	}
	f.mu.Lock()
	msg, ok := f.messages[messageID]
	f.mu.Unlock()
	if !ok {
		return nil, errNotFound()
	}
	return msg, nil
}

func (f *fakeGateway) GetChat(ctx context.Context, roomID int64) (*botapi.Chat, error) {
	return &botapi.Chat{ID: roomID, Type: "supergroup"}, nil
}

func (f *fakeGateway) GetChatAdministrators(ctx context.Context, roomID int64) ([]botapi.ChatMember, error) {
	if f.adminsErr != nil {
		return nil, f.adminsErr
	}
	return f.admins, nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, roomID int64, text string) (*botapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErrTo[roomID]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentMessage{roomID: roomID, text: text})
	return &botapi.Message{MessageID: int64(500 + len(f.sent)), Chat: botapi.Chat{ID: roomID}}, nil
}

func (f *fakeGateway) EditMessageText(ctx context.Context, roomID int64, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeGateway) DeleteMessage(ctx context.Context, roomID int64, messageID int64) error {
	return nil
}

func (f *fakeGateway) SendFile(ctx context.Context, roomID int64, kind string, externalFileID string, caption string) error {
	return nil
}

func (f *fakeGateway) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]botapi.Update, error) {
	return nil, nil
}

func (f *fakeGateway) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func docMessage(messageID int64, fileID string, sentAt int64) *botapi.Message {
	return &botapi.Message{
		MessageID: messageID,
		Date:      sentAt,
		Document:  &botapi.Document{FileID: fileID, FileName: fmt.Sprintf("file_%s.pdf", fileID), FileSize: 128},
	}
}

type backfillFixture struct {
	svc        BackfillService
	gateway    *fakeGateway
	recordRepo catalog.FileRecordRepo
	cursorRepo catalog.IndexCursorRepo
	dbc        dbctx.Context
}

func newBackfillFixture(t *testing.T, gateway *fakeGateway, cfg BackfillConfig) *backfillFixture {
	t.Helper()

	db := testutil.DB(t)
	dbc := testutil.Tx(t, db)
	log := testutil.Logger(t)

	// Repos run over the test transaction so walks never leak rows.
	recordRepo := catalog.NewFileRecordRepo(dbc.Tx, log)
	cursorRepo := catalog.NewIndexCursorRepo(dbc.Tx, log)
	gate := NewDedupGate(log, recordRepo)
	ingest := NewIngestService(dbc.Tx, log, NewExtractor(log), gate, recordRepo)

	svc := NewBackfillService(context.Background(), dbc.Tx, log, gateway, ingest, cursorRepo, cfg)
	return &backfillFixture{
		svc:        svc,
		gateway:    gateway,
		recordRepo: recordRepo,
		cursorRepo: cursorRepo,
		dbc:        dbc,
	}
}

func fastConfig() BackfillConfig {
	return BackfillConfig{
		BatchSize:              10,
		MaxRetries:             2,
		MaxConsecutiveFailures: 5,
		StatusEvery:            1,
		BatchPause:             0,
		RateLimitFallback:      5 * time.Millisecond,
	}
}

func runWalk(t *testing.T, fx *backfillFixture, roomID, anchor int64) WalkStatus {
	t.Helper()
	if _, err := fx.svc.Start(roomID, anchor); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fx.svc.Wait(roomID)
	status, ok := fx.svc.Status(roomID)
	if !ok {
		t.Fatalf("Status: walk disappeared")
	}
	return status
}

func TestBackfillRejectsUselessAnchor(t *testing.T) {
	fx := newBackfillFixture(t, &fakeGateway{}, fastConfig())
	if _, err := fx.svc.Start(1, 1); err == nil {
		t.Fatalf("Start: expected error for anchor 1")
	}
	if _, err := fx.svc.Start(1, 0); err == nil {
		t.Fatalf("Start: expected error for anchor 0")
	}
}

func TestBackfillCompletesOnEmptyHistory(t *testing.T) {
	gateway := &fakeGateway{messages: map[int64]*botapi.Message{}}
	fx := newBackfillFixture(t, gateway, fastConfig())

	status := runWalk(t, fx, 100, 10)
	if status.State != WalkStateCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.State, status.LastError)
	}
	if status.ProcessedCount != 0 || status.FailedLookups != 0 {
		t.Fatalf("expected empty walk, got %+v", status)
	}
	if got := gateway.lastEdit(); got != "Indexing finished: 0 files indexed." {
		t.Fatalf("final status edit: got %q", got)
	}
}

func TestBackfillIndexesHistory(t *testing.T) {
	messages := map[int64]*botapi.Message{}
	for id := int64(1); id <= 5; id++ {
		messages[id] = docMessage(id, fmt.Sprintf("walk-a-%d", id), 1700000000+id)
	}
	gateway := &fakeGateway{messages: messages}
	fx := newBackfillFixture(t, gateway, fastConfig())

	roomID := int64(101)
	status := runWalk(t, fx, roomID, 6)
	if status.State != WalkStateCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.State, status.LastError)
	}
	if status.ProcessedCount != 5 {
		t.Fatalf("expected 5 indexed, got %d", status.ProcessedCount)
	}

	count, err := fx.recordRepo.CountByRoom(fx.dbc, roomID)
	if err != nil {
		t.Fatalf("CountByRoom: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 stored records, got %d", count)
	}
	for id := int64(1); id <= 5; id++ {
		record, err := fx.recordRepo.GetByExternalFileID(fx.dbc, fmt.Sprintf("walk-a-%d", id))
		if err != nil || record == nil {
			t.Fatalf("record for message %d: err=%v record=%+v", id, err, record)
		}
		if record.Provenance != types.ProvenanceBackfilled {
			t.Fatalf("record for message %d: expected backfilled provenance, got %s", id, record.Provenance)
		}
	}

	saved, found, err := fx.cursorRepo.Load(fx.dbc, roomID)
	if err != nil || !found {
		t.Fatalf("cursor: err=%v found=%v", err, found)
	}
	if saved != 1 {
		t.Fatalf("cursor: expected 1, got %d", saved)
	}
	if got := gateway.lastEdit(); got != "Indexing finished: 5 files indexed." {
		t.Fatalf("final status edit: got %q", got)
	}
}

func TestBackfillResumesFromCursor(t *testing.T) {
	gateway := &fakeGateway{
		messages: map[int64]*botapi.Message{
			99: docMessage(99, "already-walked", 1700000099),
		},
	}
	fx := newBackfillFixture(t, gateway, fastConfig())

	roomID := int64(102)
	if err := fx.cursorRepo.Save(fx.dbc, roomID, 4); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	status := runWalk(t, fx, roomID, 100)
	if status.State != WalkStateCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.State, status.LastError)
	}

	// The walk resumed below the persisted cursor: message 99 was never
	// fetched again.
	gateway.mu.Lock()
	maxRequested := gateway.maxRequested
	gateway.mu.Unlock()
	if maxRequested > 3 {
		t.Fatalf("expected lookups at most id 3, observed %d", maxRequested)
	}
	if record, err := fx.recordRepo.GetByExternalFileID(fx.dbc, "already-walked"); err != nil || record != nil {
		t.Fatalf("expected no record above the cursor, got err=%v record=%+v", err, record)
	}
}

func TestBackfillAbortsOnForbidden(t *testing.T) {
	gateway := &fakeGateway{
		getMessage: func(roomID, messageID int64) (*botapi.Message, error) {
			return nil, errForbidden()
		},
	}
	fx := newBackfillFixture(t, gateway, fastConfig())

	status := runWalk(t, fx, 103, 10)
	if status.State != WalkStateAborted {
		t.Fatalf("expected aborted, got %s", status.State)
	}
	if status.LastError == "" {
		t.Fatalf("expected operator guidance in last error")
	}
}

func TestBackfillAbortsAfterConsecutiveFailures(t *testing.T) {
	gateway := &fakeGateway{
		getMessage: func(roomID, messageID int64) (*botapi.Message, error) {
			return nil, errTransient()
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 5
	cfg.MaxRetries = 0
	cfg.MaxConsecutiveFailures = 5
	fx := newBackfillFixture(t, gateway, cfg)

	status := runWalk(t, fx, 104, 11)
	if status.State != WalkStateAborted {
		t.Fatalf("expected aborted, got %s", status.State)
	}
	if status.FailedLookups < 5 {
		t.Fatalf("expected at least 5 failed lookups, got %d", status.FailedLookups)
	}
}

func TestBackfillCancelStopsAtBatchBoundary(t *testing.T) {
	messages := map[int64]*botapi.Message{}
	for id := int64(1); id <= 9; id++ {
		messages[id] = docMessage(id, fmt.Sprintf("walk-c-%d", id), 1700000000+id)
	}
	gateway := &fakeGateway{messages: messages}
	cfg := fastConfig()
	cfg.BatchSize = 2

	fx := newBackfillFixture(t, gateway, cfg)
	roomID := int64(105)

	// Cancel mid-first-batch; the batch in flight still completes, the next
	// one never starts.
	gateway.onGetMessage = func(calls int64) {
		if calls == 1 {
			if err := fx.svc.Cancel(roomID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		}
	}

	status := runWalk(t, fx, roomID, 10)
	if status.State != WalkStateCancelled {
		t.Fatalf("expected cancelled, got %s", status.State)
	}
	if status.ProcessedCount != 2 {
		t.Fatalf("expected the in-flight batch to finish (2 indexed), got %d", status.ProcessedCount)
	}

	saved, found, err := fx.cursorRepo.Load(fx.dbc, roomID)
	if err != nil || !found {
		t.Fatalf("cursor: err=%v found=%v", err, found)
	}
	if saved != 8 {
		t.Fatalf("cursor: expected 8 after one batch of 2, got %d", saved)
	}
}

func TestBackfillRetriesRateLimitAndTransient(t *testing.T) {
	var rateLimited, failedOnce bool
	var mu sync.Mutex
	messages := map[int64]*botapi.Message{
		9: docMessage(9, "walk-r-9", 1700000009),
		8: docMessage(8, "walk-r-8", 1700000008),
	}
	gateway := &fakeGateway{}
	gateway.getMessage = func(roomID, messageID int64) (*botapi.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		switch messageID {
		case 9:
			if !rateLimited {
				rateLimited = true
				return nil, &transport.Error{
					Kind:       transport.KindRateLimited,
					Op:         "getMessage",
					RetryAfter: 5 * time.Millisecond,
					Err:        errors.New("too many requests"),
				}
			}
		case 8:
			if !failedOnce {
				failedOnce = true
				return nil, errTransient()
			}
		}
		if msg, ok := messages[messageID]; ok {
			return msg, nil
		}
		return nil, errNotFound()
	}

	cfg := fastConfig()
	cfg.BatchSize = 1
	fx := newBackfillFixture(t, gateway, cfg)

	status := runWalk(t, fx, 106, 10)
	if status.State != WalkStateCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.State, status.LastError)
	}
	if status.ProcessedCount != 2 {
		t.Fatalf("expected both lookups to recover, got %d indexed", status.ProcessedCount)
	}
	if status.FailedLookups != 0 {
		t.Fatalf("recovered lookups must not count as failures, got %d", status.FailedLookups)
	}
}

func TestBackfillStopsAtMessageBudget(t *testing.T) {
	messages := map[int64]*botapi.Message{}
	for id := int64(90); id <= 99; id++ {
		messages[id] = docMessage(id, fmt.Sprintf("walk-b-%d", id), 1700000000+id)
	}
	gateway := &fakeGateway{messages: messages}
	cfg := fastConfig()
	cfg.BatchSize = 2
	cfg.MaxMessages = 4
	fx := newBackfillFixture(t, gateway, cfg)

	status := runWalk(t, fx, 107, 100)
	if status.State != WalkStateCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.State, status.LastError)
	}
	if status.ScannedCount != 4 {
		t.Fatalf("expected 4 scanned, got %d", status.ScannedCount)
	}
	if status.ProcessedCount != 4 {
		t.Fatalf("expected 4 indexed, got %d", status.ProcessedCount)
	}
	if status.Frontier != 96 {
		t.Fatalf("expected frontier 96, got %d", status.Frontier)
	}
}

func TestBackfillSingleWalkPerRoom(t *testing.T) {
	release := make(chan struct{})
	gateway := &fakeGateway{
		getMessage: func(roomID, messageID int64) (*botapi.Message, error) {
			<-release
			return nil, errNotFound()
		},
	}
	cfg := fastConfig()
	cfg.BatchSize = 1
	fx := newBackfillFixture(t, gateway, cfg)

	roomID := int64(108)
	if _, err := fx.svc.Start(roomID, 50); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := fx.svc.Start(roomID, 50); err == nil {
		t.Fatalf("Start: expected second start to be rejected while running")
	}
	close(release)
	fx.svc.Wait(roomID)

	// A finished walk can be started again.
	if _, err := fx.svc.Start(roomID, 50); err != nil {
		t.Fatalf("Start (restart): %v", err)
	}
	fx.svc.Wait(roomID)
}

var _ transport.Client = (*fakeGateway)(nil)
