package catalog

import (
	"testing"

	"github.com/chatdex/chatdex-backend/internal/data/repos/testutil"
)

func TestIndexCursorRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Tx(t, db)

	repo := NewIndexCursorRepo(db, testutil.Logger(t))
	roomID := int64(8001)

	if _, found, err := repo.Load(dbc, roomID); err != nil || found {
		t.Fatalf("Load (empty): err=%v found=%v", err, found)
	}

	if err := repo.Save(dbc, roomID, 950); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, found, err := repo.Load(dbc, roomID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found || saved != 950 {
		t.Fatalf("Load: expected 950, got found=%v saved=%d", found, saved)
	}

	// Each save replaces the room's single cursor row.
	if err := repo.Save(dbc, roomID, 900); err != nil {
		t.Fatalf("Save (advance): %v", err)
	}
	saved, found, err = repo.Load(dbc, roomID)
	if err != nil {
		t.Fatalf("Load (advance): %v", err)
	}
	if !found || saved != 900 {
		t.Fatalf("Load (advance): expected 900, got found=%v saved=%d", found, saved)
	}

	// Cursors are per room.
	if err := repo.Save(dbc, roomID+1, 50); err != nil {
		t.Fatalf("Save (other room): %v", err)
	}
	saved, found, err = repo.Load(dbc, roomID)
	if err != nil || !found || saved != 900 {
		t.Fatalf("Load (isolation): err=%v found=%v saved=%d", err, found, saved)
	}
}
