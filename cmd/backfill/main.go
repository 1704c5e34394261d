package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chatdex/chatdex-backend/internal/app"
	"github.com/chatdex/chatdex-backend/internal/services"
)

// Operator entry point: start a backfill walk for one room and follow it to a
// terminal state. POLLER_ENABLED=0 is implied so the walk owns the process.
func main() {
	var roomID int64
	var anchor int64
	var follow bool
	flag.Int64Var(&roomID, "room", 0, "room id to walk")
	flag.Int64Var(&anchor, "anchor", 0, "message id to walk downward from")
	flag.BoolVar(&follow, "follow", true, "print progress until the walk finishes")
	flag.Parse()

	if roomID == 0 || anchor <= 0 {
		fmt.Println("usage: backfill -room <room_id> -anchor <message_id>")
		os.Exit(2)
	}

	_ = os.Setenv("POLLER_ENABLED", "0")

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	status, err := application.Services.Backfill.Start(roomID, anchor)
	if err != nil {
		fmt.Printf("start backfill: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("walk started: room=%d anchor=%d frontier=%d\n", status.RoomID, status.Anchor, status.Frontier)

	if !follow {
		return
	}

	done := make(chan struct{})
	go func() {
		application.Services.Backfill.Wait(roomID)
		close(done)
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if snap, ok := application.Services.Backfill.Status(roomID); ok {
				fmt.Printf("state=%s frontier=%d scanned=%d indexed=%d failed=%d\n",
					snap.State, snap.Frontier, snap.ScannedCount, snap.ProcessedCount, snap.FailedLookups)
			}
		case <-done:
			snap, _ := application.Services.Backfill.Status(roomID)
			fmt.Printf("done: state=%s scanned=%d indexed=%d failed=%d\n",
				snap.State, snap.ScannedCount, snap.ProcessedCount, snap.FailedLookups)
			if snap.LastError != "" {
				fmt.Printf("last error: %s\n", snap.LastError)
			}
			if snap.State != services.WalkStateCompleted {
				os.Exit(1)
			}
			return
		}
	}
}
