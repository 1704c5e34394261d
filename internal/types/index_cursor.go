package types

import "time"

// IndexCursor is the persisted frontier of a room's backfill walk. A restarted
// walk resumes just below LastProcessedMessageID instead of its original anchor.
type IndexCursor struct {
	RoomID                 int64     `gorm:"column:room_id;primaryKey" json:"room_id"`
	LastProcessedMessageID int64     `gorm:"column:last_processed_message_id;not null" json:"last_processed_message_id"`
	UpdatedAt              time.Time `gorm:"not null" json:"updated_at"`
}

func (IndexCursor) TableName() string { return "index_cursor" }
