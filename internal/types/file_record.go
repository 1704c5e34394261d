package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileKind is the attachment variant carried by a message. Extraction rules are
// keyed on it; there is exactly one rule per kind.
type FileKind string

const (
	FileKindDocument FileKind = "document"
	FileKindVideo    FileKind = "video"
	FileKindAudio    FileKind = "audio"
	FileKindPhoto    FileKind = "photo"
)

func (k FileKind) Valid() bool {
	switch k {
	case FileKindDocument, FileKindVideo, FileKindAudio, FileKindPhoto:
		return true
	}
	return false
}

// Provenance records whether the observation came from a live post or a
// historical backfill walk. Direct records are authoritative and are never
// overwritten by backfilled ones.
type Provenance string

const (
	ProvenanceDirect     Provenance = "direct"
	ProvenanceBackfilled Provenance = "backfilled"
)

type FileRecord struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID          int64      `gorm:"column:room_id;not null;index" json:"room_id"`
	FileKind        FileKind   `gorm:"column:file_kind;not null" json:"file_kind"`
	DisplayName     string     `gorm:"column:display_name;not null;index" json:"display_name"`
	ExternalFileID  string     `gorm:"column:external_file_id;not null;uniqueIndex" json:"external_file_id"`
	SizeBytes       int64      `gorm:"column:size_bytes" json:"size_bytes"`
	OriginMessageID int64      `gorm:"column:origin_message_id" json:"origin_message_id"`
	CapturedAt      time.Time  `gorm:"column:captured_at;not null" json:"captured_at"`
	Provenance      Provenance `gorm:"column:provenance;not null" json:"provenance"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (FileRecord) TableName() string { return "file_record" }

// SynthesizeName builds the fallback display name used when the source carries
// no file name.
func SynthesizeName(kind FileKind, externalFileID string) string {
	return fmt.Sprintf("%s_%s", kind, externalFileID)
}
