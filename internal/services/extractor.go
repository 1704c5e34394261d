package services

import (
	"github.com/google/uuid"

	"github.com/chatdex/chatdex-backend/internal/platform/botapi"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/types"
)

// Extractor maps a raw message to a catalog record candidate. A message with
// no recognized attachment yields (nil, false); that is a skip, not an error.
type Extractor interface {
	Extract(msg *botapi.Message, roomID int64) (*types.FileRecord, bool)
}

type extractor struct {
	log *logger.Logger
}

func NewExtractor(baseLog *logger.Logger) Extractor {
	return &extractor{log: baseLog.With("service", "Extractor")}
}

// attachment is the normalized payload of one message variant.
type attachment struct {
	kind           types.FileKind
	name           string
	externalFileID string
	sizeBytes      int64
}

// extractionRules examines payload variants in fixed priority order; the first
// kind present wins. One rule per kind, never duplicated at call sites.
var extractionRules = []func(*botapi.Message) (attachment, bool){
	extractDocument,
	extractVideo,
	extractAudio,
	extractPhoto,
}

func extractDocument(msg *botapi.Message) (attachment, bool) {
	if msg.Document == nil {
		return attachment{}, false
	}
	return attachment{
		kind:           types.FileKindDocument,
		name:           msg.Document.FileName,
		externalFileID: msg.Document.FileID,
		sizeBytes:      msg.Document.FileSize,
	}, true
}

func extractVideo(msg *botapi.Message) (attachment, bool) {
	if msg.Video == nil {
		return attachment{}, false
	}
	return attachment{
		kind:           types.FileKindVideo,
		name:           msg.Video.FileName,
		externalFileID: msg.Video.FileID,
		sizeBytes:      msg.Video.FileSize,
	}, true
}

func extractAudio(msg *botapi.Message) (attachment, bool) {
	if msg.Audio == nil {
		return attachment{}, false
	}
	return attachment{
		kind:           types.FileKindAudio,
		name:           msg.Audio.FileName,
		externalFileID: msg.Audio.FileID,
		sizeBytes:      msg.Audio.FileSize,
	}, true
}

// extractPhoto always synthesizes the name and always uses the last variant of
// the ascending-resolution list, the highest resolution the transport offers.
func extractPhoto(msg *botapi.Message) (attachment, bool) {
	if len(msg.Photo) == 0 {
		return attachment{}, false
	}
	best := msg.Photo[len(msg.Photo)-1]
	return attachment{
		kind:           types.FileKindPhoto,
		externalFileID: best.FileID,
		sizeBytes:      best.FileSize,
	}, true
}

func (e *extractor) Extract(msg *botapi.Message, roomID int64) (*types.FileRecord, bool) {
	if msg == nil {
		return nil, false
	}

	var att attachment
	found := false
	for _, rule := range extractionRules {
		if a, ok := rule(msg); ok {
			att = a
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	name := att.name
	if name == "" {
		name = types.SynthesizeName(att.kind, att.externalFileID)
	}

	return &types.FileRecord{
		ID:              uuid.New(),
		RoomID:          roomID,
		FileKind:        att.kind,
		DisplayName:     name,
		ExternalFileID:  att.externalFileID,
		SizeBytes:       att.sizeBytes,
		OriginMessageID: msg.MessageID,
		CapturedAt:      msg.SentAt(),
	}, true
}
