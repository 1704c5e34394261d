package app

import (
	"gorm.io/gorm"

	"github.com/chatdex/chatdex-backend/internal/data/repos/catalog"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
)

type Repos struct {
	FileRecord  catalog.FileRecordRepo
	IndexCursor catalog.IndexCursorRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		FileRecord:  catalog.NewFileRecordRepo(db, log),
		IndexCursor: catalog.NewIndexCursorRepo(db, log),
	}
}
