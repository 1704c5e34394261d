package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatdex/chatdex-backend/internal/http/response"
	"github.com/chatdex/chatdex-backend/internal/platform/dbctx"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/services"
)

type CatalogHandler struct {
	log   *logger.Logger
	query services.QueryService
}

func NewCatalogHandler(baseLog *logger.Logger, query services.QueryService) *CatalogHandler {
	return &CatalogHandler{
		log:   baseLog.With("handler", "CatalogHandler"),
		query: query,
	}
}

func (h *CatalogHandler) Search(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	queryText := c.Query("q")
	if queryText == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_query", fmt.Errorf("query parameter q is required"))
		return
	}

	records, err := h.query.Query(dbctx.Context{Ctx: c.Request.Context()}, roomID, queryText)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"miss": services.Miss{RoomID: roomID, Query: queryText},
		})
		return
	}
	response.RespondOK(c, gin.H{"files": records})
}

func (h *CatalogHandler) Stats(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	count, err := h.query.Count(dbctx.Context{Ctx: c.Request.Context()}, roomID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"room_id": roomID, "file_count": count})
}
