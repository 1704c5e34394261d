package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatdex/chatdex-backend/internal/http/response"
	"github.com/chatdex/chatdex-backend/internal/services"
)

type BackfillHandler struct {
	backfill services.BackfillService
}

func NewBackfillHandler(backfill services.BackfillService) *BackfillHandler {
	return &BackfillHandler{backfill: backfill}
}

type startBackfillRequest struct {
	Anchor int64 `json:"anchor" binding:"required"`
}

func roomIDParam(c *gin.Context) (int64, error) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid room id %q", c.Param("id"))
	}
	return roomID, nil
}

func (h *BackfillHandler) Start(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	var req startBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	status, err := h.backfill.Start(roomID, req.Anchor)
	if err != nil {
		response.RespondError(c, http.StatusConflict, "backfill_start_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

func (h *BackfillHandler) Status(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	status, found := h.backfill.Status(roomID)
	if !found {
		response.RespondError(c, http.StatusNotFound, "no_walk", fmt.Errorf("no walk for room %d", roomID))
		return
	}
	response.RespondOK(c, status)
}

func (h *BackfillHandler) Cancel(c *gin.Context) {
	roomID, err := roomIDParam(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_room_id", err)
		return
	}

	if err := h.backfill.Cancel(roomID); err != nil {
		response.RespondError(c, http.StatusNotFound, "no_walk", err)
		return
	}
	c.Status(http.StatusNoContent)
}
