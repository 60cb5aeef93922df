package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type kickRequest struct {
	UserID int64 `json:"userId"`
}

type kickResponse struct {
	Kicked int `json:"kicked"`
}

func (a *API) KickRequest(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("roomid"), 10, 64)
	if err != nil || roomID <= 0 {
		writeError(c, http.StatusBadRequest, "invalid_input", "room id must be a positive integer")
		return
	}
	var req kickRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID <= 0 {
		writeError(c, http.StatusBadRequest, "invalid_input", "userId is required")
		return
	}
	n := a.chat.Kick(c.Request.Context(), roomID, req.UserID)
	if n == 0 {
		writeError(c, http.StatusNotFound, "not_found", "user has no session in room")
		return
	}
	c.JSON(http.StatusOK, kickResponse{Kicked: n})
}

func (a *API) ChatSocket(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := a.chat.Serve(c.Writer, c.Request, principal); err != nil {
		// the upgrader has already written the HTTP error
		a.logger.Warn("chat upgrade failed", zap.Error(err))
	}
}
