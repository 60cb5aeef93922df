package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ussu1112/back-officener/internal/notify"
)

// RegisterDevice takes the raw device token as the request body.
func (a *API) RegisterDevice(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}
		writeError(c, http.StatusBadRequest, "invalid_input", "could not read body")
		return
	}
	if err := a.devices.Register(c.Request.Context(), principal.UserID, string(body)); err != nil {
		if errors.Is(err, notify.ErrInvalidToken) {
			writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		a.writeDomainError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
