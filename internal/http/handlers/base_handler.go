// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"orderflow/internal/modules/order"
)

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Message: msg})
}

func writeOrderError(c *gin.Context, err error) {
	var verr *order.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, verr.Message)
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
	case errors.Is(err, order.ErrInvalidState):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrServiceUnavailable):
		// Geofence rejections land here too; see order.Service.Create.
		writeError(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
