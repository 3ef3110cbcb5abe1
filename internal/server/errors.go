package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/entitynet/internal/core/apperr"
)

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the classified error. Internal failures do not leak
// their message to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		if apperr.IsUnavailable(err) {
			msg = "store unavailable, retry later"
		}
	}
	c.JSON(status, gin.H{
		"status":  status,
		"code":    string(apperr.KindOf(err)),
		"message": msg,
	})
}

func respondMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": status, "message": msg})
}
