package middleware

import (
	"github.com/gin-gonic/gin"
	"peer_chat/pkg/errors"
	"peer_chat/pkg/logger"
)

// ErrorHandler renders the last error attached with c.Error when the handler
// has not written a response itself. The error's meta, if a string, names the
// failed operation in the log.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		statusCode := errors.HTTPStatusFromError(err.Err)
		if statusCode >= 500 {
			operation, _ := err.Meta.(string)
			if operation == "" {
				operation = "Request failed"
			}
			log.Error(operation, "error", err.Err, "path", c.FullPath())
		}

		c.JSON(statusCode, gin.H{
			"error": err.Error(),
		})
	}
}
