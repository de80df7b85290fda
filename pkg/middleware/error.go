package middleware

import (
	"net/http"

	"licensing-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders domain errors collected during the request as JSON, mapping
// the CoreStatus onto the HTTP status code.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
