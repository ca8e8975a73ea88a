package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Err writes err as a JSON error response, picking the status from the
// typed error when available.
func Err(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var e *Error
	if As(err, &e) {
		c.AbortWithStatusJSON(e.HTTPStatus(), gin.H{"errMsg": e.Message})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"errMsg": err.Error()})
}

// RecoveryMiddleware converts panics into 500 responses instead of dropping
// the connection.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("handler panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"errMsg": "internal server error"})
			}
		}()
		c.Next()
	}
}

// ErrorHandlerMiddleware flushes errors attached via c.Error after the
// handler chain completes.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Err(c, c.Errors.Last().Err)
	}
}
