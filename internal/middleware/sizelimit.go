package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxRequestBodySize is the default maximum allowed request body size. A
// frame this small never needs a body this large; it exists to reject an
// oversized POST before it reaches the JSON decoder.
const MaxRequestBodySize int64 = 10 * 1024 * 1024 // 10 MB

// RequestSizeLimiter rejects requests whose Content-Length exceeds maxSize,
// and wraps the body in a MaxBytesReader so a lying Content-Length can't be
// used to smuggle a larger payload past the check.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":       "request entity too large",
				"message":     "request body exceeds maximum allowed size",
				"max_size_mb": float64(maxSize) / (1024 * 1024),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
