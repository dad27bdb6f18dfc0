// Package middleware provides the HTTP middleware chain the gateway applies
// in front of the WebSocket upgrade and the health/metrics endpoints.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AllowedHTTPMethods restricts requests to the methods this gateway actually
// serves, rejecting everything else (TRACE, CONNECT, and other uncommon
// methods that have no legitimate use against this API) with 405.
func AllowedHTTPMethods() gin.HandlerFunc {
	allowedMethods := map[string]bool{
		http.MethodGet:     true,
		http.MethodPost:    true,
		http.MethodPut:     true,
		http.MethodPatch:   true,
		http.MethodDelete:  true,
		http.MethodOptions: true,
		http.MethodHead:    true,
	}

	return func(c *gin.Context) {
		method := c.Request.Method
		if !allowedMethods[method] {
			c.Header("Allow", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
			c.JSON(http.StatusMethodNotAllowed, gin.H{
				"error":   "method not allowed",
				"message": "the HTTP method " + method + " is not allowed for this resource",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
