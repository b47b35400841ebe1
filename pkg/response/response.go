// Package response writes the literal JSON shapes the external
// interfaces require, with no enclosing envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the shape every error response uses: {"error": "..."}.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes body as the response with the given status code.
func JSON(c *gin.Context, status int, body interface{}) {
	c.JSON(status, body)
}

// Error writes {"error": msg} with the given status code.
func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorBody{Error: msg})
}

// BadRequest writes a 400 with {"error": msg}.
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// ServiceUnavailable writes a 503 with {"error": msg}.
func ServiceUnavailable(c *gin.Context, msg string) {
	Error(c, http.StatusServiceUnavailable, msg)
}
