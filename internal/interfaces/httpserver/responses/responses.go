package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleError aborts the request with the given status and message. The
// underlying error goes to the log, never to the client.
func HandleError(reqCtx *gin.Context, status int, message string) {
	reqCtx.AbortWithStatusJSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
