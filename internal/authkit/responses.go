package authkit

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorEnvelope is the body of every failed response.
type ErrorEnvelope struct {
	Message      string `json:"message"`
	DebugMessage string `json:"debug_message"`
	Timestamp    string `json:"timestamp"`
}

// SuccessEnvelope is the body of every successful response.
type SuccessEnvelope struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DebugMessage string `json:"debug_message"`
	Data         any    `json:"data"`
	Timestamp    string `json:"timestamp"`
}

func responseTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(contextGin *gin.Context, status int, message string, data any) {
	contextGin.JSON(status, SuccessEnvelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: responseTimestamp(),
	})
}

// WriteError maps err onto its status and aborts the chain. Internal errors
// are logged and reduced to a generic message.
func WriteError(contextGin *gin.Context, logger *zap.Logger, err error) {
	var authError *AuthError
	if !errors.As(err, &authError) {
		authError = internalError(err)
	}
	if authError.Kind == KindInternal {
		if logger != nil {
			logger.Error("request failed",
				zap.String("code", "http.internal_error"),
				zap.String("method", contextGin.Request.Method),
				zap.String("path", contextGin.FullPath()),
				zap.Error(err),
			)
		}
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, ErrorEnvelope{
			Message:   "Internal Server Error",
			Timestamp: responseTimestamp(),
		})
		return
	}
	contextGin.AbortWithStatusJSON(authError.Kind.HTTPStatus(), ErrorEnvelope{
		Message:      authError.Message,
		DebugMessage: authError.Debug,
		Timestamp:    responseTimestamp(),
	})
}

// RecoveryHandler turns panics into the generic 500 envelope.
func RecoveryHandler(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return gin.CustomRecovery(func(contextGin *gin.Context, recovered any) {
		logger.Error("panic recovered",
			zap.String("code", "http.panic"),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Any("panic", recovered),
		)
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, ErrorEnvelope{
			Message:   "Internal Server Error",
			Timestamp: responseTimestamp(),
		})
	})
}
