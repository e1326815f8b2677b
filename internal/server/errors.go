package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

var kindStatuses = map[quotes.Kind]int{
	quotes.KindNotFound:             http.StatusNotFound,
	quotes.KindUnauthorized:         http.StatusForbidden,
	quotes.KindPreconditionFailed:   http.StatusConflict,
	quotes.KindExpired:              http.StatusGone,
	quotes.KindRevoked:              http.StatusGone,
	quotes.KindInvalidCredential:    http.StatusUnauthorized,
	quotes.KindConfigurationMissing: http.StatusServiceUnavailable,
	quotes.KindInvalidInput:         http.StatusBadRequest,
	quotes.KindConflict:             http.StatusConflict,
	quotes.KindInternal:             http.StatusInternalServerError,
}

// statusForKind maps a failure kind to its HTTP status.
func statusForKind(kind quotes.Kind) int {
	if status, ok := kindStatuses[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := quotes.KindOf(err)
	status := statusForKind(kind)
	payload := gin.H{"error": string(kind)}
	if code := quotes.CodeOf(err); code != "" {
		payload["code"] = code
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", quotes.CodeOf(err)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, payload)
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": string(quotes.KindInvalidInput), "code": reason})
}

func (h *httpHandler) requireActor(c *gin.Context) (users.Actor, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return users.Actor{}, false
	}
	return actor, true
}
