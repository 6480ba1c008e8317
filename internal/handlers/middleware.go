package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userCtx      = "userId"
	bearerPrefix = "Bearer "
)

// userIdMiddleware rejects requests without a valid bearer token and stores
// the operator id for the run handlers.
func (h *Handler) userIdMiddleware(c *gin.Context) {
	token, msg := bearerToken(c.GetHeader("Authorization"))
	if msg != "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}

	userID, err := h.services.Authorization.ParseToken(token)
	if err != nil {
		if h.log != nil {
			h.log.Debugw("auth_token_rejected", "err", err, "path", c.FullPath())
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(userCtx, userID)
	c.Next()
}

func bearerToken(header string) (token, errMsg string) {
	if header == "" {
		return "", "missing Authorization header"
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", "invalid Authorization header format"
	}
	token = strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", "invalid Authorization header format"
	}
	return token, ""
}

// operatorID is the id set by userIdMiddleware, 0 outside protected routes.
func operatorID(c *gin.Context) int {
	return c.GetInt(userCtx)
}
