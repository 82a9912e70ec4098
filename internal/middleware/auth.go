package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/endpoint"
)

const (
	endpointContextKey     = "endpoint"
	conversationContextKey = "conversationScope"
)

func EndpointFromContext(c *gin.Context) (endpoint.Endpoint, bool) {
	value, ok := c.Get(endpointContextKey)
	if !ok {
		return endpoint.Endpoint{}, false
	}
	ep, ok := value.(endpoint.Endpoint)
	return ep, ok && ep.ID != ""
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "AuthenticationFailed", "message": "Invalid authentication token"}})
	c.Abort()
}

// RequireEndpoint authenticates bot-originated requests. The bearer token
// must resolve to a registered endpoint, which is attached to the request
// context for handlers.
func RequireEndpoint(cfg auth.TokenConfig, endpoints *endpoint.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c)
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := auth.VerifyToken(tok, cfg)
		if err != nil {
			unauthorized(c)
			return
		}

		ep, ok := endpoints.Get(claims.EndpointID)
		if !ok {
			unauthorized(c)
			return
		}

		c.Set(endpointContextKey, ep)
		c.Next()
	}
}

// RequireConversationToken authenticates DirectLine requests carrying a
// conversation-scoped token. The token's conversation must match the
// route parameter.
func RequireConversationToken(cfg auth.TokenConfig, endpoints *endpoint.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c)
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := auth.VerifyToken(tok, cfg)
		if err != nil {
			unauthorized(c)
			return
		}
		if claims.ConversationID == "" || claims.ConversationID != c.Param("conversationId") {
			unauthorized(c)
			return
		}

		if ep, ok := endpoints.Get(claims.EndpointID); ok {
			c.Set(endpointContextKey, ep)
		}
		c.Set(conversationContextKey, claims.ConversationID)
		c.Next()
	}
}
