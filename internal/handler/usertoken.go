package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/middleware"
	"channel-emulator/internal/token"
)

// UserTokenHandler emulates the OAuth user-token service: token issue on
// simulated sign-in, lookup, and sign-out. The agent identity is the
// authenticated endpoint.
type UserTokenHandler struct {
	Tokens *token.Cache
}

func (h *UserTokenHandler) GetToken(c *gin.Context) {
	ep, ok := middleware.EndpointFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("AuthenticationFailed", "Invalid authentication token"))
		return
	}

	userID := c.Query("userId")
	connectionName := c.Query("connectionName")
	if userID == "" || connectionName == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "userId and connectionName are required"))
		return
	}

	entry, ok := h.Tokens.Get(ep.ID, userID, connectionName)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("TokenNotFound", "No token for user and connection"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": entry.Token, "connectionName": entry.ConnectionName})
}

type issueTokenBody struct {
	UserID         string `json:"userId"`
	ConnectionName string `json:"connectionName"`
}

// IssueToken completes a simulated OAuth sign-in by minting a token for
// the (endpoint, user, connection) triple. A second issue for the same
// triple replaces the first.
func (h *UserTokenHandler) IssueToken(c *gin.Context) {
	ep, ok := middleware.EndpointFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("AuthenticationFailed", "Invalid authentication token"))
		return
	}

	var body issueTokenBody
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" || body.ConnectionName == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "userId and connectionName are required"))
		return
	}

	tok, err := h.Tokens.Issue(ep.ID, body.UserID, body.ConnectionName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("ServiceError", "Failed to issue token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tok, "connectionName": body.ConnectionName})
}

// SignOut removes the token for the triple. Removing an absent token is
// a success.
func (h *UserTokenHandler) SignOut(c *gin.Context) {
	ep, ok := middleware.EndpointFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("AuthenticationFailed", "Invalid authentication token"))
		return
	}

	userID := c.Query("userId")
	connectionName := c.Query("connectionName")
	if userID == "" || connectionName == "" {
		c.JSON(http.StatusBadRequest, errorBody("BadArgument", "userId and connectionName are required"))
		return
	}

	h.Tokens.SignOut(ep.ID, userID, connectionName)
	c.JSON(http.StatusOK, gin.H{})
}
