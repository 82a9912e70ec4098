package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"channel-emulator/internal/auth"
	"channel-emulator/internal/bots"
	"channel-emulator/internal/config"
	"channel-emulator/internal/endpoint"
	"channel-emulator/internal/handler"
	"channel-emulator/internal/hub"
	"channel-emulator/internal/middleware"
	"channel-emulator/internal/store"
	"channel-emulator/internal/token"
	"channel-emulator/internal/tunnel"
)

type Deps struct {
	Store       *store.Store
	Tokens      *token.Cache
	Endpoints   *endpoint.Registry
	TokenConfig auth.TokenConfig
	Hub         *hub.Hub

	// TunnelState and ServiceURL come from the tunnel manager; both are
	// optional so the router can be built without one in tests.
	TunnelState func() tunnel.State
	ServiceURL  func() string

	// Settings is the live settings stream, optional for the same reason.
	Settings *config.Watcher

	Bots *bots.Manager
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	relay := handler.NewRelay(deps.Hub)
	requireEndpoint := middleware.RequireEndpoint(deps.TokenConfig, deps.Endpoints)
	requireConversation := middleware.RequireConversationToken(deps.TokenConfig, deps.Endpoints)

	// connector surface, called by the backend bot
	conversations := &handler.ConversationsHandler{Store: deps.Store, Relay: relay}
	v3 := r.Group("/v3")
	v3.POST("/conversations", requireEndpoint, conversations.Create)
	v3.POST("/conversations/:conversationId/activities", requireEndpoint, conversations.PostActivity)
	v3.POST("/conversations/:conversationId/activities/:activityId", requireEndpoint, conversations.PostActivity)
	v3.GET("/conversations/:conversationId/activities", requireEndpoint, conversations.GetActivities)

	botState := &handler.BotStateHandler{Store: deps.Store}
	v3.GET("/botstate/:channelId/conversations/:conversationId", requireEndpoint, botState.Get)
	v3.POST("/botstate/:channelId/conversations/:conversationId", requireEndpoint, botState.Set)
	v3.DELETE("/botstate/:channelId/conversations/:conversationId", requireEndpoint, botState.Delete)
	v3.GET("/botstate/:channelId/users/:userId", requireEndpoint, botState.Get)
	v3.POST("/botstate/:channelId/users/:userId", requireEndpoint, botState.Set)
	v3.DELETE("/botstate/:channelId/users/:userId", requireEndpoint, botState.DeleteForUser)
	v3.GET("/botstate/:channelId/conversations/:conversationId/users/:userId", requireEndpoint, botState.Get)
	v3.POST("/botstate/:channelId/conversations/:conversationId/users/:userId", requireEndpoint, botState.Set)
	v3.DELETE("/botstate/:channelId/conversations/:conversationId/users/:userId", requireEndpoint, botState.Delete)

	attachments := &handler.AttachmentsHandler{Store: deps.Store}
	v3.POST("/attachments", requireEndpoint, attachments.Upload)
	v3.GET("/attachments/:attachmentId", requireEndpoint, attachments.Get)
	v3.GET("/attachments/:attachmentId/views/:viewId", requireEndpoint, attachments.GetView)

	// DirectLine surface, called by the simulated user side
	directLine := &handler.DirectLineHandler{
		Store:       deps.Store,
		Relay:       relay,
		TokenConfig: deps.TokenConfig,
		ServiceURL:  deps.ServiceURL,
	}
	dl := r.Group("/v3/directline")
	dl.POST("/conversations", requireEndpoint, directLine.CreateConversation)
	dl.POST("/conversations/:conversationId/activities", requireConversation, directLine.PostActivity)
	dl.GET("/conversations/:conversationId/activities", requireConversation, directLine.GetActivities)

	userToken := &handler.UserTokenHandler{Tokens: deps.Tokens}
	issueLimiter := middleware.NewRateLimiter(30, time.Minute)
	ut := r.Group("/api/usertoken")
	ut.GET("/GetToken", requireEndpoint, userToken.GetToken)
	ut.POST("/IssueToken", requireEndpoint, issueLimiter.Middleware(), userToken.IssueToken)
	ut.DELETE("/SignOut", requireEndpoint, userToken.SignOut)

	// control plane for the UI layer
	control := &handler.ControlHandler{
		Endpoints:   deps.Endpoints,
		Store:       deps.Store,
		TokenConfig: deps.TokenConfig,
		Hub:         deps.Hub,
		TunnelState: deps.TunnelState,
		Settings:    deps.Settings,
	}
	registerLimiter := middleware.NewRateLimiter(10, time.Minute)
	em := r.Group("/emulator/v1")
	em.POST("/endpoints", registerLimiter.Middleware(), control.RegisterEndpoint)
	em.GET("/endpoints", control.ListEndpoints)
	em.DELETE("/conversations/:conversationId", control.EndConversation)
	em.GET("/tunnel", control.Tunnel)
	em.GET("/settings", control.GetSettings)
	em.PUT("/settings", control.UpdateSettings)

	if deps.Bots == nil {
		deps.Bots = bots.NewManager()
	}
	botsHandler := &handler.BotsHandler{Bots: deps.Bots, Endpoints: deps.Endpoints, Hub: deps.Hub}
	em.GET("/bots", botsHandler.Recent)
	em.POST("/bots", botsHandler.Load)
	em.POST("/bots/secret", botsHandler.Secret)

	flows := &handler.AuthflowHandler{Hub: deps.Hub}
	em.POST("/authflow", flows.Start)
	em.GET("/authflow", flows.Status)
	em.POST("/authflow/resolve", flows.Resolve)
	em.POST("/authflow/cancel", flows.Cancel)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub}
	em.GET("/ws", wsHandler.Serve)

	return r
}
