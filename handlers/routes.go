package handlers

import (
	"github.com/gin-gonic/gin"

	"coreapi/middleware"
)

// Register wires every route onto the router. The auth middleware guards
// everything except its own whitelist; engine callbacks live under
// /internal and authenticate with one-time keys instead.
func Register(
	router *gin.Engine,
	authHandler *AuthHandler,
	chatHandler *ChatHandler,
	validator middleware.TokenValidator,
	verifier middleware.HandshakeVerifier,
) {
	authed := router.Group("/")
	authed.Use(middleware.AuthMiddleware(validator))

	authed.POST("/auth/sign-up", authHandler.SignUp)
	authed.POST("/auth/sign-in", authHandler.SignIn)
	authed.POST("/auth/refresh", authHandler.Refresh)
	authed.POST("/auth/sign-out", authHandler.SignOut)

	authed.POST("/chats", chatHandler.CreateChat)
	authed.GET("/chats", chatHandler.ListChats)
	authed.GET("/chats/:chatId", chatHandler.GetChat)
	authed.DELETE("/chats/:chatId", chatHandler.DeleteChat)
	authed.PATCH("/chats/:chatId/archive", chatHandler.SetArchived)
	authed.POST("/chats/:chatId/message", chatHandler.StreamMessage)

	internal := router.Group("/internal")
	internal.Use(middleware.EngineAuthMiddleware(verifier))
	internal.GET("/chats/:chatId/messages", chatHandler.EngineMessages)
}
