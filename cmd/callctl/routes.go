package main

import (
	"callplane/internal/auth"
	"callplane/internal/httpapi"
	"callplane/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, devLogin bool) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if devLogin {
		r.POST("/v1/auth/login", h.Login)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireUser())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "name": auth.DisplayName(c.Request.Context()), "role": role})
		})

		// CALL routes: anyone signed in may watch; owners and members drive.
		call := v1.Group("/call")
		call.GET("", h.GetCall)
		call.GET("/events", h.CallEvents)

		control := call.Group("")
		control.Use(rbac.RequireCallControl())
		{
			control.POST("/create", h.CreateCall)
			control.POST("/join", h.JoinCall)
			control.POST("/end", h.EndCall)
			control.POST("/dismiss", h.DismissCall)
			control.POST("/mute", h.ToggleMute)
			control.POST("/camera", h.ToggleCamera)
			control.POST("/speaker", h.ToggleSpeaker)
		}

		// SUGGESTION routes
		v1.GET("/rooms/:room_id/suggestions", h.GetSuggestions)
		decide := v1.Group("")
		decide.Use(rbac.RequireCallControl())
		{
			decide.POST("/rooms/:room_id/suggestions/accept-all", h.AcceptAllSuggestions)
			decide.POST("/suggestions/:id/accept", h.AcceptSuggestion)
			decide.POST("/suggestions/:id/reject", h.RejectSuggestion)
		}
	}
}
