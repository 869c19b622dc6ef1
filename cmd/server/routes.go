package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices, cfg *config.Config) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// Credential endpoints are the usual brute-force target
	authLimiter := middleware.NewRateLimiter(cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst, middleware.ByClientIP)
	// Invites, joins and access requests mail or notify other users
	membershipLimit := middleware.NewRateLimiter(cfg.RateLimit.MembershipRPS, cfg.RateLimit.MembershipBurst, middleware.ByUser)
	svc.limiters = append(svc.limiters, authLimiter, membershipLimit)
	limited := membershipLimit.Middleware()

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	api := r.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.POST("/forgot-password", svc.authHandler.ForgotPassword)
			auth.POST("/reset-password", svc.authHandler.ResetPassword)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
		}

		// Token may arrive as a query parameter, so the stream authenticates itself
		api.GET("/notifications/stream", svc.sseHandler.StreamNotifications)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog(svc.activity))
		{
			// Auth
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Permission catalog
			protected.GET("/permissions", svc.roleHandler.Catalog)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.PUT("/projects/:id/free-mode", svc.projectHandler.ToggleFreeMode)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)
			protected.POST("/projects/:id/join", limited, svc.projectHandler.Join)
			protected.GET("/projects/:id/dashboard", svc.dashboardHandler.GetProjectStats)

			// Members
			protected.GET("/projects/:id/members", svc.memberHandler.List)
			protected.POST("/projects/:id/members", svc.memberHandler.Add)
			protected.PUT("/projects/:id/members/roles", svc.memberHandler.UpdateRoles)
			protected.DELETE("/projects/:id/members/:user_id", svc.memberHandler.Remove)
			protected.POST("/projects/:id/leave", svc.memberHandler.Leave)

			// Project roles
			protected.GET("/projects/:id/permissions/me", svc.roleHandler.MyPermissions)
			protected.GET("/projects/:id/roles", svc.roleHandler.List)
			protected.POST("/projects/:id/roles", svc.roleHandler.Create)
			protected.PUT("/projects/:id/roles/:role_id/permissions", svc.roleHandler.UpdatePermissions)
			protected.DELETE("/projects/:id/roles/:role_id", svc.roleHandler.Delete)

			// Invites
			protected.GET("/projects/:id/invites", svc.inviteHandler.ListProject)
			protected.POST("/projects/:id/invites", limited, svc.inviteHandler.Create)
			protected.GET("/projects/:id/invite-link", svc.inviteHandler.GetLink)
			protected.POST("/projects/:id/invite-link/regenerate", svc.inviteHandler.RegenerateLink)
			protected.GET("/invites", svc.inviteHandler.ListMine)
			protected.POST("/invites/join", limited, svc.inviteHandler.Join)
			protected.POST("/invites/:invite_id/accept", svc.inviteHandler.Accept)
			protected.POST("/invites/:invite_id/reject", svc.inviteHandler.Reject)
			protected.DELETE("/invites/:invite_id", svc.inviteHandler.Cancel)

			// Access requests
			protected.GET("/projects/:id/access-requests", svc.accessRequestHandler.ListPending)
			protected.POST("/projects/:id/access-requests", limited, svc.accessRequestHandler.Create)
			protected.GET("/access-requests", svc.accessRequestHandler.ListMine)
			protected.POST("/access-requests/:request_id/approve", svc.accessRequestHandler.Approve)
			protected.POST("/access-requests/:request_id/reject", svc.accessRequestHandler.Reject)
			protected.DELETE("/access-requests/:request_id", svc.accessRequestHandler.Cancel)

			// Columns
			protected.GET("/projects/:id/columns", svc.columnHandler.List)
			protected.POST("/projects/:id/columns", svc.columnHandler.Create)
			protected.PUT("/projects/:id/columns/order", svc.columnHandler.Reorder)
			protected.PUT("/projects/:id/columns/:column_id", svc.columnHandler.Rename)
			protected.DELETE("/projects/:id/columns/:column_id", svc.columnHandler.Delete)

			// Tasks
			protected.GET("/projects/:id/tasks", svc.taskHandler.List)
			protected.POST("/projects/:id/tasks", svc.taskHandler.Create)
			protected.GET("/projects/:id/tasks/:task_id", svc.taskHandler.GetByID)
			protected.PUT("/projects/:id/tasks/:task_id", svc.taskHandler.Update)
			protected.PUT("/projects/:id/tasks/:task_id/move", svc.taskHandler.Move)
			protected.POST("/projects/:id/tasks/:task_id/assignees", svc.taskHandler.Assign)
			protected.DELETE("/projects/:id/tasks/:task_id/assignees/:user_id", svc.taskHandler.Unassign)
			protected.DELETE("/projects/:id/tasks/:task_id", svc.taskHandler.Delete)

			// Activity
			protected.GET("/projects/:id/activity", svc.activityHandler.List)

			// Notifications
			protected.GET("/notifications", svc.notificationHandler.List)
			protected.PUT("/notifications/read-all", svc.notificationHandler.MarkAllRead)
			protected.PUT("/notifications/:notification_id/read", svc.notificationHandler.MarkRead)
			protected.DELETE("/notifications/:notification_id", svc.notificationHandler.Delete)

			// Search
			protected.GET("/search", svc.searchHandler.Search)
		}

		// Site administration
		admin := api.Group("")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired(), middleware.AuditLog(nil))
		{
			admin.GET("/users", svc.userHandler.List)
			admin.PUT("/users/:id", svc.userHandler.Update)
			admin.DELETE("/users/:id", svc.userHandler.Delete)
			admin.POST("/search/resync", svc.searchHandler.Resync)
			admin.GET("/dashboard/stats", svc.dashboardHandler.GetSiteStats)
		}
	}
}
