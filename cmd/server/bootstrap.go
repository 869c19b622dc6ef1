package main

import (
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/handlers"
	"github.com/huangang/taskhub/internal/middleware"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/internal/services"
	"github.com/huangang/taskhub/internal/utils"
	"github.com/huangang/taskhub/pkg/logger"
)

const lookupCacheSize = 1024

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.Scheduler
	sharedCache *services.RedisLookupCache
	activity    *services.ActivityLogService
	limiters    []*middleware.RateLimiter

	authHandler          *handlers.AuthHandler
	userHandler          *handlers.UserHandler
	projectHandler       *handlers.ProjectHandler
	memberHandler        *handlers.ProjectMemberHandler
	roleHandler          *handlers.RoleHandler
	inviteHandler        *handlers.InviteHandler
	accessRequestHandler *handlers.AccessRequestHandler
	taskHandler          *handlers.TaskHandler
	columnHandler        *handlers.ColumnHandler
	notificationHandler  *handlers.NotificationHandler
	sseHandler           *handlers.SSEHandler
	dashboardHandler     *handlers.DashboardHandler
	metricsHandler       *handlers.MetricsHandler
	activityHandler      *handlers.ActivityHandler
	searchHandler        *handlers.SearchHandler
	healthHandler        *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	// Default roles and permissions are required; a failed seed leaves projects unusable.
	if err := models.SeedDefaultData(); err != nil {
		logger.Fatalf("Failed to seed default data: %v", err)
	}
	db := models.GetDB()

	svc := &appServices{}

	// Permission and role-name lookups: in-process LRU, backed by Redis when enabled
	cache := services.NewLookupCache(lookupCacheSize, cfg.App.PermissionCacheTTL())
	if cfg.Redis.Enabled {
		shared, err := services.NewRedisLookupCache(&cfg.Redis, cfg.App.PermissionCacheTTL())
		if err != nil {
			logger.Warn().Err(err).Msg("Shared lookup cache unavailable, using in-process cache only")
		} else {
			cache.WithShared(shared)
			svc.sharedCache = shared
		}
	}

	perms := services.NewPermissionService(db, cache)
	hub := services.NewSSEHub()
	notifications := services.NewNotificationService(db).WithHub(hub)
	activity := services.NewActivityLogService(db, perms)
	svc.activity = activity

	// Search index sync goes through the task queue (asynq when Redis is enabled)
	index := services.NewSearchIndex(db)
	svc.taskQueue = services.InitTaskQueue(cfg)
	if syncQueue, ok := svc.taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(index.Apply)
	}
	if svc.taskQueue.IsAsync() {
		svc.worker = services.InitWorker(&cfg.Redis)
		if svc.worker != nil {
			svc.worker.SetProcessor(index.Apply)
			if err := svc.worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start search worker")
			}
		}
	}
	search := services.NewQueuedSearchSync(svc.taskQueue)
	resync := services.NewSearchSyncService(db, index)

	mailer := services.NewEmailService(cfg.SMTP, cfg.App.BaseURL)
	ldapService := services.NewLDAPService(&cfg.LDAP)

	projects := services.NewProjectService(db, perms, search, notifications, activity)
	memberships := services.NewMembershipService(db, perms, search, notifications, activity)
	roles := services.NewProjectRoleService(db, perms, activity)
	invites := services.NewInviteService(db, perms, notifications, mailer, activity, cfg.App.InviteTTL())
	accessRequests := services.NewAccessRequestService(db, perms, notifications, activity)
	tasks := services.NewTaskService(db, perms, search, notifications, activity)
	columns := services.NewColumnService(db, perms, activity)

	authService := services.NewAuthService(db, &cfg.JWT, ldapService, mailer, cfg.App.PasswordResetTTL())
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	svc.scheduler = services.NewScheduler(db, invites, activity, cfg.App)
	if err := svc.scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	svc.authHandler = handlers.NewAuthHandler(authService, index)
	svc.userHandler = handlers.NewUserHandler(db, index)
	svc.projectHandler = handlers.NewProjectHandler(projects, memberships)
	svc.memberHandler = handlers.NewProjectMemberHandler(memberships)
	svc.roleHandler = handlers.NewRoleHandler(roles, perms)
	svc.inviteHandler = handlers.NewInviteHandler(invites)
	svc.accessRequestHandler = handlers.NewAccessRequestHandler(accessRequests)
	svc.taskHandler = handlers.NewTaskHandler(tasks)
	svc.columnHandler = handlers.NewColumnHandler(columns)
	svc.notificationHandler = handlers.NewNotificationHandler(notifications)
	svc.sseHandler = handlers.NewSSEHandler(hub)
	dashboard := services.NewDashboardService(db, perms)
	svc.dashboardHandler = handlers.NewDashboardHandler(dashboard)
	svc.metricsHandler = handlers.NewMetricsHandler(db, dashboard, hub, svc.taskQueue, svc.worker, cache)
	svc.activityHandler = handlers.NewActivityHandler(activity)
	svc.searchHandler = handlers.NewSearchHandler(index, resync)
	svc.healthHandler = handlers.NewHealthHandler(db, svc.taskQueue, cache)

	return svc
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	for _, l := range s.limiters {
		l.Stop()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	logger.Info().Msg("Scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if s.sharedCache != nil {
		if err := s.sharedCache.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close shared cache")
		}
	}
}
