// Package server wires repositories, services and handlers into the HTTP route table.
package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clubhub/portal/internal/announcements"
	"github.com/clubhub/portal/internal/auth"
	"github.com/clubhub/portal/internal/clubs"
	"github.com/clubhub/portal/internal/datasvc"
	"github.com/clubhub/portal/internal/events"
	"github.com/clubhub/portal/internal/feed"
	"github.com/clubhub/portal/internal/memberships"
	"github.com/clubhub/portal/internal/middleware"
	"github.com/clubhub/portal/internal/models"
	"github.com/clubhub/portal/internal/profiles"
	"github.com/clubhub/portal/internal/realtime"
	"github.com/clubhub/portal/internal/session"
	"github.com/clubhub/portal/internal/views"
	"github.com/clubhub/portal/pkg/response"
)

// Deps is everything the route table needs from the process.
type Deps struct {
	Data     datasvc.Client
	Issuer   auth.Issuer
	Verifier *auth.Verifier
	Cooldown *auth.Cooldown // nil disables the magic-link cooldown
	Hub      *realtime.Hub
	Images   clubs.ImageStore   // nil disables uploads
	Cleanup  clubs.CleanupQueue // nil removes a deleted club's images inline

	Auth               auth.HandlerConfig
	Resolver           session.Config
	CORSAllowedOrigins string
	WSAllowedOrigins   []string

	Logger *zap.Logger
}

// NewRouter builds the gin engine serving the views, auth endpoints, the JSON API
// and the view shell websocket.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	profileRepo := profiles.NewRepository(d.Data)
	clubRepo := clubs.NewRepository(d.Data)
	eventRepo := events.NewRepository(d.Data)
	announcementRepo := announcements.NewRepository(d.Data)
	membershipRepo := memberships.NewRepository(d.Data)
	membershipSvc := memberships.NewService(membershipRepo, profileRepo)

	resolver := session.NewResolver(profileRepo, d.Resolver, logger)
	adminAgg := clubs.NewAggregator(clubRepo, eventRepo, announcementRepo, membershipSvc, logger)
	feedAgg := feed.NewAggregator(membershipRepo, clubRepo, eventRepo, announcementRepo, logger)

	var notifier auth.Notifier = auth.NopNotifier{}
	if d.Hub != nil {
		notifier = d.Hub
	}
	authHandler := auth.NewHandler(d.Issuer, d.Cooldown, notifier, d.Auth, logger)
	viewHandler := views.NewHandler(resolver, adminAgg, feedAgg, logger)
	clubHandler := clubs.NewHandler(clubRepo, adminAgg, membershipSvc, membershipRepo, profileRepo, d.Images, logger)
	if d.Cleanup != nil {
		clubHandler.SetCleanupQueue(d.Cleanup)
	}
	eventHandler := events.NewHandler(eventRepo, logger)
	announcementHandler := announcements.NewHandler(announcementRepo, logger)
	membershipHandler := memberships.NewHandler(membershipSvc, clubRepo, logger)
	feedHandler := feed.NewHandler(feedAgg, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Session(d.Verifier, logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Views
	router.GET("/", viewHandler.Root)
	router.GET("/login", viewHandler.Login)
	router.GET("/admin-dashboard", viewHandler.AdminDashboard)
	router.GET("/user-dashboard", viewHandler.UserDashboard)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/magic-link", authHandler.MagicLink)
		authGroup.GET("/callback", authHandler.Callback)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/session", viewHandler.Session)
	}

	api := router.Group("/api")
	api.Use(middleware.RequireSession(), middleware.ResolveProfile(resolver, logger), middleware.RejectSuspended())
	{
		api.GET("/clubs", clubHandler.Directory)
		api.POST("/clubs/:id/join", membershipHandler.Join)
		api.DELETE("/clubs/:id/membership", membershipHandler.Leave)
		api.GET("/me/clubs", membershipHandler.MyClubs)
		api.GET("/feed", feedHandler.Feed)

		// Onboarding: the only admin route that works before the club exists.
		api.POST("/admin/club", middleware.RequireRole(models.RoleAdmin), clubHandler.CreateClub)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin), clubs.RequireClub(clubRepo, logger))
	{
		admin.PATCH("/club", clubHandler.UpdateClub)
		admin.DELETE("/club", clubHandler.DeleteClub)

		admin.GET("/events", eventHandler.List)
		admin.POST("/events", eventHandler.Create)
		admin.PATCH("/events/:id", eventHandler.Update)
		admin.DELETE("/events/:id", eventHandler.Delete)

		admin.GET("/announcements", announcementHandler.List)
		admin.POST("/announcements", announcementHandler.Create)
		admin.PATCH("/announcements/:id", announcementHandler.Update)
		admin.DELETE("/announcements/:id", announcementHandler.Delete)

		admin.GET("/members", clubHandler.Members)
		admin.POST("/members", clubHandler.AddMember)
		admin.DELETE("/members/:userId", clubHandler.RemoveMember)
		admin.PATCH("/profiles/:id", clubHandler.UpdateProfile)

		admin.POST("/uploads", clubHandler.PresignUpload)
		admin.POST("/uploads/file", clubHandler.UploadFile)
	}

	if d.Hub != nil {
		router.GET("/ws", realtime.ServeWs(d.Hub, resolver, realtime.Config{
			AllowedOrigins: d.WSAllowedOrigins,
			Cookies:        d.Auth.Cookies,
		}, logger))
	}

	return router
}
