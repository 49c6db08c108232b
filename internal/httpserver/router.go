package httpserver

import (
	"context"
	"time"

	"charityledger/internal/handler"
	"charityledger/pkg/otel"
	"charityledger/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports whether the ledger backend and its dependencies can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Auth token 校验参数
type Auth struct {
	Secret string
	Issuer string
}

func NewRouter(
	authHandler *handler.AuthHandler,
	ledgerHandler *handler.LedgerHandler,
	feedHandler *handler.FeedHandler,
	auth Auth,
	ready ReadyFunc,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/health", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		if ready == nil {
			c.JSON(200, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := ready(ctx); err != nil {
			c.JSON(500, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/token", authHandler.IssueToken)

	// Public reads
	r.GET("/projects", ledgerHandler.ListProjects)
	r.GET("/projects/:id", ledgerHandler.GetProject)
	r.GET("/projects/:id/overview", ledgerHandler.Overview)
	r.GET("/projects/:id/escrow", ledgerHandler.ProjectEscrow)
	r.GET("/projects/:id/donation-target", ledgerHandler.DonationTarget)
	r.GET("/projects/:id/milestones/:mid/escrow", ledgerHandler.MilestoneEscrow)
	r.GET("/projects/:id/milestones/:mid/release", ledgerHandler.ValidateRelease)
	r.GET("/milestones/awaiting", ledgerHandler.AwaitingVerification)
	r.GET("/posts", feedHandler.ListPosts)
	r.GET("/stats", ledgerHandler.Stats)

	// Protected
	api := r.Group("/")
	api.Use(AuthMiddleware(auth.Secret, auth.Issuer))
	{
		api.POST("/projects", RequirePermission(rbac.PermissionCreateProject), ledgerHandler.CreateProject)
		api.POST("/projects/:id/donations", RequirePermission(rbac.PermissionDonate), ledgerHandler.Donate)
		api.POST("/projects/:id/consistency", RequirePermission(rbac.PermissionRepairLedger), ledgerHandler.CheckConsistency)

		ms := api.Group("/projects/:id/milestones/:mid")
		ms.POST("/complete", RequirePermission(rbac.PermissionCompleteMilestone), ledgerHandler.CompleteMilestone)
		ms.POST("/donations", RequirePermission(rbac.PermissionDonate), ledgerHandler.DonateToMilestone)
		ms.POST("/verifications", RequirePermission(rbac.PermissionVerify), ledgerHandler.Verify)
		ms.GET("/can-verify", ledgerHandler.CanVerify)
		ms.POST("/release/refresh", RequirePermission(rbac.PermissionRefreshRelease), ledgerHandler.RefreshRelease)
		ms.POST("/release/emergency", RequirePermission(rbac.PermissionEmergencyRelease), ledgerHandler.EmergencyRelease)

		api.POST("/posts", RequirePermission(rbac.PermissionPost), feedHandler.CreatePost)
		api.POST("/posts/:id/like", feedHandler.LikePost)
		api.POST("/posts/:id/comments", RequirePermission(rbac.PermissionComment), feedHandler.AddComment)
	}

	return r
}
