package handler

import (
	"net/http"

	"charityledger/internal/ledger"
	"charityledger/internal/model"
	"charityledger/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LedgerHandler serves project, escrow and verification routes over one Store.
type LedgerHandler struct {
	store  *ledger.Store
	logger *zap.Logger
}

func NewLedgerHandler(store *ledger.Store, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{store: store, logger: logger}
}

type createProjectRequest struct {
	Title            string                  `json:"title" binding:"required"`
	Description      string                  `json:"description"`
	OrganizationName string                  `json:"organization_name"`
	Location         string                  `json:"location"`
	Milestones       []ledger.MilestoneInput `json:"milestones" binding:"required"`
	Images           []model.ProjectImage    `json:"images"`
	ChainProjectID   string                  `json:"chain_project_id"`
}

// CreateProject handles POST /projects
func (h *LedgerHandler) CreateProject(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res := h.store.CreateProject(c.Request.Context(), ledger.ProjectInput{
		Title:            req.Title,
		Description:      req.Description,
		OrganizationID:   id.UserID,
		OrganizationName: displayName(req.OrganizationName, id.Name),
		Location:         req.Location,
		Milestones:       req.Milestones,
		Images:           req.Images,
		ChainProjectID:   req.ChainProjectID,
	})
	respond(c, http.StatusCreated, res.Result, res)
}

// ListProjects handles GET /projects?status=active
func (h *LedgerHandler) ListProjects(c *gin.Context) {
	if c.Query("status") == string(model.ProjectActive) {
		c.JSON(http.StatusOK, gin.H{"projects": h.store.GetActiveProjects()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": h.store.GetAllProjects()})
}

// GetProject handles GET /projects/:id
func (h *LedgerHandler) GetProject(c *gin.Context) {
	p, ok := h.store.GetProjectByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Overview handles GET /projects/:id/overview
func (h *LedgerHandler) Overview(c *gin.Context) {
	ov, err := h.store.Overview(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// DonationTarget handles GET /projects/:id/donation-target
func (h *LedgerHandler) DonationTarget(c *gin.Context) {
	projectID := c.Param("id")
	if _, ok := h.store.GetProjectByID(projectID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, h.store.GetTargetMilestoneForDonation(projectID))
}

// CompleteMilestone handles POST /projects/:id/milestones/:mid/complete
func (h *LedgerHandler) CompleteMilestone(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req struct {
		Images []model.ProjectImage `json:"images"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c)
			return
		}
	}

	projectID := c.Param("id")
	p, found := h.store.GetProjectByID(projectID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	if id.Role != rbac.RoleAdmin {
		if err := rbac.ValidateActor(id.UserID, p.OrganizationID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the project organization can complete milestones"})
			return
		}
	}

	res := h.store.CompleteMilestone(c.Request.Context(), projectID, c.Param("mid"), req.Images)
	respond(c, http.StatusOK, res, res)
}

// CheckConsistency handles POST /projects/:id/consistency
func (h *LedgerHandler) CheckConsistency(c *gin.Context) {
	rep := h.store.ValidateAndFixFundConsistency(c.Request.Context(), c.Param("id"))
	if rep.Err != nil {
		c.JSON(statusFor(rep.Err), gin.H{"error": ledger.Message(rep.Err), "issues": rep.Issues})
		return
	}
	if rep.Fixed {
		h.logger.Warn("Ledger repaired on request",
			zap.String("project_id", c.Param("id")),
			zap.Strings("issues", rep.Issues),
		)
	}
	c.JSON(http.StatusOK, rep)
}

// Stats handles GET /stats
func (h *LedgerHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.GetProjectStats())
}
