package handler

import (
	"net/http"

	"charityledger/internal/ledger"
	"charityledger/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type verificationRequest struct {
	Status       model.Vote           `json:"status" binding:"required"`
	Comments     string               `json:"comments"`
	VerifierName string               `json:"verifier_name"`
	ProofImages  []model.ProjectImage `json:"proof_images"`
}

// Verify handles POST /projects/:id/milestones/:mid/verifications
func (h *LedgerHandler) Verify(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req verificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res := h.store.AddMilestoneVerification(c.Request.Context(), ledger.VerificationInput{
		ProjectID:    c.Param("id"),
		MilestoneID:  c.Param("mid"),
		VerifierID:   id.UserID,
		VerifierName: displayName(req.VerifierName, id.Name),
		Status:       req.Status,
		Comments:     req.Comments,
		ProofImages:  req.ProofImages,
	})
	respond(c, http.StatusCreated, res.Result, res)
}

// ValidateRelease handles GET /projects/:id/milestones/:mid/release
func (h *LedgerHandler) ValidateRelease(c *gin.Context) {
	v := h.store.ValidateFundRelease(c.Request.Context(), c.Param("id"), c.Param("mid"))
	c.JSON(http.StatusOK, v)
}

// RefreshRelease handles POST /projects/:id/milestones/:mid/release/refresh
func (h *LedgerHandler) RefreshRelease(c *gin.Context) {
	res := h.store.RefreshFundRelease(c.Request.Context(), c.Param("id"), c.Param("mid"))
	respond(c, http.StatusOK, res.Result, res)
}

// EmergencyRelease handles POST /projects/:id/milestones/:mid/release/emergency
func (h *LedgerHandler) EmergencyRelease(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res := h.store.ImmediateReleaseFunds(c.Request.Context(), c.Param("id"), c.Param("mid"), req.Reason)
	if res.Success {
		h.logger.Warn("Emergency release requested",
			zap.String("user_id", id.UserID),
			zap.String("project_id", c.Param("id")),
			zap.String("milestone_id", c.Param("mid")),
			zap.String("reason", req.Reason),
		)
	}
	respond(c, http.StatusOK, res.Result, res)
}

// AwaitingVerification handles GET /milestones/awaiting
func (h *LedgerHandler) AwaitingVerification(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"milestones": h.store.GetMilestonesAwaitingVerification()})
}

// CanVerify handles GET /projects/:id/milestones/:mid/can-verify
func (h *LedgerHandler) CanVerify(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_verify": h.store.CanUserVerify(id.UserID, c.Param("mid"))})
}
