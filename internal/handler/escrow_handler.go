package handler

import (
	"net/http"

	"charityledger/internal/model"

	"github.com/gin-gonic/gin"
)

type donationRequest struct {
	Amount    model.Money `json:"amount"`
	DonorName string      `json:"donor_name"`
}

// Donate handles POST /projects/:id/donations, letting the ledger pick the milestone.
func (h *LedgerHandler) Donate(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req donationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res := h.store.AddSmartDonation(c.Request.Context(), c.Param("id"), req.Amount, id.UserID, displayName(req.DonorName, id.Name))
	respond(c, http.StatusCreated, res.Result, res)
}

// DonateToMilestone handles POST /projects/:id/milestones/:mid/donations
func (h *LedgerHandler) DonateToMilestone(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req donationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res := h.store.AddDonationToEscrow(c.Request.Context(), c.Param("id"), c.Param("mid"), req.Amount, id.UserID, displayName(req.DonorName, id.Name))
	respond(c, http.StatusCreated, res.Result, res)
}

// ProjectEscrow handles GET /projects/:id/escrow
func (h *LedgerHandler) ProjectEscrow(c *gin.Context) {
	projectID := c.Param("id")
	if _, ok := h.store.GetProjectByID(projectID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"donations":    h.store.GetEscrowDonationsForProject(projectID),
		"total_raised": h.store.GetTotalRaisedForProject(projectID),
	})
}

// MilestoneEscrow handles GET /projects/:id/milestones/:mid/escrow
func (h *LedgerHandler) MilestoneEscrow(c *gin.Context) {
	projectID, milestoneID := c.Param("id"), c.Param("mid")
	if _, ok := h.store.GetProjectByID(projectID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"donations":      h.store.GetEscrowByMilestone(projectID, milestoneID),
		"total_escrow":   h.store.GetTotalEscrowForMilestone(projectID, milestoneID),
		"total_released": h.store.GetTotalReleasedForMilestone(projectID, milestoneID),
		"total_donated":  h.store.GetTotalDonatedToMilestone(projectID, milestoneID),
	})
}
