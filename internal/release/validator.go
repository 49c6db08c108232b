// Package release checks whether a milestone's escrow may be released.
//
// A normal release needs two conditions: at least two approving verifiers and
// enough escrow attributed to the milestone to cover its original target.
// The emergency path drops the verifier condition only.
package release

import (
	"fmt"

	"charityledger/internal/escrow"
	"charityledger/internal/model"
	"charityledger/internal/verification"
)

type Validation struct {
	IsValid           bool        `json:"is_valid"`
	Message           string      `json:"message"`
	AvailableInEscrow model.Money `json:"available_in_escrow"`
	RequiredFunding   model.Money `json:"required_funding"`
	VerifierCount     int         `json:"verifier_count"`
}

const (
	msgNotFound        = "Project or milestone not found"
	msgAlreadyReleased = "Milestone has already been fully funded and released"
)

// NotFound is the validation returned for unknown projects or milestones.
func NotFound() Validation {
	return Validation{Message: msgNotFound, AvailableInEscrow: model.Zero, RequiredFunding: model.Zero}
}

// Validate evaluates both release conditions for milestoneID.
// donations must be the project's escrow fragments.
func Validate(p *model.Project, donations []model.EscrowDonation, milestoneID string) Validation {
	m := p.Milestone(milestoneID)
	if m == nil {
		return NotFound()
	}
	approvals := m.ApprovalCount()
	if m.EscrowReleased {
		return Validation{
			Message:           msgAlreadyReleased,
			AvailableInEscrow: model.Zero,
			RequiredFunding:   model.Zero,
			VerifierCount:     approvals,
		}
	}

	v := Validation{
		AvailableInEscrow: escrow.AttributedEscrow(p, donations, milestoneID),
		RequiredFunding:   m.OriginalFundingAmount,
		VerifierCount:     approvals,
	}
	if approvals < verification.ApprovalThreshold {
		v.Message = fmt.Sprintf("Verification requirement not met: %d/%d community verifiers required. "+
			"Need at least %d community members to verify this milestone before funds can be released.",
			approvals, verification.ApprovalThreshold, verification.ApprovalThreshold)
		return v
	}
	if v.AvailableInEscrow.LessThan(v.RequiredFunding) {
		v.Message = fmt.Sprintf("Escrow funding requirement not met: %s available in escrow, but milestone requires %s. "+
			"Funds will be held until sufficient donations are received.",
			model.FormatMoney(v.AvailableInEscrow), model.FormatMoney(v.RequiredFunding))
		return v
	}

	v.IsValid = true
	v.Message = fmt.Sprintf("Both release conditions satisfied: %d community verifications, %s available in escrow (target: %s)",
		approvals, model.FormatMoney(v.AvailableInEscrow), model.FormatMoney(v.RequiredFunding))
	return v
}

// ValidateEmergency checks only escrow sufficiency. Availability follows the
// flowing rule, so only the active milestone can be released this way.
func ValidateEmergency(p *model.Project, donations []model.EscrowDonation, milestoneID string) Validation {
	m := p.Milestone(milestoneID)
	if m == nil {
		return NotFound()
	}
	v := Validation{
		AvailableInEscrow: model.Zero,
		RequiredFunding:   m.OriginalFundingAmount,
		VerifierCount:     m.ApprovalCount(),
	}
	if m.EscrowReleased {
		v.RequiredFunding = model.Zero
		v.Message = "Funds already released for this milestone"
		return v
	}
	if !escrow.UnreleasedTotal(donations).IsPositive() && m.OriginalFundingAmount.IsPositive() {
		v.Message = "No escrow funds available for this project"
		return v
	}
	if active := escrow.ActiveMilestone(p); active != nil && active.ID != m.ID {
		v.Message = fmt.Sprintf("Escrow is currently held for milestone %q; earlier milestones must be released first", active.Title)
		return v
	}

	v.AvailableInEscrow = escrow.AttributedEscrow(p, donations, milestoneID)
	if v.AvailableInEscrow.LessThan(v.RequiredFunding) {
		v.Message = fmt.Sprintf("Insufficient funds in project escrow: %s available, but milestone requires %s",
			model.FormatMoney(v.AvailableInEscrow), model.FormatMoney(v.RequiredFunding))
		return v
	}
	v.IsValid = true
	v.Message = fmt.Sprintf("Escrow covers emergency release: %s available (target: %s)",
		model.FormatMoney(v.AvailableInEscrow), model.FormatMoney(v.RequiredFunding))
	return v
}
