// Package escrow computes flowing escrow attribution and exact release plans.
//
// All unreleased escrow of a project belongs to its active milestone, the
// first one in sequence whose funds have not been released. Every other
// milestone is attributed zero regardless of the milestone ids recorded on
// individual donations.
package escrow

import (
	"fmt"

	"charityledger/internal/model"
)

// ActiveMilestone returns the first milestone whose escrow has not been released.
func ActiveMilestone(p *model.Project) *model.Milestone {
	for i := range p.Milestones {
		if !p.Milestones[i].EscrowReleased {
			return &p.Milestones[i]
		}
	}
	return nil
}

// UnreleasedTotal sums every donation fragment still held in escrow.
func UnreleasedTotal(donations []model.EscrowDonation) model.Money {
	total := model.Zero
	for _, d := range donations {
		if !d.IsReleased {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// TotalRaised sums every fragment, released or not.
func TotalRaised(donations []model.EscrowDonation) model.Money {
	total := model.Zero
	for _, d := range donations {
		total = total.Add(d.Amount)
	}
	return total
}

// AttributedEscrow returns the unreleased escrow attributed to milestoneID.
func AttributedEscrow(p *model.Project, donations []model.EscrowDonation, milestoneID string) model.Money {
	m := p.Milestone(milestoneID)
	if m == nil || m.EscrowReleased {
		return model.Zero
	}
	active := ActiveMilestone(p)
	if active == nil || active.ID != milestoneID {
		return model.Zero
	}
	return UnreleasedTotal(donations)
}

// ReleasedFor sums the fragments whose release was made for milestoneID.
func ReleasedFor(donations []model.EscrowDonation, milestoneID string) model.Money {
	total := model.Zero
	for _, d := range donations {
		if d.IsReleased && d.ReleasedFor() == milestoneID {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// DonatedTo sums every fragment originally attributed to milestoneID.
func DonatedTo(donations []model.EscrowDonation, milestoneID string) model.Money {
	total := model.Zero
	for _, d := range donations {
		if d.MilestoneID == milestoneID {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// Target is where a new donation to a project should be posted.
// Milestone is nil when the project accepts no more donations; Reason says why.
type Target struct {
	Milestone *model.Milestone
	Reason    string
}

func (t Target) OK() bool { return t.Milestone != nil }

// TargetForDonation picks the active milestone for a new donation.
func TargetForDonation(p *model.Project, donations []model.EscrowDonation) Target {
	if TotalRaised(donations).GreaterThanOrEqual(p.TargetAmount) {
		return Target{Reason: "Project has reached its funding goal"}
	}
	active := ActiveMilestone(p)
	if active == nil {
		return Target{Reason: "All milestones have been completed and funded"}
	}
	return Target{
		Milestone: active,
		Reason:    fmt.Sprintf("Funding current active milestone: %q", active.Title),
	}
}
