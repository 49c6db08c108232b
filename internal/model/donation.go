package model

import "time"

type EscrowDonation struct {
	ID        string `json:"id"`
	DonorID   string `json:"donor_id"` // wallet address
	DonorName string `json:"donor_name"`
	ProjectID string `json:"project_id"`

	// MilestoneID is the milestone the donation was attributed to when it arrived.
	MilestoneID string    `json:"milestone_id"`
	Amount      Money     `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
	IsReleased  bool      `json:"is_released"`

	// ReleasedForMilestoneID names the milestone whose release consumed this fragment.
	ReleasedForMilestoneID string `json:"released_for_milestone_id,omitempty"`
	// SplitFromID is set on remainder fragments created by a partial release.
	SplitFromID string `json:"split_from_id,omitempty"`
}

// ReleasedFor returns the milestone a released fragment counts towards.
// Records written before release attribution existed fall back to MilestoneID.
func (d EscrowDonation) ReleasedFor() string {
	if d.ReleasedForMilestoneID != "" {
		return d.ReleasedForMilestoneID
	}
	return d.MilestoneID
}

func CloneDonations(in []EscrowDonation) []EscrowDonation {
	if in == nil {
		return nil
	}
	out := make([]EscrowDonation, len(in))
	copy(out, in)
	return out
}
