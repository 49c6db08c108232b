package ledger

import (
	"time"

	"charityledger/internal/escrow"
	"charityledger/internal/model"
)

// Reads return deep copies taken from one committed state.

func (s *Store) GetAllProjects() []model.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Project, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.ledgers[id].project.Clone())
	}
	return out
}

func (s *Store) GetActiveProjects() []model.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Project, 0)
	for _, id := range s.order {
		if p := s.ledgers[id].project; p.Status == model.ProjectActive {
			out = append(out, p.Clone())
		}
	}
	return out
}

func (s *Store) GetProjectByID(projectID string) (model.Project, bool) {
	pl, ok := s.get(projectID)
	if !ok {
		return model.Project{}, false
	}
	return pl.project.Clone(), true
}

func (s *Store) GetEscrowDonationsForProject(projectID string) []model.EscrowDonation {
	pl, ok := s.get(projectID)
	if !ok {
		return []model.EscrowDonation{}
	}
	return append([]model.EscrowDonation{}, pl.donations...)
}

// GetEscrowByMilestone lists fragments attributed to milestoneID at donation time.
func (s *Store) GetEscrowByMilestone(projectID, milestoneID string) []model.EscrowDonation {
	out := make([]model.EscrowDonation, 0)
	pl, ok := s.get(projectID)
	if !ok {
		return out
	}
	for _, d := range pl.donations {
		if d.MilestoneID == milestoneID {
			out = append(out, d)
		}
	}
	return out
}

// GetTotalEscrowForMilestone is the unreleased escrow the milestone could draw on now.
func (s *Store) GetTotalEscrowForMilestone(projectID, milestoneID string) model.Money {
	pl, ok := s.get(projectID)
	if !ok {
		return model.Zero
	}
	return escrow.AttributedEscrow(&pl.project, pl.donations, milestoneID)
}

func (s *Store) GetTotalReleasedForMilestone(projectID, milestoneID string) model.Money {
	pl, ok := s.get(projectID)
	if !ok {
		return model.Zero
	}
	return escrow.ReleasedFor(pl.donations, milestoneID)
}

func (s *Store) GetTotalDonatedToMilestone(projectID, milestoneID string) model.Money {
	pl, ok := s.get(projectID)
	if !ok {
		return model.Zero
	}
	return escrow.DonatedTo(pl.donations, milestoneID)
}

func (s *Store) GetTotalRaisedForProject(projectID string) model.Money {
	pl, ok := s.get(projectID)
	if !ok {
		return model.Zero
	}
	return escrow.TotalRaised(pl.donations)
}

func (s *Store) GetTargetMilestoneForDonation(projectID string) DonationTarget {
	pl, ok := s.get(projectID)
	if !ok {
		return DonationTarget{Reason: "Project not found"}
	}
	t := escrow.TargetForDonation(&pl.project, pl.donations)
	if !t.OK() {
		return DonationTarget{Reason: t.Reason}
	}
	m := t.Milestone.Clone()
	return DonationTarget{Milestone: &m, Reason: t.Reason}
}

// GetMilestonesAwaitingVerification lists milestones whose verification window is still open.
func (s *Store) GetMilestonesAwaitingVerification() []AwaitingVerification {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awaitingLocked(now)
}

func (s *Store) awaitingLocked(now time.Time) []AwaitingVerification {
	out := make([]AwaitingVerification, 0)
	for _, id := range s.order {
		p := &s.ledgers[id].project
		for _, m := range p.Milestones {
			if m.VerificationStatus != model.VerificationAwaiting || m.VerificationDeadline == nil {
				continue
			}
			if now.After(*m.VerificationDeadline) {
				continue
			}
			out = append(out, AwaitingVerification{Project: p.Clone(), Milestone: m.Clone()})
		}
	}
	return out
}

// CanUserVerify reports whether verifierID has not voted on milestoneID yet.
func (s *Store) CanUserVerify(verifierID, milestoneID string) bool {
	return !s.hasVerified(verifierID, milestoneID)
}

func (s *Store) GetProjectStats() Stats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalEscrow: model.Zero, TotalReleased: model.Zero}
	for _, id := range s.order {
		pl := s.ledgers[id]
		st.TotalProjects++
		if pl.project.Status == model.ProjectActive {
			st.ActiveProjects++
		}
		for _, d := range pl.donations {
			if d.IsReleased {
				st.TotalReleased = st.TotalReleased.Add(d.Amount)
			} else {
				st.TotalEscrow = st.TotalEscrow.Add(d.Amount)
			}
		}
	}
	st.AwaitingVerification = len(s.awaitingLocked(now))
	return st
}
