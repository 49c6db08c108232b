// Package feed builds the community activity posts emitted alongside ledger
// mutations. Posts are observational; the ledger never reads them back.
package feed

import (
	"fmt"
	"sort"

	"charityledger/internal/model"
)

func base(p *model.Project, t model.PostType) model.CommunityPost {
	return model.CommunityPost{
		Type:           t,
		ProjectID:      p.ID,
		OrganizationID: p.OrganizationID,
		AuthorID:       p.OrganizationID,
		AuthorName:     p.OrganizationName,
		AuthorRole:     model.RoleNGO,
		Comments:       []model.PostComment{},
	}
}

func ProjectCreated(p *model.Project) model.CommunityPost {
	post := base(p, model.PostProjectUpdate)
	post.Title = "New Project Created: " + p.Title
	post.Content = fmt.Sprintf("We're excited to announce our new project: %s. %s", p.Title, p.Description)
	post.Images = p.Images
	return post
}

func MilestoneCompleted(p *model.Project, m *model.Milestone) model.CommunityPost {
	post := base(p, model.PostMilestoneCompletion)
	post.Title = "Milestone Completed: " + m.Title
	post.Content = fmt.Sprintf("We're happy to announce the completion of milestone %q for %s.", m.Title, p.Title)
	post.Images = m.CompletionImages
	post.MilestoneID = m.ID
	return post
}

func VerificationRecorded(p *model.Project, m *model.Milestone, v model.Verification) model.CommunityPost {
	post := base(p, model.PostVerification)
	post.AuthorID = v.VerifierID
	post.AuthorName = v.VerifierName
	post.AuthorRole = model.RoleVerifier
	post.Title = "Milestone Verification: " + m.Title
	post.Content = fmt.Sprintf("Verification %s for milestone %q. %s", v.Status, m.Title, v.Comments)
	post.Images = v.ProofImages
	post.MilestoneID = m.ID
	return post
}

func FundsReleased(p *model.Project, m *model.Milestone, amount model.Money, verifiers int) model.CommunityPost {
	post := base(p, model.PostFundRelease)
	post.Title = "Funds Released: " + m.Title
	post.Content = fmt.Sprintf("Milestone %q has been verified by %d community members and exactly %s has been released from escrow. "+
		"The organization can now proceed with this phase of the project.", m.Title, verifiers, model.FormatMoney(amount))
	post.MilestoneID = m.ID
	post.ReleaseAmount = &amount
	return post
}

func EmergencyRelease(p *model.Project, m *model.Milestone, amount model.Money, reason string) model.CommunityPost {
	post := base(p, model.PostFundRelease)
	post.Title = "Emergency Fund Release: " + m.Title
	post.Content = fmt.Sprintf("Emergency release of exactly %s for milestone %q (Target: %s). Reason: %s",
		model.FormatMoney(amount), m.Title, model.FormatMoney(m.OriginalFundingAmount), reason)
	post.MilestoneID = m.ID
	post.ReleaseAmount = &amount
	return post
}

func ReleaseBlocked(p *model.Project, m *model.Milestone, approvals int, reason string) model.CommunityPost {
	post := base(p, model.PostProjectUpdate)
	post.Title = "Verified Milestone Pending Fund Release: " + m.Title
	post.Content = fmt.Sprintf("Milestone %q has been verified by %d community members, but fund release is pending: %s",
		m.Title, approvals, reason)
	post.MilestoneID = m.ID
	return post
}

func DonationReceived(p *model.Project, m *model.Milestone, d model.EscrowDonation) model.CommunityPost {
	post := base(p, model.PostDonation)
	post.AuthorID = d.DonorID
	post.AuthorName = d.DonorName
	post.AuthorRole = model.RoleDonor
	post.Title = "New Donation: " + p.Title
	post.Content = fmt.Sprintf("%s donated %s, held in escrow for milestone %q.", d.DonorName, model.FormatMoney(d.Amount), m.Title)
	post.MilestoneID = m.ID
	return post
}

// SortNewestFirst orders posts by timestamp, newest first. Ties keep insertion order.
func SortNewestFirst(posts []model.CommunityPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Timestamp.After(posts[j].Timestamp)
	})
}

// ByProject filters posts referencing projectID.
func ByProject(posts []model.CommunityPost, projectID string) []model.CommunityPost {
	out := make([]model.CommunityPost, 0)
	for _, p := range posts {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out
}
