package model

import "time"

type PostType string

const (
	PostMilestoneCompletion PostType = "milestone_completion"
	PostVerification        PostType = "verification"
	PostProjectUpdate       PostType = "project_update"
	PostDonation            PostType = "donation"
	PostFundRelease         PostType = "fund_release"
)

func (t PostType) Valid() bool {
	switch t {
	case PostMilestoneCompletion, PostVerification, PostProjectUpdate, PostDonation, PostFundRelease:
		return true
	}
	return false
}

type AuthorRole string

const (
	RoleNGO       AuthorRole = "ngo"
	RoleDonor     AuthorRole = "donor"
	RoleVerifier  AuthorRole = "verifier"
	RoleCommunity AuthorRole = "community"
)

func (r AuthorRole) Valid() bool {
	switch r {
	case RoleNGO, RoleDonor, RoleVerifier, RoleCommunity:
		return true
	}
	return false
}

type PostComment struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	AuthorRole AuthorRole `json:"author_role"`
	Content    string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
}

type CommunityPost struct {
	ID             string         `json:"id"`
	Type           PostType       `json:"type"`
	ProjectID      string         `json:"project_id,omitempty"`
	OrganizationID string         `json:"organization_id"`
	AuthorID       string         `json:"author_id"` // wallet address
	AuthorName     string         `json:"author_name"`
	AuthorRole     AuthorRole     `json:"author_role"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Images         []ProjectImage `json:"images,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	MilestoneID    string         `json:"milestone_id,omitempty"`
	ReleaseAmount  *Money         `json:"release_amount,omitempty"` // fund_release only
	Likes          int            `json:"likes"`
	Comments       []PostComment  `json:"comments"`
}

func (p CommunityPost) Clone() CommunityPost {
	out := p
	out.Images = cloneImages(p.Images)
	if p.ReleaseAmount != nil {
		amount := *p.ReleaseAmount
		out.ReleaseAmount = &amount
	}
	if p.Comments != nil {
		out.Comments = make([]PostComment, len(p.Comments))
		copy(out.Comments, p.Comments)
	}
	return out
}
