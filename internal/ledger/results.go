package ledger

import (
	"time"

	"charityledger/internal/model"
)

// Result is the outcome of a ledger mutation. Err is nil exactly when Success
// is true. UpstreamErr reports a chain mirror failure after a successful local
// commit; it never turns Success false.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash,omitempty"`
	// Warning carries the chain mirror failure text shown to clients.
	Warning     string `json:"warning,omitempty"`
	Err         error  `json:"-"`
	UpstreamErr error  `json:"-"`
}

func succeeded(msg string) Result {
	return Result{Success: true, Message: msg}
}

func failed(err error) Result {
	return Result{Message: Message(err), Err: err}
}

type ProjectResult struct {
	Result
	Project *model.Project `json:"project,omitempty"`
}

type DonationResult struct {
	Result
	Donation      *model.EscrowDonation `json:"donation,omitempty"`
	MilestoneID   string                `json:"milestone_id,omitempty"`
	MilestoneName string                `json:"milestone_name,omitempty"`
}

type VerificationResult struct {
	Result
	Status     model.VerificationStatus `json:"status,omitempty"`
	Approvals  int                      `json:"approvals"`
	Rejections int                      `json:"rejections"`
	// Release is set when this vote made the milestone verified.
	Release *ReleaseResult `json:"release,omitempty"`
}

type ReleaseResult struct {
	Result
	ReleasedAmount *model.Money `json:"released_amount,omitempty"`
	MilestoneID    string       `json:"milestone_id,omitempty"`
	DonationIDs    []string     `json:"donation_ids,omitempty"`
}

type ConsistencyReport struct {
	Issues []string `json:"issues"`
	Fixed  bool     `json:"fixed"`
	Err    error    `json:"-"`
}

// ProjectInput describes a new project. Milestones are fixed at creation.
type ProjectInput struct {
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	OrganizationID   string               `json:"organization_id"`
	OrganizationName string               `json:"organization_name"`
	Location         string               `json:"location"`
	Milestones       []MilestoneInput     `json:"milestones"`
	Images           []model.ProjectImage `json:"images,omitempty"`
	ChainProjectID   string               `json:"chain_project_id,omitempty"`
}

type MilestoneInput struct {
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	DueDate       time.Time   `json:"due_date"`
	FundingAmount model.Money `json:"funding_amount"`
}

type VerificationInput struct {
	ProjectID    string               `json:"project_id"`
	MilestoneID  string               `json:"milestone_id"`
	VerifierID   string               `json:"verifier_id"`
	VerifierName string               `json:"verifier_name"`
	Status       model.Vote           `json:"status"`
	Comments     string               `json:"comments"`
	ProofImages  []model.ProjectImage `json:"proof_images,omitempty"`
}

type PostInput struct {
	Type           model.PostType       `json:"type"`
	ProjectID      string               `json:"project_id,omitempty"`
	OrganizationID string               `json:"organization_id"`
	AuthorID       string               `json:"author_id"`
	AuthorName     string               `json:"author_name"`
	AuthorRole     model.AuthorRole     `json:"author_role"`
	Title          string               `json:"title"`
	Content        string               `json:"content"`
	Images         []model.ProjectImage `json:"images,omitempty"`
	MilestoneID    string               `json:"milestone_id,omitempty"`
}

type CommentInput struct {
	AuthorID   string           `json:"author_id"`
	AuthorName string           `json:"author_name"`
	AuthorRole model.AuthorRole `json:"author_role"`
	Content    string           `json:"content"`
}

// DonationTarget answers where the next smart donation to a project would go.
type DonationTarget struct {
	Milestone *model.Milestone `json:"milestone,omitempty"`
	Reason    string           `json:"reason"`
}

type AwaitingVerification struct {
	Project   model.Project   `json:"project"`
	Milestone model.Milestone `json:"milestone"`
}

type Stats struct {
	TotalProjects        int         `json:"total_projects"`
	ActiveProjects       int         `json:"active_projects"`
	TotalEscrow          model.Money `json:"total_escrow"`
	TotalReleased        model.Money `json:"total_released"`
	AwaitingVerification int         `json:"awaiting_verification"`
}
