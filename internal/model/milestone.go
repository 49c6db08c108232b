package model

import "time"

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationAwaiting VerificationStatus = "awaiting_verification"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationAwaiting, VerificationVerified, VerificationRejected:
		return true
	}
	return false
}

// Terminal reports whether no further vote can change the status.
func (s VerificationStatus) Terminal() bool {
	switch s {
	case VerificationVerified, VerificationRejected:
		return true
	case VerificationPending, VerificationAwaiting:
		return false
	}
	return false
}

type Vote string

const (
	VoteApproved Vote = "approved"
	VoteRejected Vote = "rejected"
)

func (v Vote) Valid() bool {
	switch v {
	case VoteApproved, VoteRejected:
		return true
	}
	return false
}

type Verification struct {
	VerifierID   string         `json:"verifier_id"` // wallet address
	VerifierName string         `json:"verifier_name"`
	Status       Vote           `json:"status"`
	Comments     string         `json:"comments"`
	Timestamp    time.Time      `json:"timestamp"`
	ProofImages  []ProjectImage `json:"proof_images,omitempty"`
}

type Milestone struct {
	ID                    string             `json:"id"`
	Title                 string             `json:"title"`
	Description           string             `json:"description"`
	DueDate               time.Time          `json:"due_date"`
	FundingAmount         Money              `json:"funding_amount"`          // display only
	OriginalFundingAmount Money              `json:"original_funding_amount"` // used for all release math
	IsCompleted           bool               `json:"is_completed"`
	CompletionDate        *time.Time         `json:"completion_date,omitempty"`
	CompletionImages      []ProjectImage     `json:"completion_images,omitempty"`
	VerificationStatus    VerificationStatus `json:"verification_status"`
	VerificationDeadline  *time.Time         `json:"verification_deadline,omitempty"`
	Verifications         []Verification     `json:"verifications"`
	EscrowReleased        bool               `json:"escrow_released"`
}

// ApprovalCount counts approved verifications.
func (m *Milestone) ApprovalCount() int {
	n := 0
	for _, v := range m.Verifications {
		if v.Status == VoteApproved {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the milestone.
func (m Milestone) Clone() Milestone {
	out := m
	if m.CompletionDate != nil {
		t := *m.CompletionDate
		out.CompletionDate = &t
	}
	if m.VerificationDeadline != nil {
		t := *m.VerificationDeadline
		out.VerificationDeadline = &t
	}
	out.CompletionImages = cloneImages(m.CompletionImages)
	if m.Verifications != nil {
		out.Verifications = make([]Verification, len(m.Verifications))
		for i, v := range m.Verifications {
			v.ProofImages = cloneImages(v.ProofImages)
			out.Verifications[i] = v
		}
	}
	return out
}
