package mq

import "time"

// Routing keys published on the events exchange by the ledger outbox.
const (
	RoutingProjectCreated      = "ledger.project.created"
	RoutingMilestoneCompleted  = "ledger.milestone.completed"
	RoutingVerificationAdded   = "ledger.verification.added"
	RoutingDonationRecorded    = "ledger.donation.recorded"
	RoutingFundsReleased       = "ledger.funds.released"
	RoutingReleaseBlocked      = "ledger.release.blocked"
	RoutingConsistencyRepaired = "ledger.consistency.repaired"
)

// ProjectCreatedPayload 项目创建事件
type ProjectCreatedPayload struct {
	ProjectID      string    `json:"project_id"`
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	TargetAmount   string    `json:"target_amount"`
	MilestoneIDs   []string  `json:"milestone_ids"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// MilestoneCompletedPayload NGO 报告里程碑完成
type MilestoneCompletedPayload struct {
	ProjectID            string    `json:"project_id"`
	MilestoneID          string    `json:"milestone_id"`
	CompletedAt          time.Time `json:"completed_at"`
	VerificationDeadline time.Time `json:"verification_deadline"`
	TraceID              string    `json:"trace_id,omitempty"`
}

// VerificationAddedPayload 社区验证记录
type VerificationAddedPayload struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	VerifierID  string `json:"verifier_id"`
	Vote        string `json:"vote"`
	Status      string `json:"status"` // milestone verification status after the vote
	Approvals   int    `json:"approvals"`
	Rejections  int    `json:"rejections"`
	TraceID     string `json:"trace_id,omitempty"`
}

// DonationRecordedPayload 捐款进入托管
type DonationRecordedPayload struct {
	DonationID  string    `json:"donation_id"`
	ProjectID   string    `json:"project_id"`
	MilestoneID string    `json:"milestone_id"`
	DonorID     string    `json:"donor_id"`
	Amount      string    `json:"amount"`
	RecordedAt  time.Time `json:"recorded_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// FundsReleasedPayload 托管资金释放
type FundsReleasedPayload struct {
	ProjectID   string   `json:"project_id"`
	MilestoneID string   `json:"milestone_id"`
	Amount      string   `json:"amount"`
	DonationIDs []string `json:"donation_ids"`
	Emergency   bool     `json:"emergency"`
	Reason      string   `json:"reason,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
}

// ReleaseBlockedPayload 已验证但资金不足
type ReleaseBlockedPayload struct {
	ProjectID         string `json:"project_id"`
	MilestoneID       string `json:"milestone_id"`
	AvailableInEscrow string `json:"available_in_escrow"`
	RequiredFunding   string `json:"required_funding"`
	Message           string `json:"message"`
	TraceID           string `json:"trace_id,omitempty"`
}

// ConsistencyRepairedPayload 资金一致性修复
type ConsistencyRepairedPayload struct {
	ProjectID string   `json:"project_id"`
	Issues    []string `json:"issues"`
	TraceID   string   `json:"trace_id,omitempty"`
}
