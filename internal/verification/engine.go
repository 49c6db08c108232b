// Package verification holds the per-milestone community vote state machine:
// pending -> awaiting_verification -> verified | rejected.
package verification

import (
	"errors"
	"time"

	"charityledger/internal/model"
)

const (
	ApprovalThreshold  = 2
	RejectionThreshold = 2
	Window             = 5 * 24 * time.Hour
)

var (
	ErrNotCompleted    = errors.New("milestone must be completed before verification")
	ErrAlreadyVerified = errors.New("verifier has already verified this milestone")
	ErrDeadlinePassed  = errors.New("verification period has expired")
)

// Deadline is the last instant a vote is accepted for a milestone completed at completedAt.
func Deadline(completedAt time.Time) time.Time {
	return completedAt.Add(Window)
}

// Guard reports why a vote may not be recorded, or nil when it may.
// alreadyVerified comes from the per-verifier index, not the verification list.
func Guard(m *model.Milestone, alreadyVerified bool, now time.Time) error {
	if !m.IsCompleted {
		return ErrNotCompleted
	}
	if alreadyVerified {
		return ErrAlreadyVerified
	}
	if m.VerificationDeadline != nil && now.After(*m.VerificationDeadline) {
		return ErrDeadlinePassed
	}
	return nil
}

type Tally struct {
	Approvals  int
	Rejections int
}

func Count(vs []model.Verification) Tally {
	var t Tally
	for _, v := range vs {
		switch v.Status {
		case model.VoteApproved:
			t.Approvals++
		case model.VoteRejected:
			t.Rejections++
		}
	}
	return t
}

// Transition computes the status after the votes recorded on m. Votes are
// replayed in order and whichever counter reaches its threshold first decides,
// so a milestone holding two approvals and two rejections keeps the outcome of
// the earlier threshold. A terminal status is never changed.
func Transition(m *model.Milestone) (status model.VerificationStatus, becameVerified bool) {
	if m.VerificationStatus.Terminal() {
		return m.VerificationStatus, false
	}

	status = m.VerificationStatus
	var t Tally
	for _, v := range m.Verifications {
		switch v.Status {
		case model.VoteApproved:
			t.Approvals++
		case model.VoteRejected:
			t.Rejections++
		}
		if t.Approvals >= ApprovalThreshold {
			status = model.VerificationVerified
			break
		}
		if t.Rejections >= RejectionThreshold {
			status = model.VerificationRejected
			break
		}
	}
	return status, status == model.VerificationVerified
}
