package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/feed"
	"charityledger/internal/model"
	"charityledger/internal/release"
	"charityledger/internal/verification"
	"charityledger/pkg/logger"
	"charityledger/pkg/metrics"
)

func guardMessage(err error) string {
	switch {
	case errors.Is(err, verification.ErrNotCompleted):
		return "Milestone must be completed before verification"
	case errors.Is(err, verification.ErrAlreadyVerified):
		return "You have already verified this milestone"
	case errors.Is(err, verification.ErrDeadlinePassed):
		return "Verification period has expired"
	}
	return err.Error()
}

func (s *Store) hasVerified(verifierID, milestoneID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified[verifierID][milestoneID]
}

// AddMilestoneVerification records one community vote. The vote that makes
// the milestone verified also attempts the release in the same commit; when
// escrow is short the milestone stays verified and a pending post is emitted.
func (s *Store) AddMilestoneVerification(ctx context.Context, in VerificationInput) (res VerificationResult) {
	defer func() { s.observe(ctx, "add_verification", res.Err) }()

	if !in.Status.Valid() {
		return VerificationResult{Result: failed(validationf("Verification status must be %q or %q", model.VoteApproved, model.VoteRejected))}
	}
	if strings.TrimSpace(in.VerifierID) == "" {
		return VerificationResult{Result: failed(validationf("Verifier id is required"))}
	}

	unlock := s.locks.Lock(in.ProjectID)
	pl, ok := s.get(in.ProjectID)
	if !ok {
		unlock()
		return VerificationResult{Result: failed(errProjectNotFound)}
	}
	if err := checkMutable(&pl.project); err != nil {
		unlock()
		return VerificationResult{Result: failed(err)}
	}
	m := pl.project.Milestone(in.MilestoneID)
	if m == nil {
		unlock()
		return VerificationResult{Result: failed(errMilestoneNotFound)}
	}

	now := s.now().UTC()
	if err := verification.Guard(m, s.hasVerified(in.VerifierID, in.MilestoneID), now); err != nil {
		unlock()
		return VerificationResult{Result: failed(validationErr(guardMessage(err), err))}
	}

	next := pl.edit()
	nm := next.project.Milestone(in.MilestoneID)
	vote := model.Verification{
		VerifierID:   in.VerifierID,
		VerifierName: in.VerifierName,
		Status:       in.Status,
		Comments:     in.Comments,
		Timestamp:    now,
		ProofImages:  copyImages(in.ProofImages),
	}
	nm.Verifications = append(nm.Verifications, vote)
	status, becameVerified := verification.Transition(nm)
	nm.VerificationStatus = status
	next.project.UpdatedAt = now
	tally := verification.Count(nm.Verifications)

	ev, err := encodeEvent(mqcontract.RoutingVerificationAdded, in.ProjectID, mqcontract.VerificationAddedPayload{
		ProjectID:   in.ProjectID,
		MilestoneID: in.MilestoneID,
		VerifierID:  in.VerifierID,
		Vote:        string(in.Status),
		Status:      string(status),
		Approvals:   tally.Approvals,
		Rejections:  tally.Rejections,
		TraceID:     traceID(ctx),
	}, now)
	if err != nil {
		unlock()
		return VerificationResult{Result: failed(err)}
	}

	final := next
	events := []model.Event{ev}
	var posts []model.CommunityPost
	var rel *ReleaseResult
	var released *releaseOutcome
	if becameVerified {
		v := release.Validate(&next.project, next.donations, in.MilestoneID)
		if v.IsValid {
			o, relErr := s.applyRelease(ctx, next, in.MilestoneID, now, false, "")
			if relErr == nil {
				final = o.next
				events = append(events, o.event)
				released = &o
				rel = o.result(fmt.Sprintf("Successfully released exactly %s for milestone %q", model.FormatMoney(o.plan.Amount), nm.Title))
				posts = append(posts, feed.FundsReleased(&o.next.project, nm, o.plan.Amount, v.VerifierCount))
			} else {
				s.observe(ctx, "release", relErr)
				v.Message = Message(relErr)
				rel = &ReleaseResult{Result: failed(relErr), MilestoneID: in.MilestoneID}
			}
		} else {
			rel = &ReleaseResult{Result: failed(validationf("%s", v.Message)), MilestoneID: in.MilestoneID}
		}
		if released == nil {
			posts = append(posts, feed.ReleaseBlocked(&next.project, nm, tally.Approvals, v.Message))
			blocked, encErr := encodeEvent(mqcontract.RoutingReleaseBlocked, in.ProjectID, mqcontract.ReleaseBlockedPayload{
				ProjectID:         in.ProjectID,
				MilestoneID:       in.MilestoneID,
				AvailableInEscrow: v.AvailableInEscrow.String(),
				RequiredFunding:   v.RequiredFunding.String(),
				Message:           v.Message,
				TraceID:           traceID(ctx),
			}, now)
			if encErr != nil {
				unlock()
				return VerificationResult{Result: failed(encErr)}
			}
			events = append(events, blocked)
		}
	}
	posts = append(posts, feed.VerificationRecorded(&final.project, nm, vote))

	c := ledgerChange(final, events...)
	c.marks = []verifierMark{{verifierID: in.VerifierID, milestoneID: in.MilestoneID}}
	err = s.commit(ctx, c)
	unlock()
	if err != nil {
		return VerificationResult{Result: failed(err)}
	}

	metrics.IncrementVerificationVote(string(in.Status))
	logger.WithTrace(ctx, s.logger).Info("Verification recorded",
		zap.String("project_id", in.ProjectID),
		zap.String("milestone_id", in.MilestoneID),
		zap.String("verifier_id", in.VerifierID),
		zap.String("vote", string(in.Status)),
		zap.String("status", string(status)),
		zap.Int("approvals", tally.Approvals),
		zap.Int("rejections", tally.Rejections),
	)
	if released != nil {
		s.logRelease(ctx, pathNormal, *released)
	}
	s.appendPosts(ctx, posts...)

	msg := fmt.Sprintf("Verification recorded. Milestone status: %s (%d approvals, %d rejections)", status, tally.Approvals, tally.Rejections)
	if released != nil {
		msg += fmt.Sprintf("; %s released from escrow", model.FormatMoney(released.plan.Amount))
	}
	res = VerificationResult{
		Result:     succeeded(msg),
		Status:     status,
		Approvals:  tally.Approvals,
		Rejections: tally.Rejections,
		Release:    rel,
	}
	if becameVerified {
		fns := s.releaseMirror(&final.project, in.MilestoneID, true)
		if released == nil && len(fns) > 0 {
			fns = fns[:1]
		}
		s.mirror(ctx, &res.Result, fns...)
		if released != nil {
			rel.TxHash = res.TxHash
		}
	}
	return res
}

func copyImages(in []model.ProjectImage) []model.ProjectImage {
	if in == nil {
		return nil
	}
	out := make([]model.ProjectImage, len(in))
	copy(out, in)
	return out
}
