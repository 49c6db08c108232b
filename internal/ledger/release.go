package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/chain"
	"charityledger/internal/escrow"
	"charityledger/internal/feed"
	"charityledger/internal/model"
	"charityledger/internal/release"
	"charityledger/pkg/logger"
	"charityledger/pkg/metrics"
)

const (
	pathNormal    = "normal"
	pathEmergency = "emergency"
)

type releaseOutcome struct {
	next  *projectLedger
	plan  escrow.Plan
	event model.Event
}

// applyRelease releases exactly the milestone's original target from the
// project's unreleased fragments, oldest first. It does not validate release
// conditions; callers do that first.
func (s *Store) applyRelease(ctx context.Context, pl *projectLedger, milestoneID string, now time.Time, emergency bool, reason string) (releaseOutcome, error) {
	m := pl.project.Milestone(milestoneID)
	if m == nil {
		return releaseOutcome{}, errMilestoneNotFound
	}
	if m.EscrowReleased {
		return releaseOutcome{}, validationf("Funds already released for this milestone")
	}

	plan, err := escrow.PlanRelease(pl.donations, milestoneID, m.OriginalFundingAmount)
	if err != nil {
		return releaseOutcome{}, invariantErr(fmt.Sprintf("Release for milestone %q could not match %s exactly",
			m.Title, model.FormatMoney(m.OriginalFundingAmount)), err)
	}
	donations, err := escrow.Apply(pl.donations, plan, s.newID)
	if err != nil {
		return releaseOutcome{}, invariantErr(fmt.Sprintf("Release for milestone %q could not be applied", m.Title), err)
	}
	if before, after := escrow.TotalRaised(pl.donations), escrow.TotalRaised(donations); !before.Equal(after) {
		return releaseOutcome{}, invariantErr("Escrow total changed during release",
			fmt.Errorf("%w: before %s, after %s", escrow.ErrReleaseMismatch, before, after))
	}

	next := &projectLedger{project: pl.project.Clone(), donations: donations}
	next.project.Milestone(milestoneID).EscrowReleased = true
	next.project.UpdatedAt = now
	if next.project.Status == model.ProjectActive && next.project.AllCompletedAndReleased() {
		next.project.Status = model.ProjectCompleted
	}

	ids := make([]string, 0, len(plan.Items))
	for _, it := range plan.Items {
		ids = append(ids, it.DonationID)
	}
	ev, err := encodeEvent(mqcontract.RoutingFundsReleased, pl.project.ID, mqcontract.FundsReleasedPayload{
		ProjectID:   pl.project.ID,
		MilestoneID: milestoneID,
		Amount:      plan.Amount.String(),
		DonationIDs: ids,
		Emergency:   emergency,
		Reason:      reason,
		TraceID:     traceID(ctx),
	}, now)
	if err != nil {
		return releaseOutcome{}, err
	}
	return releaseOutcome{next: next, plan: plan, event: ev}, nil
}

func (o releaseOutcome) result(msg string) *ReleaseResult {
	amount := o.plan.Amount
	ids := make([]string, 0, len(o.plan.Items))
	for _, it := range o.plan.Items {
		ids = append(ids, it.DonationID)
	}
	return &ReleaseResult{
		Result:         succeeded(msg),
		ReleasedAmount: &amount,
		MilestoneID:    o.plan.MilestoneID,
		DonationIDs:    ids,
	}
}

func (s *Store) logRelease(ctx context.Context, path string, o releaseOutcome) {
	metrics.AddReleased(path, o.plan.Amount.InexactFloat64())
	log := logger.WithTrace(ctx, s.logger)
	fields := []zap.Field{
		zap.String("project_id", o.next.project.ID),
		zap.String("milestone_id", o.plan.MilestoneID),
		zap.String("amount", o.plan.Amount.String()),
		zap.Int("fragments", len(o.plan.Items)),
		zap.String("project_status", string(o.next.project.Status)),
	}
	if path == pathEmergency {
		log.Warn("Emergency escrow release executed", fields...)
		return
	}
	log.Info("Escrow released", fields...)
}

func (s *Store) releaseMirror(p *model.Project, milestoneID string, verify bool) []chain.EntryFunction {
	idx := milestoneIndex(p, milestoneID)
	return s.chainProjectFns(p, func(id string) []chain.EntryFunction {
		if verify {
			return []chain.EntryFunction{s.fns.VerifyMilestone(id, idx), s.fns.ReleaseMilestoneFunds(id, idx)}
		}
		return []chain.EntryFunction{s.fns.ReleaseMilestoneFunds(id, idx)}
	})
}

// ValidateFundRelease reports whether both release conditions hold for the milestone.
func (s *Store) ValidateFundRelease(_ context.Context, projectID, milestoneID string) release.Validation {
	pl, ok := s.get(projectID)
	if !ok {
		return release.NotFound()
	}
	return release.Validate(&pl.project, pl.donations, milestoneID)
}

// ImmediateReleaseFunds releases a milestone without the verifier condition.
// Escrow must still cover the milestone's original target exactly.
func (s *Store) ImmediateReleaseFunds(ctx context.Context, projectID, milestoneID, reason string) (res ReleaseResult) {
	defer func() { s.observe(ctx, "emergency_release", res.Err) }()
	if strings.TrimSpace(reason) == "" {
		return ReleaseResult{Result: failed(validationf("A reason is required for an emergency release"))}
	}

	unlock := s.locks.Lock(projectID)
	pl, ok := s.get(projectID)
	if !ok {
		unlock()
		return ReleaseResult{Result: failed(errProjectNotFound)}
	}
	if err := checkMutable(&pl.project); err != nil {
		unlock()
		return ReleaseResult{Result: failed(err)}
	}
	m := pl.project.Milestone(milestoneID)
	if m == nil {
		unlock()
		return ReleaseResult{Result: failed(errMilestoneNotFound)}
	}
	if v := release.ValidateEmergency(&pl.project, pl.donations, milestoneID); !v.IsValid {
		unlock()
		return ReleaseResult{Result: failed(validationf("%s", v.Message)), MilestoneID: milestoneID}
	}

	o, err := s.applyRelease(ctx, pl, milestoneID, s.now().UTC(), true, reason)
	if err == nil {
		err = s.commit(ctx, ledgerChange(o.next, o.event))
	}
	unlock()
	if err != nil {
		return ReleaseResult{Result: failed(err), MilestoneID: milestoneID}
	}

	s.logRelease(ctx, pathEmergency, o)
	s.appendPosts(ctx, feed.EmergencyRelease(&o.next.project, m, o.plan.Amount, reason))

	res = *o.result(fmt.Sprintf("Successfully released exactly %s for milestone %q", model.FormatMoney(o.plan.Amount), m.Title))
	s.mirror(ctx, &res.Result, s.releaseMirror(&o.next.project, milestoneID, false)...)
	return res
}

// RefreshFundRelease retries the release of a verified milestone, typically
// after more donations arrived.
func (s *Store) RefreshFundRelease(ctx context.Context, projectID, milestoneID string) (res ReleaseResult) {
	defer func() { s.observe(ctx, "refresh_release", res.Err) }()

	unlock := s.locks.Lock(projectID)
	pl, ok := s.get(projectID)
	if !ok {
		unlock()
		return ReleaseResult{Result: failed(errProjectNotFound)}
	}
	m := pl.project.Milestone(milestoneID)
	switch {
	case m == nil:
		unlock()
		return ReleaseResult{Result: failed(errMilestoneNotFound)}
	case m.EscrowReleased:
		unlock()
		return ReleaseResult{Result: failed(validationf("Funds already released for this milestone")), MilestoneID: milestoneID}
	case !m.IsCompleted:
		unlock()
		return ReleaseResult{Result: failed(validationf("Milestone must be completed before fund release")), MilestoneID: milestoneID}
	case m.VerificationStatus != model.VerificationVerified:
		unlock()
		return ReleaseResult{
			Result:      failed(validationf("Milestone not yet verified. Current approvals: %d/2 required", m.ApprovalCount())),
			MilestoneID: milestoneID,
		}
	}
	if err := checkMutable(&pl.project); err != nil {
		unlock()
		return ReleaseResult{Result: failed(err), MilestoneID: milestoneID}
	}
	v := release.Validate(&pl.project, pl.donations, milestoneID)
	if !v.IsValid {
		unlock()
		return ReleaseResult{Result: failed(validationf("%s", v.Message)), MilestoneID: milestoneID}
	}

	o, err := s.applyRelease(ctx, pl, milestoneID, s.now().UTC(), false, "")
	if err == nil {
		err = s.commit(ctx, ledgerChange(o.next, o.event))
	}
	unlock()
	if err != nil {
		return ReleaseResult{Result: failed(err), MilestoneID: milestoneID}
	}

	s.logRelease(ctx, pathNormal, o)
	s.appendPosts(ctx, feed.FundsReleased(&o.next.project, m, o.plan.Amount, v.VerifierCount))

	res = *o.result(fmt.Sprintf("Successfully released %s for milestone %q", model.FormatMoney(o.plan.Amount), m.Title))
	s.mirror(ctx, &res.Result, s.releaseMirror(&o.next.project, milestoneID, false)...)
	return res
}

// recheck runs queued release attempts. It releases only when both conditions
// hold and stays silent otherwise.
func (s *Store) recheck(ctx context.Context, projectID, milestoneID string) {
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("project_id", projectID),
		zap.String("milestone_id", milestoneID),
	)

	unlock := s.locks.Lock(projectID)
	pl, ok := s.get(projectID)
	if !ok {
		unlock()
		log.Warn("Dropping release recheck for unknown project")
		return
	}
	m := pl.project.Milestone(milestoneID)
	if m == nil || m.EscrowReleased || m.VerificationStatus != model.VerificationVerified || checkMutable(&pl.project) != nil {
		unlock()
		return
	}
	v := release.Validate(&pl.project, pl.donations, milestoneID)
	if !v.IsValid {
		unlock()
		log.Debug("Release recheck still blocked", zap.String("reason", v.Message))
		return
	}

	o, err := s.applyRelease(ctx, pl, milestoneID, s.now().UTC(), false, "")
	if err == nil {
		err = s.commit(ctx, ledgerChange(o.next, o.event))
	}
	unlock()
	s.observe(ctx, "recheck_release", err)
	if err != nil {
		return
	}

	s.logRelease(ctx, pathNormal, o)
	s.appendPosts(ctx, feed.FundsReleased(&o.next.project, m, o.plan.Amount, v.VerifierCount))

	var res Result
	s.mirror(ctx, &res, s.releaseMirror(&o.next.project, milestoneID, false)...)
}
