package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/chain"
	"charityledger/internal/escrow"
	"charityledger/internal/feed"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
	"charityledger/pkg/metrics"
)

type donationRequest struct {
	projectID   string
	milestoneID string // empty picks the active milestone
	id          string // preset for donations observed on chain
	amount      model.Money
	donorID     string
	donorName   string
	mirror      bool
}

// AddDonationToEscrow places a donation in escrow attributed to milestoneID.
// The funds still flow to whichever milestone is active when released.
func (s *Store) AddDonationToEscrow(ctx context.Context, projectID, milestoneID string, amount model.Money, donorID, donorName string) (res DonationResult) {
	defer func() { s.observe(ctx, "add_donation", res.Err) }()
	if milestoneID == "" {
		return DonationResult{Result: failed(errMilestoneNotFound)}
	}
	return s.donate(ctx, donationRequest{
		projectID:   projectID,
		milestoneID: milestoneID,
		amount:      amount,
		donorID:     donorID,
		donorName:   donorName,
		mirror:      true,
	})
}

// AddSmartDonation routes a donation to the project's active milestone.
func (s *Store) AddSmartDonation(ctx context.Context, projectID string, amount model.Money, donorID, donorName string) (res DonationResult) {
	defer func() { s.observe(ctx, "smart_donation", res.Err) }()
	return s.donate(ctx, donationRequest{
		projectID: projectID,
		amount:    amount,
		donorID:   donorID,
		donorName: donorName,
		mirror:    true,
	})
}

// RecordChainDonation books a donate_to_project transaction observed on chain.
// projectRef is either the ledger project id or its chain project id. The
// donation id derives from txHash, so redelivered events are no-ops.
func (s *Store) RecordChainDonation(ctx context.Context, txHash, projectRef string, amount model.Money, donorID, donorName string) (res DonationResult) {
	defer func() { s.observe(ctx, "chain_donation", res.Err) }()
	if strings.TrimSpace(txHash) == "" {
		return DonationResult{Result: failed(validationf("Transaction hash is required"))}
	}
	projectID, ok := s.resolveProject(projectRef)
	if !ok {
		return DonationResult{Result: failed(errProjectNotFound)}
	}
	return s.donate(ctx, donationRequest{
		projectID: projectID,
		id:        ChainDonationID(txHash),
		amount:    amount,
		donorID:   donorID,
		donorName: donorName,
	})
}

// ChainDonationID is the escrow id used for a donation seen in transaction txHash.
func ChainDonationID(txHash string) string {
	return "chain-" + strings.ToLower(txHash)
}

func (s *Store) resolveProject(ref string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ledgers[ref]; ok {
		return ref, true
	}
	for _, id := range s.order {
		if ref != "" && s.ledgers[id].project.ChainProjectID == ref {
			return id, true
		}
	}
	return "", false
}

func (s *Store) donate(ctx context.Context, req donationRequest) DonationResult {
	if !req.amount.IsPositive() {
		return DonationResult{Result: failed(validationf("Donation amount must be greater than zero"))}
	}
	if strings.TrimSpace(req.donorID) == "" {
		return DonationResult{Result: failed(validationf("Donor id is required"))}
	}

	unlock := s.locks.Lock(req.projectID)
	pl, ok := s.get(req.projectID)
	if !ok {
		unlock()
		return DonationResult{Result: failed(errProjectNotFound)}
	}
	if err := checkMutable(&pl.project); err != nil {
		unlock()
		return DonationResult{Result: failed(err)}
	}
	if req.id != "" {
		if i := slices.IndexFunc(pl.donations, func(d model.EscrowDonation) bool { return d.ID == req.id }); i >= 0 {
			unlock()
			existing := pl.donations[i]
			return DonationResult{
				Result:      succeeded("Donation already recorded"),
				Donation:    &existing,
				MilestoneID: existing.MilestoneID,
			}
		}
	}

	var target *model.Milestone
	if req.milestoneID == "" {
		t := escrow.TargetForDonation(&pl.project, pl.donations)
		if !t.OK() {
			unlock()
			return DonationResult{Result: failed(validationf("%s", t.Reason))}
		}
		target = t.Milestone
	} else if target = pl.project.Milestone(req.milestoneID); target == nil {
		unlock()
		return DonationResult{Result: failed(errMilestoneNotFound)}
	}

	now := s.now().UTC()
	d := model.EscrowDonation{
		ID:          req.id,
		DonorID:     req.donorID,
		DonorName:   req.donorName,
		ProjectID:   req.projectID,
		MilestoneID: target.ID,
		Amount:      req.amount,
		Timestamp:   now,
	}
	if d.ID == "" {
		d.ID = s.newID()
	}
	next := &projectLedger{project: pl.project, donations: append(slices.Clip(pl.donations), d)}

	ev, err := encodeEvent(mqcontract.RoutingDonationRecorded, req.projectID, mqcontract.DonationRecordedPayload{
		DonationID:  d.ID,
		ProjectID:   req.projectID,
		MilestoneID: target.ID,
		DonorID:     d.DonorID,
		Amount:      d.Amount.String(),
		RecordedAt:  now,
		TraceID:     traceID(ctx),
	}, now)
	if err == nil {
		err = s.commit(ctx, ledgerChange(next, ev))
	}
	unlock()
	if err != nil {
		return DonationResult{Result: failed(err)}
	}

	metrics.AddDonation(d.Amount.InexactFloat64())
	logger.WithTrace(ctx, s.logger).Info("Donation placed in escrow",
		zap.String("project_id", req.projectID),
		zap.String("milestone_id", target.ID),
		zap.String("donation_id", d.ID),
		zap.String("amount", d.Amount.String()),
	)
	s.appendPosts(ctx, feed.DonationReceived(&next.project, target, d))

	msg := fmt.Sprintf("Donation of %s added to %q", model.FormatMoney(d.Amount), target.Title)
	if req.milestoneID != "" {
		msg = fmt.Sprintf("Donation of %s added to escrow for milestone %q", model.FormatMoney(d.Amount), target.Title)
	}
	res := DonationResult{
		Result:        succeeded(msg),
		Donation:      &d,
		MilestoneID:   target.ID,
		MilestoneName: target.Title,
	}
	if req.mirror {
		s.mirror(ctx, &res.Result, s.chainProjectFns(&next.project, func(id string) []chain.EntryFunction {
			return []chain.EntryFunction{s.fns.DonateToProject(id, d.Amount)}
		})...)
	}

	// a verified milestone waiting for escrow may now be fundable
	if active := escrow.ActiveMilestone(&next.project); active != nil &&
		active.VerificationStatus == model.VerificationVerified && !active.EscrowReleased {
		s.rechecker.Enqueue(ctx, req.projectID, active.ID)
	}
	return res
}
