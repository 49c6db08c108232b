package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/escrow"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
)

// ValidateAndFixFundConsistency compares each milestone's release flag with
// the fragments actually released for it and flips the flag to match.
// Over-releases are reported but never repaired.
func (s *Store) ValidateAndFixFundConsistency(ctx context.Context, projectID string) (rep ConsistencyReport) {
	defer func() { s.observe(ctx, "consistency_repair", rep.Err) }()

	unlock := s.locks.Lock(projectID)
	defer unlock()

	pl, ok := s.get(projectID)
	if !ok {
		return ConsistencyReport{Issues: []string{"Project not found"}, Err: errProjectNotFound}
	}

	issues := []string{}
	next := pl.edit()
	changed := false
	for i := range next.project.Milestones {
		m := &next.project.Milestones[i]
		released := escrow.ReleasedFor(next.donations, m.ID)

		if released.GreaterThan(m.OriginalFundingAmount) {
			issues = append(issues, fmt.Sprintf("Milestone %q: Released %s exceeds target %s",
				m.Title, model.FormatMoney(released), model.FormatMoney(m.OriginalFundingAmount)))
		}
		// zero target milestones release nothing by definition
		if m.EscrowReleased && released.IsZero() && m.OriginalFundingAmount.IsPositive() {
			issues = append(issues, fmt.Sprintf("Milestone %q: Marked as released but no funds actually released", m.Title))
			m.EscrowReleased = false
			changed = true
		}
		if !m.EscrowReleased && released.IsPositive() && released.GreaterThanOrEqual(m.OriginalFundingAmount) {
			issues = append(issues, fmt.Sprintf("Milestone %q: Has sufficient releases but not marked as released", m.Title))
			m.EscrowReleased = true
			changed = true
		}
	}
	if !changed {
		return ConsistencyReport{Issues: issues}
	}

	now := s.now().UTC()
	next.project.UpdatedAt = now
	ev, err := encodeEvent(mqcontract.RoutingConsistencyRepaired, projectID, mqcontract.ConsistencyRepairedPayload{
		ProjectID: projectID,
		Issues:    issues,
		TraceID:   traceID(ctx),
	}, now)
	if err == nil {
		err = s.commit(ctx, ledgerChange(next, ev))
	}
	if err != nil {
		return ConsistencyReport{Issues: issues, Err: err}
	}

	logger.WithTrace(ctx, s.logger).Warn("Fund consistency repaired",
		zap.String("project_id", projectID),
		zap.Strings("issues", issues),
	)
	return ConsistencyReport{Issues: issues, Fixed: true}
}
