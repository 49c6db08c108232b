package ledger

import (
	"context"

	"go.uber.org/zap"

	"charityledger/internal/escrow"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
)

const (
	SourceLocal = "local"
	SourceChain = "chain"
)

type MilestoneOverview struct {
	ID                 string                   `json:"id"`
	Title              string                   `json:"title"`
	Target             model.Money              `json:"target"`
	Escrow             model.Money              `json:"escrow"`
	Released           model.Money              `json:"released"`
	VerificationStatus model.VerificationStatus `json:"verification_status"`
	EscrowReleased     bool                     `json:"escrow_released"`

	ChainCompleted         *bool `json:"chain_completed,omitempty"`
	ChainVerified          *bool `json:"chain_verified,omitempty"`
	ChainVerificationCount *int  `json:"chain_verification_count,omitempty"`
}

// Overview merges ledger totals with what the chain view functions report.
// Source is "local" whenever the chain figures are unavailable.
type Overview struct {
	ProjectID      string              `json:"project_id"`
	Title          string              `json:"title"`
	Status         model.ProjectStatus `json:"status"`
	TargetAmount   model.Money         `json:"target_amount"`
	TotalRaised    model.Money         `json:"total_raised"`
	TotalEscrow    model.Money         `json:"total_escrow"`
	TotalReleased  model.Money         `json:"total_released"`
	Milestones     []MilestoneOverview `json:"milestones"`
	Source         string              `json:"source"`
	ChainFunding   *model.Money        `json:"chain_funding,omitempty"`
	ChainTarget    *model.Money        `json:"chain_target,omitempty"`
	ChainCreator   string              `json:"chain_creator,omitempty"`
	ChainUnreached string              `json:"chain_unreached,omitempty"`
}

func (s *Store) Overview(ctx context.Context, projectID string) (Overview, error) {
	pl, ok := s.get(projectID)
	if !ok {
		return Overview{}, errProjectNotFound
	}

	p := &pl.project
	ov := Overview{
		ProjectID:     p.ID,
		Title:         p.Title,
		Status:        p.Status,
		TargetAmount:  p.TargetAmount,
		TotalRaised:   escrow.TotalRaised(pl.donations),
		TotalEscrow:   escrow.UnreleasedTotal(pl.donations),
		TotalReleased: escrow.TotalRaised(pl.donations).Sub(escrow.UnreleasedTotal(pl.donations)),
		Milestones:    make([]MilestoneOverview, 0, len(p.Milestones)),
		Source:        SourceLocal,
	}
	for _, m := range p.Milestones {
		ov.Milestones = append(ov.Milestones, MilestoneOverview{
			ID:                 m.ID,
			Title:              m.Title,
			Target:             m.OriginalFundingAmount,
			Escrow:             escrow.AttributedEscrow(p, pl.donations, m.ID),
			Released:           escrow.ReleasedFor(pl.donations, m.ID),
			VerificationStatus: m.VerificationStatus,
			EscrowReleased:     m.EscrowReleased,
		})
	}

	if s.viewer == nil || p.ChainProjectID == "" {
		return ov, nil
	}
	log := logger.WithTrace(ctx, s.logger).With(zap.String("project_id", p.ID), zap.String("chain_project_id", p.ChainProjectID))

	exists, err := s.viewer.ProjectExists(ctx, p.ChainProjectID)
	if err != nil {
		log.Warn("Chain view unavailable, serving local overview", zap.Error(err))
		ov.ChainUnreached = Message(upstreamErr("Chain view unavailable", err))
		return ov, nil
	}
	if !exists {
		return ov, nil
	}
	details, err := s.viewer.ProjectDetails(ctx, p.ChainProjectID)
	if err != nil {
		log.Warn("Chain project details unavailable", zap.Error(err))
		ov.ChainUnreached = Message(upstreamErr("Chain project details unavailable", err))
		return ov, nil
	}

	ov.Source = SourceChain
	ov.ChainFunding = &details.CurrentFunding
	ov.ChainTarget = &details.TotalFundingRequired
	ov.ChainCreator = details.Creator
	for i := range ov.Milestones {
		md, err := s.viewer.MilestoneDetails(ctx, p.ChainProjectID, i)
		if err != nil {
			log.Debug("Chain milestone details unavailable", zap.Int("milestone_index", i), zap.Error(err))
			continue
		}
		ov.Milestones[i].ChainCompleted = &md.IsCompleted
		ov.Milestones[i].ChainVerified = &md.IsVerified
		ov.Milestones[i].ChainVerificationCount = &md.VerificationCount
	}
	return ov, nil
}
