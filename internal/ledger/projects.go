package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/chain"
	"charityledger/internal/feed"
	"charityledger/internal/model"
	"charityledger/internal/verification"
	"charityledger/pkg/logger"
)

func validateProjectInput(in ProjectInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf("Project title is required")
	}
	if strings.TrimSpace(in.OrganizationID) == "" {
		return validationf("Organization id is required")
	}
	if len(in.Milestones) == 0 {
		return validationf("Project needs at least one milestone")
	}
	for i, m := range in.Milestones {
		if strings.TrimSpace(m.Title) == "" {
			return validationf("Milestone %d title is required", i+1)
		}
		if m.FundingAmount.IsNegative() {
			return validationf("Milestone %q funding amount must not be negative", m.Title)
		}
	}
	return nil
}

// CreateProject registers a project and its milestones. TargetAmount is the
// sum of the milestone targets and never changes afterwards.
func (s *Store) CreateProject(ctx context.Context, in ProjectInput) (res ProjectResult) {
	defer func() { s.observe(ctx, "create_project", res.Err) }()

	if err := validateProjectInput(in); err != nil {
		return ProjectResult{Result: failed(err)}
	}

	now := s.now().UTC()
	p := model.Project{
		ID:               s.newID(),
		Title:            in.Title,
		Description:      in.Description,
		OrganizationID:   in.OrganizationID,
		OrganizationName: in.OrganizationName,
		Location:         in.Location,
		TargetAmount:     model.Zero,
		Milestones:       make([]model.Milestone, 0, len(in.Milestones)),
		Images:           copyImages(in.Images),
		Status:           model.ProjectActive,
		CreatedAt:        now,
		ChainProjectID:   in.ChainProjectID,
		UpdatedAt:        now,
	}
	milestoneIDs := make([]string, 0, len(in.Milestones))
	for _, mi := range in.Milestones {
		m := model.Milestone{
			ID:                    s.newID(),
			Title:                 mi.Title,
			Description:           mi.Description,
			DueDate:               mi.DueDate,
			FundingAmount:         mi.FundingAmount,
			OriginalFundingAmount: mi.FundingAmount,
			VerificationStatus:    model.VerificationPending,
			Verifications:         []model.Verification{},
		}
		p.TargetAmount = p.TargetAmount.Add(m.OriginalFundingAmount)
		p.Milestones = append(p.Milestones, m)
		milestoneIDs = append(milestoneIDs, m.ID)
	}

	ev, err := encodeEvent(mqcontract.RoutingProjectCreated, p.ID, mqcontract.ProjectCreatedPayload{
		ProjectID:      p.ID,
		OrganizationID: p.OrganizationID,
		Title:          p.Title,
		TargetAmount:   p.TargetAmount.String(),
		MilestoneIDs:   milestoneIDs,
		CreatedAt:      now,
		TraceID:        traceID(ctx),
	}, now)
	if err != nil {
		return ProjectResult{Result: failed(err)}
	}

	pl := &projectLedger{project: p}
	c := ledgerChange(pl, ev)
	c.created = []string{p.ID}
	if err := s.commit(ctx, c); err != nil {
		return ProjectResult{Result: failed(err)}
	}

	logger.WithTrace(ctx, s.logger).Info("Project created",
		zap.String("project_id", p.ID),
		zap.String("organization_id", p.OrganizationID),
		zap.String("target_amount", p.TargetAmount.String()),
		zap.Int("milestones", len(p.Milestones)),
	)
	s.appendPosts(ctx, feed.ProjectCreated(&p))

	res = ProjectResult{Result: succeeded(fmt.Sprintf("Project %q created with target %s", p.Title, model.FormatMoney(p.TargetAmount)))}
	if s.submitter != nil {
		s.mirror(ctx, &res.Result, s.fns.CreateProject(p.Title, p.Description, p.TargetAmount))
	}
	out := p.Clone()
	res.Project = &out
	return res
}

// CompleteMilestone records the NGO's completion report and opens the
// verification window.
func (s *Store) CompleteMilestone(ctx context.Context, projectID, milestoneID string, images []model.ProjectImage) (res Result) {
	defer func() { s.observe(ctx, "complete_milestone", res.Err) }()

	unlock := s.locks.Lock(projectID)
	pl, ok := s.get(projectID)
	if !ok {
		unlock()
		return failed(errProjectNotFound)
	}
	if err := checkMutable(&pl.project); err != nil {
		unlock()
		return failed(err)
	}
	if pl.project.Milestone(milestoneID) == nil {
		unlock()
		return failed(errMilestoneNotFound)
	}
	if pl.project.Milestone(milestoneID).IsCompleted {
		unlock()
		return failed(validationf("Milestone is already completed"))
	}

	now := s.now().UTC()
	next := pl.edit()
	m := next.project.Milestone(milestoneID)
	deadline := verification.Deadline(now)
	m.IsCompleted = true
	m.CompletionDate = &now
	m.CompletionImages = copyImages(images)
	m.VerificationStatus = model.VerificationAwaiting
	m.VerificationDeadline = &deadline
	next.project.UpdatedAt = now

	ev, err := encodeEvent(mqcontract.RoutingMilestoneCompleted, projectID, mqcontract.MilestoneCompletedPayload{
		ProjectID:            projectID,
		MilestoneID:          milestoneID,
		CompletedAt:          now,
		VerificationDeadline: deadline,
		TraceID:              traceID(ctx),
	}, now)
	if err == nil {
		err = s.commit(ctx, ledgerChange(next, ev))
	}
	unlock()
	if err != nil {
		return failed(err)
	}

	logger.WithTrace(ctx, s.logger).Info("Milestone completed",
		zap.String("project_id", projectID),
		zap.String("milestone_id", milestoneID),
		zap.Time("verification_deadline", deadline),
	)
	s.appendPosts(ctx, feed.MilestoneCompleted(&next.project, m))

	res = succeeded(fmt.Sprintf("Milestone %q marked as completed. Community verification is open until %s",
		m.Title, deadline.Format("2006-01-02 15:04 MST")))
	idx := milestoneIndex(&next.project, milestoneID)
	s.mirror(ctx, &res, s.chainProjectFns(&next.project, func(id string) []chain.EntryFunction {
		return []chain.EntryFunction{s.fns.CompleteMilestone(id, idx)}
	})...)
	return res
}

// checkMutable rejects mutations of cancelled projects.
func checkMutable(p *model.Project) error {
	if p.Status == model.ProjectCancelled {
		return validationf("Project %q has been cancelled", p.Title)
	}
	return nil
}
