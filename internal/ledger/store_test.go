package ledger

import (
	"errors"
	"strings"
	"testing"
	"time"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/model"
	"charityledger/internal/repository"
)

func TestCreateProject(t *testing.T) {
	h := newHarness(t)
	p := h.project(25000, 10000)

	if !p.TargetAmount.Equal(money(35000)) {
		t.Fatalf("target = %s, want 35000", p.TargetAmount)
	}
	if p.Status != model.ProjectActive {
		t.Fatalf("status = %s, want active", p.Status)
	}
	for _, m := range p.Milestones {
		if !m.OriginalFundingAmount.Equal(m.FundingAmount) {
			t.Fatalf("original target %s != funding amount %s", m.OriginalFundingAmount, m.FundingAmount)
		}
		if m.VerificationStatus != model.VerificationPending {
			t.Fatalf("milestone status = %s, want pending", m.VerificationStatus)
		}
	}
	if n := h.events(mqcontract.RoutingProjectCreated); n != 1 {
		t.Fatalf("project created events = %d, want 1", n)
	}
	if got := len(h.posts(p.ID, model.PostProjectUpdate)); got != 1 {
		t.Fatalf("project posts = %d, want 1", got)
	}
	if got := len(h.store.GetActiveProjects()); got != 1 {
		t.Fatalf("active projects = %d, want 1", got)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	h := newHarness(t)

	cases := map[string]ProjectInput{
		"no milestones": {Title: "Empty", OrganizationID: "0xngo"},
		"no title":      func() ProjectInput { in := projectInput(10); in.Title = " "; return in }(),
		"negative":      projectInput(-5),
	}
	for name, in := range cases {
		res := h.store.CreateProject(h.ctx, in)
		if res.Success || !errors.Is(res.Err, ErrValidation) {
			t.Fatalf("%s: success = %v, err = %v, want validation error", name, res.Success, res.Err)
		}
	}
	if got := len(h.store.GetAllProjects()); got != 0 {
		t.Fatalf("projects = %d, want 0", got)
	}
}

func TestReleaseWithSurplusLeavesRemainderInEscrow(t *testing.T) {
	h := newHarness(t)
	p := h.project(25000, 10000)
	m1, m2 := p.Milestones[0].ID, p.Milestones[1].ID

	d := h.donate(p.ID, 30000)
	if d.MilestoneID != m1 {
		t.Fatalf("donation milestone = %s, want %s", d.MilestoneID, m1)
	}
	h.complete(p.ID, m1)

	first := h.approve(p.ID, m1, "0xv1")
	if first.Release != nil || first.Status != model.VerificationAwaiting {
		t.Fatalf("first approval: status = %s, release = %+v", first.Status, first.Release)
	}
	second := h.approve(p.ID, m1, "0xv2")
	if second.Status != model.VerificationVerified {
		t.Fatalf("status = %s, want verified", second.Status)
	}
	if second.Release == nil || !second.Release.Success {
		t.Fatalf("release = %+v, want success", second.Release)
	}
	if !second.Release.ReleasedAmount.Equal(money(25000)) {
		t.Fatalf("released = %s, want 25000", second.Release.ReleasedAmount)
	}
	if !strings.Contains(second.Message, "$25,000 released from escrow") {
		t.Fatalf("message = %q", second.Message)
	}

	if !h.milestone(p.ID, m1).EscrowReleased {
		t.Fatalf("milestone 1 not marked released")
	}
	if got := h.store.GetTotalReleasedForMilestone(p.ID, m1); !got.Equal(money(25000)) {
		t.Fatalf("released for m1 = %s, want 25000", got)
	}
	if got := h.store.GetTotalEscrowForMilestone(p.ID, m2); !got.Equal(money(5000)) {
		t.Fatalf("escrow for m2 = %s, want 5000", got)
	}
	if got := h.store.GetTotalRaisedForProject(p.ID); !got.Equal(money(30000)) {
		t.Fatalf("raised = %s, want 30000", got)
	}

	donations := h.store.GetEscrowDonationsForProject(p.ID)
	if len(donations) != 2 {
		t.Fatalf("fragments = %d, want 2", len(donations))
	}
	var remainder model.EscrowDonation
	for _, f := range donations {
		if !f.IsReleased {
			remainder = f
		}
	}
	if remainder.SplitFromID != d.Donation.ID || !remainder.Amount.Equal(money(5000)) {
		t.Fatalf("remainder = %+v", remainder)
	}
	if !remainder.Timestamp.Equal(d.Donation.Timestamp) {
		t.Fatalf("remainder timestamp = %v, want %v", remainder.Timestamp, d.Donation.Timestamp)
	}

	posts := h.posts(p.ID, model.PostFundRelease)
	if len(posts) != 1 || !posts[0].ReleaseAmount.Equal(money(25000)) {
		t.Fatalf("fund release posts = %+v", posts)
	}
	if n := h.events(mqcontract.RoutingFundsReleased); n != 1 {
		t.Fatalf("funds released events = %d, want 1", n)
	}
	if got, _ := h.store.GetProjectByID(p.ID); got.Status != model.ProjectActive {
		t.Fatalf("project status = %s, want active", got.Status)
	}
}

func TestInsufficientEscrowHoldsVerifiedMilestone(t *testing.T) {
	h := newHarness(t)
	p := h.project(25000)
	m1 := p.Milestones[0].ID

	h.donate(p.ID, 10000)
	h.complete(p.ID, m1)
	h.approve(p.ID, m1, "0xv1")
	res := h.approve(p.ID, m1, "0xv2")

	if res.Status != model.VerificationVerified {
		t.Fatalf("status = %s, want verified", res.Status)
	}
	if res.Release == nil || res.Release.Success || !errors.Is(res.Release.Err, ErrValidation) {
		t.Fatalf("release = %+v, want validation failure", res.Release)
	}
	v := h.store.ValidateFundRelease(h.ctx, p.ID, m1)
	if v.IsValid {
		t.Fatalf("validation passed with short escrow")
	}
	if !v.AvailableInEscrow.Equal(money(10000)) || !v.RequiredFunding.Equal(money(25000)) {
		t.Fatalf("available = %s, required = %s", v.AvailableInEscrow, v.RequiredFunding)
	}
	if !strings.Contains(v.Message, "$10,000 available in escrow, but milestone requires $25,000") {
		t.Fatalf("message = %q", v.Message)
	}
	if h.milestone(p.ID, m1).EscrowReleased {
		t.Fatalf("milestone released with short escrow")
	}
	if n := len(h.posts(p.ID, model.PostProjectUpdate)); n != 2 {
		t.Fatalf("project update posts = %d, want creation and pending release", n)
	}
	if n := h.events(mqcontract.RoutingReleaseBlocked); n != 1 {
		t.Fatalf("release blocked events = %d, want 1", n)
	}

	// the missing escrow arrives and the queued recheck releases it
	h.donate(p.ID, 15000)
	h.store.WaitIdle()

	if !h.milestone(p.ID, m1).EscrowReleased {
		t.Fatalf("milestone not released after escrow was topped up")
	}
	if got := h.store.GetTotalReleasedForMilestone(p.ID, m1); !got.Equal(money(25000)) {
		t.Fatalf("released = %s, want 25000", got)
	}
	if got, _ := h.store.GetProjectByID(p.ID); got.Status != model.ProjectCompleted {
		t.Fatalf("project status = %s, want completed", got.Status)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID

	h.donate(p.ID, 100)
	h.complete(p.ID, m1)
	h.approve(p.ID, m1, "0xv1")
	h.approve(p.ID, m1, "0xv2")
	before := h.store.GetEscrowDonationsForProject(p.ID)

	refresh := h.store.RefreshFundRelease(h.ctx, p.ID, m1)
	if refresh.Success || refresh.Message != "Funds already released for this milestone" {
		t.Fatalf("refresh = %+v", refresh.Result)
	}
	emergency := h.store.ImmediateReleaseFunds(h.ctx, p.ID, m1, "again")
	if emergency.Success || emergency.Message != "Funds already released for this milestone" {
		t.Fatalf("emergency = %+v", emergency.Result)
	}

	after := h.store.GetEscrowDonationsForProject(p.ID)
	if len(after) != len(before) {
		t.Fatalf("fragments changed from %d to %d", len(before), len(after))
	}
	if n := h.events(mqcontract.RoutingFundsReleased); n != 1 {
		t.Fatalf("funds released events = %d, want 1", n)
	}
}

func TestRefreshFundReleaseConditions(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID

	if res := h.store.RefreshFundRelease(h.ctx, p.ID, m1); res.Message != "Milestone must be completed before fund release" {
		t.Fatalf("message = %q", res.Message)
	}
	h.complete(p.ID, m1)
	h.approve(p.ID, m1, "0xv1")
	if res := h.store.RefreshFundRelease(h.ctx, p.ID, m1); res.Message != "Milestone not yet verified. Current approvals: 1/2 required" {
		t.Fatalf("message = %q", res.Message)
	}
	h.approve(p.ID, m1, "0xv2")

	h.donate(p.ID, 100)
	h.store.WaitIdle()
	if res := h.store.RefreshFundRelease(h.ctx, p.ID, m1); res.Message != "Funds already released for this milestone" {
		t.Fatalf("message = %q", res.Message)
	}
	if res := h.store.RefreshFundRelease(h.ctx, "missing", m1); res.Message != "Project not found" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestVerificationGuards(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID

	res := h.vote(p.ID, m1, "0xv1", model.VoteApproved)
	if res.Success || res.Message != "Milestone must be completed before verification" {
		t.Fatalf("vote before completion = %+v", res.Result)
	}

	h.complete(p.ID, m1)
	h.approve(p.ID, m1, "0xv1")
	res = h.vote(p.ID, m1, "0xv1", model.VoteRejected)
	if res.Success || res.Message != "You have already verified this milestone" {
		t.Fatalf("second vote = %+v", res.Result)
	}
	if h.store.CanUserVerify("0xv1", m1) {
		t.Fatalf("CanUserVerify = true after voting")
	}
	if !h.store.CanUserVerify("0xv2", m1) {
		t.Fatalf("CanUserVerify = false for new verifier")
	}
	if got := len(h.milestone(p.ID, m1).Verifications); got != 1 {
		t.Fatalf("verifications = %d, want 1", got)
	}

	h.clock.Advance(5*24*time.Hour + time.Second)
	res = h.vote(p.ID, m1, "0xv3", model.VoteApproved)
	if res.Success || res.Message != "Verification period has expired" {
		t.Fatalf("late vote = %+v", res.Result)
	}

	if res := h.vote(p.ID, m1, "0xv4", model.Vote("maybe")); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("invalid vote err = %v", res.Err)
	}
}

func TestRejectionIsTerminal(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID
	h.donate(p.ID, 100)
	h.complete(p.ID, m1)

	h.vote(p.ID, m1, "0xv1", model.VoteRejected)
	res := h.vote(p.ID, m1, "0xv2", model.VoteRejected)
	if res.Status != model.VerificationRejected {
		t.Fatalf("status = %s, want rejected", res.Status)
	}

	// later votes are recorded but cannot change a terminal status
	h.approve(p.ID, m1, "0xv3")
	res = h.approve(p.ID, m1, "0xv4")
	if res.Status != model.VerificationRejected || res.Approvals != 2 {
		t.Fatalf("status = %s approvals = %d, want rejected with 2", res.Status, res.Approvals)
	}
	if res.Release != nil || h.milestone(p.ID, m1).EscrowReleased {
		t.Fatalf("rejected milestone released funds")
	}
}

func TestFlowingEscrowAttribution(t *testing.T) {
	h := newHarness(t)
	p := h.project(100, 200)
	m1, m2 := p.Milestones[0].ID, p.Milestones[1].ID

	res := h.store.AddDonationToEscrow(h.ctx, p.ID, m2, money(50), "0xdonor", "Donor")
	if !res.Success {
		t.Fatalf("AddDonationToEscrow: %s", res.Message)
	}
	if got := h.store.GetTotalEscrowForMilestone(p.ID, m1); !got.Equal(money(50)) {
		t.Fatalf("escrow for active milestone = %s, want 50", got)
	}
	if got := h.store.GetTotalEscrowForMilestone(p.ID, m2); !got.IsZero() {
		t.Fatalf("escrow for later milestone = %s, want 0", got)
	}
	if got := h.store.GetTotalDonatedToMilestone(p.ID, m2); !got.Equal(money(50)) {
		t.Fatalf("donated to m2 = %s, want 50", got)
	}
	if got := len(h.store.GetEscrowByMilestone(p.ID, m2)); got != 1 {
		t.Fatalf("escrow by m2 = %d, want 1", got)
	}

	if res := h.store.AddDonationToEscrow(h.ctx, p.ID, "nope", money(1), "0xdonor", "Donor"); res.Message != "Milestone not found" {
		t.Fatalf("message = %q", res.Message)
	}
	if res := h.store.AddSmartDonation(h.ctx, p.ID, money(0), "0xdonor", "Donor"); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("zero donation err = %v", res.Err)
	}
}

func TestSmartDonationTargets(t *testing.T) {
	h := newHarness(t)
	p := h.project(100, 200)

	target := h.store.GetTargetMilestoneForDonation(p.ID)
	if target.Milestone == nil || target.Milestone.ID != p.Milestones[0].ID {
		t.Fatalf("target = %+v", target)
	}
	res := h.donate(p.ID, 300)
	if res.Message != `Donation of $300 added to "Phase 1"` {
		t.Fatalf("message = %q", res.Message)
	}

	target = h.store.GetTargetMilestoneForDonation(p.ID)
	if target.Milestone != nil || target.Reason != "Project has reached its funding goal" {
		t.Fatalf("target after goal = %+v", target)
	}
	if res := h.store.AddSmartDonation(h.ctx, p.ID, money(1), "0xdonor", "Donor"); res.Success {
		t.Fatalf("donation accepted after goal reached")
	}
	if got := h.store.GetTargetMilestoneForDonation("missing"); got.Reason != "Project not found" {
		t.Fatalf("reason = %q", got.Reason)
	}
}

func TestEmergencyRelease(t *testing.T) {
	h := newHarness(t)
	p := h.project(100, 200)
	m1, m2 := p.Milestones[0].ID, p.Milestones[1].ID
	h.donate(p.ID, 150)

	if res := h.store.ImmediateReleaseFunds(h.ctx, p.ID, m1, " "); !errors.Is(res.Err, ErrValidation) {
		t.Fatalf("missing reason err = %v", res.Err)
	}
	res := h.store.ImmediateReleaseFunds(h.ctx, p.ID, m2, "flood")
	if res.Success || !strings.Contains(res.Message, `Escrow is currently held for milestone "Phase 1"`) {
		t.Fatalf("non active release = %+v", res.Result)
	}

	res = h.store.ImmediateReleaseFunds(h.ctx, p.ID, m1, "flood")
	if !res.Success || !res.ReleasedAmount.Equal(money(100)) {
		t.Fatalf("emergency release = %+v", res)
	}
	if res.Message != `Successfully released exactly $100 for milestone "Phase 1"` {
		t.Fatalf("message = %q", res.Message)
	}
	posts := h.posts(p.ID, model.PostFundRelease)
	if len(posts) != 1 || posts[0].Title != "Emergency Fund Release: Phase 1" {
		t.Fatalf("posts = %+v", posts)
	}

	res = h.store.ImmediateReleaseFunds(h.ctx, p.ID, m2, "flood")
	if res.Success || res.Message != "Insufficient funds in project escrow: $50 available, but milestone requires $200" {
		t.Fatalf("short release = %+v", res.Result)
	}
	if got := h.store.GetTotalEscrowForMilestone(p.ID, m2); !got.Equal(money(50)) {
		t.Fatalf("escrow for m2 = %s, want 50", got)
	}
}

func TestZeroTargetMilestoneReleasesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.project(0, 100)
	m1 := p.Milestones[0].ID

	h.complete(p.ID, m1)
	h.approve(p.ID, m1, "0xv1")
	res := h.approve(p.ID, m1, "0xv2")
	if res.Release == nil || !res.Release.Success || !res.Release.ReleasedAmount.IsZero() {
		t.Fatalf("release = %+v", res.Release)
	}
	if !h.milestone(p.ID, m1).EscrowReleased {
		t.Fatalf("zero target milestone not marked released")
	}
	if rep := h.store.ValidateAndFixFundConsistency(h.ctx, p.ID); len(rep.Issues) != 0 {
		t.Fatalf("issues = %v, want none", rep.Issues)
	}
}

func TestCompletionRules(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID

	h.complete(p.ID, m1)
	m := h.milestone(p.ID, m1)
	if m.VerificationStatus != model.VerificationAwaiting || m.VerificationDeadline == nil {
		t.Fatalf("milestone after completion = %+v", m)
	}
	if want := t0.Add(5 * 24 * time.Hour); !m.VerificationDeadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", m.VerificationDeadline, want)
	}
	if res := h.store.CompleteMilestone(h.ctx, p.ID, m1, nil); res.Message != "Milestone is already completed" {
		t.Fatalf("message = %q", res.Message)
	}
	if res := h.store.CompleteMilestone(h.ctx, "missing", m1, nil); res.Message != "Project not found" {
		t.Fatalf("message = %q", res.Message)
	}
	if got := len(h.posts(p.ID, model.PostMilestoneCompletion)); got != 1 {
		t.Fatalf("completion posts = %d, want 1", got)
	}
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID
	h.donate(p.ID, 40)
	h.complete(p.ID, m1)
	postsBefore := len(h.store.GetAllPosts())

	h.repo.FailSaves(errors.New("disk full"))

	if res := h.store.AddSmartDonation(h.ctx, p.ID, money(60), "0xdonor", "Donor"); res.Success || !errors.Is(res.Err, ErrInternal) {
		t.Fatalf("donation during outage = %+v", res.Result)
	}
	if got := h.store.GetTotalRaisedForProject(p.ID); !got.Equal(money(40)) {
		t.Fatalf("raised = %s, want 40", got)
	}
	if res := h.vote(p.ID, m1, "0xv1", model.VoteApproved); res.Success || !errors.Is(res.Err, ErrInternal) {
		t.Fatalf("vote during outage = %+v", res.Result)
	}
	if !h.store.CanUserVerify("0xv1", m1) {
		t.Fatalf("verifier marked although the vote was not persisted")
	}
	if got := len(h.milestone(p.ID, m1).Verifications); got != 0 {
		t.Fatalf("verifications = %d, want 0", got)
	}
	if res := h.store.CreateProject(h.ctx, projectInput(10)); res.Success {
		t.Fatalf("project created during outage")
	}
	if got := len(h.store.GetAllProjects()); got != 1 {
		t.Fatalf("projects = %d, want 1", got)
	}
	if got := len(h.store.GetAllPosts()); got != postsBefore {
		t.Fatalf("posts = %d, want %d", got, postsBefore)
	}

	h.repo.FailSaves(nil)
	h.approve(p.ID, m1, "0xv1")
}

func TestCancelledProjectRejectsMutations(t *testing.T) {
	repo := seededRepo(t, func(snap *model.Snapshot) {
		snap.Projects[0].Status = model.ProjectCancelled
	})
	h := newHarnessWithRepo(t, repo)

	res := h.store.AddSmartDonation(h.ctx, "p1", money(10), "0xdonor", "Donor")
	if res.Success || res.Message != `Project "Clean Water" has been cancelled` {
		t.Fatalf("donation = %+v", res.Result)
	}
	if res := h.store.CompleteMilestone(h.ctx, "p1", "m1", nil); res.Success {
		t.Fatalf("completed a milestone of a cancelled project")
	}
}

func TestOpenBackfillsAndRestoresIndex(t *testing.T) {
	repo := seededRepo(t, func(snap *model.Snapshot) {
		snap.Projects[0].Milestones[0].OriginalFundingAmount = model.Zero
		snap.Projects[0].Milestones[0].VerificationStatus = ""
		snap.Projects[0].Milestones[0].Verifications = nil
		snap.UserVerifications = map[string][]string{"0xv1": {"m1"}}
		snap.EscrowDonations = append(snap.EscrowDonations, model.EscrowDonation{
			ID: "orphan", ProjectID: "gone", MilestoneID: "x", Amount: money(7), Timestamp: t0,
		})
	})
	h := newHarnessWithRepo(t, repo)

	m := h.milestone("p1", "m1")
	if !m.OriginalFundingAmount.Equal(money(100)) {
		t.Fatalf("original target = %s, want 100", m.OriginalFundingAmount)
	}
	if m.VerificationStatus != model.VerificationPending || m.Verifications == nil {
		t.Fatalf("milestone defaults = %+v", m)
	}
	if h.store.CanUserVerify("0xv1", "m1") {
		t.Fatalf("verifier index not restored")
	}

	// orphans survive the next save
	h.donate("p1", 10)
	snap, err := repo.Load(h.ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	found := false
	for _, d := range snap.EscrowDonations {
		if d.ID == "orphan" {
			found = true
		}
	}
	if !found {
		t.Fatalf("orphan donation dropped on save")
	}
}

func TestConsistencyRepair(t *testing.T) {
	repo := seededRepo(t, func(snap *model.Snapshot) {
		snap.Projects[0].Milestones[0].EscrowReleased = true
		snap.Projects[0].Milestones = append(snap.Projects[0].Milestones, model.Milestone{
			ID:                    "m2",
			Title:                 "Pipes",
			FundingAmount:         money(50),
			OriginalFundingAmount: money(50),
			VerificationStatus:    model.VerificationVerified,
			Verifications:         []model.Verification{},
		})
		snap.EscrowDonations = append(snap.EscrowDonations, model.EscrowDonation{
			ID: "d2", ProjectID: "p1", MilestoneID: "m2", Amount: money(50), Timestamp: t0,
			IsReleased: true, ReleasedForMilestoneID: "m2",
		})
	})
	h := newHarnessWithRepo(t, repo)

	rep := h.store.ValidateAndFixFundConsistency(h.ctx, "p1")
	if !rep.Fixed || len(rep.Issues) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(rep.Issues[0], "Marked as released but no funds actually released") {
		t.Fatalf("issue[0] = %q", rep.Issues[0])
	}
	if !strings.Contains(rep.Issues[1], "Has sufficient releases but not marked as released") {
		t.Fatalf("issue[1] = %q", rep.Issues[1])
	}
	if h.milestone("p1", "m1").EscrowReleased || !h.milestone("p1", "m2").EscrowReleased {
		t.Fatalf("flags not repaired")
	}
	if n := h.events(mqcontract.RoutingConsistencyRepaired); n != 1 {
		t.Fatalf("repair events = %d, want 1", n)
	}

	rep = h.store.ValidateAndFixFundConsistency(h.ctx, "p1")
	if rep.Fixed || len(rep.Issues) != 0 {
		t.Fatalf("second pass = %+v, want clean", rep)
	}
	if rep := h.store.ValidateAndFixFundConsistency(h.ctx, "missing"); rep.Err == nil {
		t.Fatalf("expected error for unknown project")
	}
}

func TestRecordChainDonationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	in := projectInput(100)
	in.ChainProjectID = "7"
	created := h.store.CreateProject(h.ctx, in)
	p := created.Project

	first := h.store.RecordChainDonation(h.ctx, "0xABC", "7", money(30), "0xdonor", "Donor")
	if !first.Success || first.Donation.ID != "chain-0xabc" {
		t.Fatalf("first = %+v", first)
	}
	second := h.store.RecordChainDonation(h.ctx, "0xabc", p.ID, money(30), "0xdonor", "Donor")
	if !second.Success || second.Message != "Donation already recorded" {
		t.Fatalf("second = %+v", second.Result)
	}
	if got := h.store.GetTotalRaisedForProject(p.ID); !got.Equal(money(30)) {
		t.Fatalf("raised = %s, want 30", got)
	}
	if n := h.events(mqcontract.RoutingDonationRecorded); n != 1 {
		t.Fatalf("donation events = %d, want 1", n)
	}
	if res := h.store.RecordChainDonation(h.ctx, "0xdef", "404", money(1), "0xdonor", "Donor"); res.Message != "Project not found" {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestProjectStatsAndAwaiting(t *testing.T) {
	h := newHarness(t)
	a := h.project(100)
	b := h.project(50, 50)
	h.donate(a.ID, 100)
	h.donate(b.ID, 30)
	h.complete(a.ID, a.Milestones[0].ID)
	h.complete(b.ID, b.Milestones[0].ID)
	h.approve(a.ID, a.Milestones[0].ID, "0xv1")
	h.approve(a.ID, a.Milestones[0].ID, "0xv2")

	st := h.store.GetProjectStats()
	if st.TotalProjects != 2 || st.ActiveProjects != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if !st.TotalReleased.Equal(money(100)) || !st.TotalEscrow.Equal(money(30)) {
		t.Fatalf("released = %s, escrow = %s", st.TotalReleased, st.TotalEscrow)
	}
	if st.AwaitingVerification != 1 {
		t.Fatalf("awaiting = %d, want 1", st.AwaitingVerification)
	}
	awaiting := h.store.GetMilestonesAwaitingVerification()
	if len(awaiting) != 1 || awaiting[0].Project.ID != b.ID {
		t.Fatalf("awaiting = %+v", awaiting)
	}

	h.clock.Advance(6 * 24 * time.Hour)
	if got := len(h.store.GetMilestonesAwaitingVerification()); got != 0 {
		t.Fatalf("awaiting after deadline = %d, want 0", got)
	}
}

func seededRepo(t *testing.T, edit func(*model.Snapshot)) *repository.Memory {
	t.Helper()
	snap := &model.Snapshot{
		Projects: []model.Project{{
			ID:             "p1",
			Title:          "Clean Water",
			OrganizationID: "0xngo",
			TargetAmount:   money(100),
			Status:         model.ProjectActive,
			CreatedAt:      t0,
			UpdatedAt:      t0,
			Milestones: []model.Milestone{{
				ID:                    "m1",
				Title:                 "Drill",
				FundingAmount:         money(100),
				OriginalFundingAmount: money(100),
				VerificationStatus:    model.VerificationPending,
				Verifications:         []model.Verification{},
			}},
		}},
		EscrowDonations:   []model.EscrowDonation{},
		UserVerifications: map[string][]string{},
	}
	edit(snap)
	repo := repository.NewMemory()
	if err := repo.Save(t.Context(), snap, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}
