package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"charityledger/internal/chain"
	"charityledger/internal/model"
	"charityledger/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *Store
	repo  *repository.Memory
	clock *testClock
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%04d", n.Add(1)) }
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithRepo(t, repository.NewMemory(), opts...)
}

func newHarnessWithRepo(t *testing.T, repo *repository.Memory, opts ...Option) *harness {
	t.Helper()
	clock := &testClock{now: t0}
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
		WithBackendName(repo.Name()),
	}
	s := New(repo, zaptest.NewLogger(t), append(base, opts...)...)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return &harness{t: t, ctx: context.Background(), store: s, repo: repo, clock: clock}
}

func projectInput(targets ...int64) ProjectInput {
	in := ProjectInput{
		Title:            "Clean Water",
		Description:      "Wells for the valley",
		OrganizationID:   "0xngo",
		OrganizationName: "Water NGO",
		Location:         "Valley",
	}
	for i, amount := range targets {
		in.Milestones = append(in.Milestones, MilestoneInput{
			Title:         fmt.Sprintf("Phase %d", i+1),
			Description:   "work",
			DueDate:       t0.AddDate(0, i+1, 0),
			FundingAmount: model.NewMoney(amount),
		})
	}
	return in
}

func (h *harness) project(targets ...int64) model.Project {
	h.t.Helper()
	res := h.store.CreateProject(h.ctx, projectInput(targets...))
	if !res.Success {
		h.t.Fatalf("CreateProject: %s", res.Message)
	}
	return *res.Project
}

func (h *harness) donate(projectID string, amount int64) DonationResult {
	h.t.Helper()
	res := h.store.AddSmartDonation(h.ctx, projectID, model.NewMoney(amount), "0xdonor", "Donor")
	if !res.Success {
		h.t.Fatalf("AddSmartDonation(%d): %s", amount, res.Message)
	}
	h.clock.Advance(time.Minute)
	return res
}

func (h *harness) complete(projectID, milestoneID string) {
	h.t.Helper()
	if res := h.store.CompleteMilestone(h.ctx, projectID, milestoneID, nil); !res.Success {
		h.t.Fatalf("CompleteMilestone: %s", res.Message)
	}
}

func (h *harness) vote(projectID, milestoneID, verifier string, v model.Vote) VerificationResult {
	h.t.Helper()
	return h.store.AddMilestoneVerification(h.ctx, VerificationInput{
		ProjectID:    projectID,
		MilestoneID:  milestoneID,
		VerifierID:   verifier,
		VerifierName: "Verifier " + verifier,
		Status:       v,
		Comments:     "checked on site",
	})
}

func (h *harness) approve(projectID, milestoneID, verifier string) VerificationResult {
	h.t.Helper()
	res := h.vote(projectID, milestoneID, verifier, model.VoteApproved)
	if !res.Success {
		h.t.Fatalf("approve by %s: %s", verifier, res.Message)
	}
	return res
}

func (h *harness) milestone(projectID, milestoneID string) model.Milestone {
	h.t.Helper()
	p, ok := h.store.GetProjectByID(projectID)
	if !ok {
		h.t.Fatalf("project %s not found", projectID)
	}
	m := p.Milestone(milestoneID)
	if m == nil {
		h.t.Fatalf("milestone %s not found", milestoneID)
	}
	return *m
}

func (h *harness) posts(projectID string, typ model.PostType) []model.CommunityPost {
	var out []model.CommunityPost
	for _, p := range h.store.GetPostsByProject(projectID) {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func (h *harness) events(routingKey string) int {
	n := 0
	for _, ev := range h.repo.Events() {
		if ev.RoutingKey == routingKey {
			n++
		}
	}
	return n
}

func money(units int64) model.Money { return model.NewMoney(units) }

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []chain.EntryFunction
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, fn chain.EntryFunction) (chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fn)
	if f.err != nil {
		return chain.Receipt{}, f.err
	}
	return chain.Receipt{Hash: fmt.Sprintf("0xtx%d", len(f.calls)), Function: fn.Function}, nil
}

func (f *fakeSubmitter) functions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Function)
	}
	return out
}

func (f *fakeSubmitter) last() chain.EntryFunction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeViewer struct {
	exists    bool
	existsErr error
	details   chain.ProjectDetails
	milestone chain.MilestoneDetails
}

func (f fakeViewer) ProjectExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f fakeViewer) ProjectDetails(context.Context, string) (chain.ProjectDetails, error) {
	return f.details, nil
}

func (f fakeViewer) ProjectCount(context.Context) (int, error) { return 1, nil }

func (f fakeViewer) MilestoneDetails(context.Context, string, int) (chain.MilestoneDetails, error) {
	return f.milestone, nil
}

func (f fakeViewer) MilestoneCount(context.Context, string) (int, error) { return 1, nil }
