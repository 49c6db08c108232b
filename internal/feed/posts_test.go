package feed

import (
	"strings"
	"testing"
	"time"

	"charityledger/internal/model"
)

func fixture() (*model.Project, *model.Milestone) {
	p := &model.Project{
		ID:               "p1",
		Title:            "Clean Water",
		OrganizationID:   "0xngo",
		OrganizationName: "Water NGO",
		Milestones: []model.Milestone{
			{ID: "m1", Title: "Survey", OriginalFundingAmount: model.NewMoney(25000)},
		},
	}
	return p, &p.Milestones[0]
}

func TestPostTypesAndAuthors(t *testing.T) {
	p, m := fixture()
	v := model.Verification{VerifierID: "0xv1", VerifierName: "Ana", Status: model.VoteApproved, Comments: "looks good"}
	d := model.EscrowDonation{DonorID: "0xd1", DonorName: "Bo", Amount: model.NewMoney(500)}

	tests := []struct {
		name   string
		post   model.CommunityPost
		typ    model.PostType
		role   model.AuthorRole
		author string
	}{
		{"project", ProjectCreated(p), model.PostProjectUpdate, model.RoleNGO, "0xngo"},
		{"completion", MilestoneCompleted(p, m), model.PostMilestoneCompletion, model.RoleNGO, "0xngo"},
		{"verification", VerificationRecorded(p, m, v), model.PostVerification, model.RoleVerifier, "0xv1"},
		{"release", FundsReleased(p, m, model.NewMoney(25000), 2), model.PostFundRelease, model.RoleNGO, "0xngo"},
		{"emergency", EmergencyRelease(p, m, model.NewMoney(25000), "flood"), model.PostFundRelease, model.RoleNGO, "0xngo"},
		{"blocked", ReleaseBlocked(p, m, 2, "short"), model.PostProjectUpdate, model.RoleNGO, "0xngo"},
		{"donation", DonationReceived(p, m, d), model.PostDonation, model.RoleDonor, "0xd1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.post.Type != tt.typ || tt.post.AuthorRole != tt.role || tt.post.AuthorID != tt.author {
				t.Fatalf("got type=%s role=%s author=%s", tt.post.Type, tt.post.AuthorRole, tt.post.AuthorID)
			}
			if !tt.post.Type.Valid() || !tt.post.AuthorRole.Valid() {
				t.Fatalf("invalid enum in %+v", tt.post)
			}
			if tt.post.ProjectID != "p1" || tt.post.Comments == nil {
				t.Fatalf("unexpected base fields %+v", tt.post)
			}
		})
	}
}

func TestFundsReleasedCarriesExactAmount(t *testing.T) {
	p, m := fixture()
	post := FundsReleased(p, m, model.NewMoney(25000), 2)
	if post.ReleaseAmount == nil || !post.ReleaseAmount.Equal(model.NewMoney(25000)) {
		t.Fatalf("release amount = %v, want 25000", post.ReleaseAmount)
	}
	if !strings.Contains(post.Content, "exactly $25,000") {
		t.Fatalf("unexpected content %q", post.Content)
	}

	emergency := EmergencyRelease(p, m, model.NewMoney(25000), "flood damage")
	if !strings.HasSuffix(emergency.Content, "Reason: flood damage") {
		t.Fatalf("emergency content = %q", emergency.Content)
	}
}

func TestSortNewestFirstAndByProject(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	posts := []model.CommunityPost{
		{ID: "a", ProjectID: "p1", Timestamp: at},
		{ID: "b", ProjectID: "p2", Timestamp: at.Add(2 * time.Hour)},
		{ID: "c", ProjectID: "p1", Timestamp: at.Add(time.Hour)},
	}
	SortNewestFirst(posts)
	if posts[0].ID != "b" || posts[1].ID != "c" || posts[2].ID != "a" {
		t.Fatalf("unexpected order %s %s %s", posts[0].ID, posts[1].ID, posts[2].ID)
	}
	p1 := ByProject(posts, "p1")
	if len(p1) != 2 || p1[0].ID != "c" {
		t.Fatalf("ByProject = %+v", p1)
	}
	if got := ByProject(posts, "none"); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}
}
