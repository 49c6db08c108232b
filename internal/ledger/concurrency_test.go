package ledger

import (
	"fmt"
	"sync"
	"testing"

	mqcontract "charityledger/contracts/mq"
	"charityledger/internal/model"
)

func TestConcurrentVerificationsReleaseOnce(t *testing.T) {
	h := newHarness(t)
	p := h.project(100, 100)
	m1 := p.Milestones[0].ID
	h.donate(p.ID, 150)
	h.complete(p.ID, m1)

	var wg sync.WaitGroup
	results := make([]VerificationResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.store.AddMilestoneVerification(h.ctx, VerificationInput{
				ProjectID:   p.ID,
				MilestoneID: m1,
				VerifierID:  fmt.Sprintf("0xv%d", i),
				Status:      model.VoteApproved,
			})
		}(i)
	}
	wg.Wait()

	releases := 0
	for i, res := range results {
		if !res.Success {
			t.Fatalf("vote %d failed: %s", i, res.Message)
		}
		if res.Release != nil && res.Release.Success {
			releases++
		}
	}
	if releases != 1 {
		t.Fatalf("successful releases = %d, want 1", releases)
	}
	if n := h.events(mqcontract.RoutingFundsReleased); n != 1 {
		t.Fatalf("funds released events = %d, want 1", n)
	}
	if got := h.store.GetTotalReleasedForMilestone(p.ID, m1); !got.Equal(money(100)) {
		t.Fatalf("released = %s, want 100", got)
	}
	if got := h.store.GetTotalRaisedForProject(p.ID); !got.Equal(money(150)) {
		t.Fatalf("raised = %s, want 150", got)
	}
	if got := len(h.milestone(p.ID, m1).Verifications); got != 10 {
		t.Fatalf("verifications = %d, want 10", got)
	}
}

func TestConcurrentVotesBySameVerifier(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	m1 := p.Milestones[0].ID
	h.complete(p.ID, m1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.vote(p.ID, m1, "0xsame", model.VoteApproved)
			if res.Success {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted votes = %d, want 1", accepted)
	}
}

func TestConcurrentDonationsAreAllRecorded(t *testing.T) {
	h := newHarness(t)
	a := h.project(1000)
	b := h.project(1000)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			projectID := a.ID
			if i%2 == 1 {
				projectID = b.ID
			}
			if res := h.store.AddSmartDonation(h.ctx, projectID, money(10), "0xdonor", "Donor"); !res.Success {
				t.Errorf("donation %d: %s", i, res.Message)
			}
		}(i)
	}
	wg.Wait()

	if got := h.store.GetTotalRaisedForProject(a.ID); !got.Equal(money(250)) {
		t.Fatalf("raised a = %s, want 250", got)
	}
	if got := h.store.GetTotalRaisedForProject(b.ID); !got.Equal(money(250)) {
		t.Fatalf("raised b = %s, want 250", got)
	}

	// the persisted snapshot matches memory
	snap, err := h.repo.Load(h.ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.EscrowDonations) != 50 {
		t.Fatalf("persisted donations = %d, want 50", len(snap.EscrowDonations))
	}
}

func TestConcurrentLikesAreNotLost(t *testing.T) {
	h := newHarness(t)
	p := h.project(100)
	post := h.posts(p.ID, model.PostProjectUpdate)[0]

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.store.LikePost(h.ctx, post.ID); err != nil {
				t.Errorf("LikePost: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := h.posts(p.ID, model.PostProjectUpdate)[0].Likes; got != 20 {
		t.Fatalf("likes = %d, want 20", got)
	}
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("p1")
	done := make(chan struct{})
	go func() {
		u := k.Lock("p1")
		u()
		close(done)
	}()
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.locks) != 0 {
		t.Fatalf("locks = %d, want 0", len(k.locks))
	}
}
