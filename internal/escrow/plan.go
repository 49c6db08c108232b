package escrow

import (
	"errors"
	"fmt"
	"sort"

	"charityledger/internal/model"
)

var (
	// ErrReleaseMismatch means the unreleased fragments cannot cover the amount exactly.
	ErrReleaseMismatch = errors.New("release amount mismatch")
	// ErrNegativeAmount means a stored fragment or a target carries a negative amount.
	ErrNegativeAmount = errors.New("negative amount in escrow")
)

// Item is one fragment consumed by a release. Split items release only part of
// the donation; the rest is carried forward in a new unreleased remainder.
type Item struct {
	DonationID string
	Amount     model.Money
	Split      bool
}

// Plan describes an exact release for one milestone. It is computed without
// touching the ledger and applied with Apply.
type Plan struct {
	MilestoneID string
	Amount      model.Money
	Items       []Item
}

// Released sums the amounts of all planned items.
func (p Plan) Released() model.Money {
	total := model.Zero
	for _, it := range p.Items {
		total = total.Add(it.Amount)
	}
	return total
}

// PlanRelease walks unreleased fragments oldest first and releases whole
// fragments until the next one would overshoot; that one is split.
func PlanRelease(donations []model.EscrowDonation, milestoneID string, amount model.Money) (Plan, error) {
	plan := Plan{MilestoneID: milestoneID, Amount: amount}
	if amount.IsNegative() {
		return plan, fmt.Errorf("%w: target %s", ErrNegativeAmount, amount)
	}

	pending := make([]model.EscrowDonation, 0, len(donations))
	for _, d := range donations {
		if d.IsReleased {
			continue
		}
		if d.Amount.IsNegative() {
			return plan, fmt.Errorf("%w: donation %s", ErrNegativeAmount, d.ID)
		}
		if d.Amount.IsZero() {
			continue
		}
		pending = append(pending, d)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Timestamp.Equal(pending[j].Timestamp) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	released := model.Zero
	for _, d := range pending {
		remaining := amount.Sub(released)
		if !remaining.IsPositive() {
			break
		}
		if d.Amount.LessThanOrEqual(remaining) {
			plan.Items = append(plan.Items, Item{DonationID: d.ID, Amount: d.Amount})
			released = released.Add(d.Amount)
			continue
		}
		plan.Items = append(plan.Items, Item{DonationID: d.ID, Amount: remaining, Split: true})
		released = released.Add(remaining)
	}

	if !released.Equal(amount) {
		return plan, fmt.Errorf("%w: released %s, target %s", ErrReleaseMismatch, released, amount)
	}
	return plan, nil
}

// Apply returns a new donation slice with the plan applied. Split fragments
// keep their id and hold the released portion; the remainder gets an id from
// newID and keeps the original timestamp so FIFO order is preserved.
func Apply(donations []model.EscrowDonation, plan Plan, newID func() string) ([]model.EscrowDonation, error) {
	out := model.CloneDonations(donations)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.ID] = i
	}

	for _, it := range plan.Items {
		i, ok := index[it.DonationID]
		if !ok || out[i].IsReleased {
			return nil, fmt.Errorf("%w: fragment %s is not available", ErrReleaseMismatch, it.DonationID)
		}
		d := out[i]
		if it.Split {
			remainder := d
			remainder.ID = newID()
			remainder.Amount = d.Amount.Sub(it.Amount)
			remainder.SplitFromID = d.ID
			remainder.ReleasedForMilestoneID = ""
			if !remainder.Amount.IsPositive() {
				return nil, fmt.Errorf("%w: split of %s leaves %s", ErrReleaseMismatch, d.ID, remainder.Amount)
			}
			d.Amount = it.Amount
			out = append(out, remainder)
		} else if !d.Amount.Equal(it.Amount) {
			return nil, fmt.Errorf("%w: fragment %s changed since planning", ErrReleaseMismatch, d.ID)
		}
		d.IsReleased = true
		d.ReleasedForMilestoneID = plan.MilestoneID
		out[i] = d
	}
	return out, nil
}
