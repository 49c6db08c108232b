// Package chain mirrors ledger mutations to the on-chain charitable_funding
// module. The chain is an opaque collaborator: the ledger never reads its
// own state back from it.
package chain

import (
	"context"
	"errors"
	"strconv"
	"time"

	"charityledger/internal/model"
)

const moduleName = "charitable_funding"

// octas per display unit
const amountExponent = 8

var ErrDisabled = errors.New("chain collaborator disabled")

// EntryFunction is a transaction payload for the relayer.
type EntryFunction struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// Receipt is returned once the relayer has accepted a transaction.
type Receipt struct {
	Hash        string    `json:"hash"`
	Function    string    `json:"function"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Submitter interface {
	Submit(ctx context.Context, fn EntryFunction) (Receipt, error)
}

type ProjectDetails struct {
	Title                string
	Description          string
	TotalFundingRequired model.Money
	CurrentFunding       model.Money
	Creator              string
}

type MilestoneDetails struct {
	Title             string
	Description       string
	FundingAmount     model.Money
	IsCompleted       bool
	IsVerified        bool
	VerificationCount int
}

type Viewer interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	ProjectDetails(ctx context.Context, projectID string) (ProjectDetails, error)
	ProjectCount(ctx context.Context) (int, error)
	MilestoneDetails(ctx context.Context, projectID string, milestoneIndex int) (MilestoneDetails, error)
	MilestoneCount(ctx context.Context, projectID string) (int, error)
}

// Functions builds fully qualified function names for one module address.
type Functions struct {
	ModuleAddress string
}

func (f Functions) name(fn string) string {
	return f.ModuleAddress + "::" + moduleName + "::" + fn
}

func (f Functions) entry(fn string, args ...string) EntryFunction {
	if args == nil {
		args = []string{}
	}
	return EntryFunction{Function: f.name(fn), TypeArguments: []string{}, Arguments: args}
}

func (f Functions) CreateProject(title, description string, totalFundingRequired model.Money) EntryFunction {
	return f.entry("create_project", title, description, ToOctas(totalFundingRequired))
}

func (f Functions) DonateToProject(projectID string, amount model.Money) EntryFunction {
	return f.entry("donate_to_project", projectID, ToOctas(amount))
}

func (f Functions) CompleteMilestone(projectID string, milestoneIndex int) EntryFunction {
	return f.entry("complete_milestone", projectID, strconv.Itoa(milestoneIndex))
}

func (f Functions) VerifyMilestone(projectID string, milestoneIndex int) EntryFunction {
	return f.entry("verify_milestone", projectID, strconv.Itoa(milestoneIndex))
}

func (f Functions) ReleaseMilestoneFunds(projectID string, milestoneIndex int) EntryFunction {
	return f.entry("release_milestone_funds", projectID, strconv.Itoa(milestoneIndex))
}

// ToOctas converts a display amount to the chain's integer unit, truncating sub-octa dust.
func ToOctas(m model.Money) string {
	return m.Shift(amountExponent).Truncate(0).String()
}

// FromOctas parses an integer chain amount into a display amount.
func FromOctas(s string) (model.Money, error) {
	d, err := model.ParseMoney(s)
	if err != nil {
		return model.Zero, err
	}
	return d.Shift(-amountExponent), nil
}

// Noop accepts every submission without contacting a chain and reports
// every view as unavailable.
type Noop struct{}

func (Noop) Submit(_ context.Context, fn EntryFunction) (Receipt, error) {
	return Receipt{Function: fn.Function, SubmittedAt: time.Now().UTC()}, nil
}

func (Noop) ProjectExists(context.Context, string) (bool, error) { return false, ErrDisabled }

func (Noop) ProjectDetails(context.Context, string) (ProjectDetails, error) {
	return ProjectDetails{}, ErrDisabled
}

func (Noop) ProjectCount(context.Context) (int, error) { return 0, ErrDisabled }

func (Noop) MilestoneDetails(context.Context, string, int) (MilestoneDetails, error) {
	return MilestoneDetails{}, ErrDisabled
}

func (Noop) MilestoneCount(context.Context, string) (int, error) { return 0, ErrDisabled }
