// Package ledger is the authoritative escrow ledger. A Store owns every
// project, its escrow fragments, the community feed and the per-verifier
// index, and persists all four collections wholesale on each mutation.
//
// Mutations of one project are serialized by a per-project lock. Committed
// per-project state is copy-on-write: a mutation builds a new projectLedger,
// persists the snapshot that contains it and only then installs it, so a
// failed save leaves the in-memory ledger untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"charityledger/internal/chain"
	"charityledger/internal/model"
	"charityledger/pkg/logger"
	"charityledger/pkg/metrics"
	"charityledger/pkg/otel"
	"charityledger/pkg/trace"
)

// Repository persists the whole ledger. Save receives the complete snapshot
// plus the domain events of the mutation and must store both atomically.
// Implementations must not modify or retain snap after Save returns.
type Repository interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot, events []model.Event) error
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithChain mirrors committed mutations to the chain through sub.
func WithChain(sub chain.Submitter, fns chain.Functions) Option {
	return func(s *Store) {
		s.submitter = sub
		s.fns = fns
	}
}

func WithViewer(v chain.Viewer) Option {
	return func(s *Store) { s.viewer = v }
}

// WithRecheckBuffer bounds the pending release rechecks per project.
func WithRecheckBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.recheckBuffer = n
		}
	}
}

// WithBackendName labels persistence metrics.
func WithBackendName(name string) Option {
	return func(s *Store) { s.backend = name }
}

type projectLedger struct {
	project   model.Project
	donations []model.EscrowDonation
}

// edit returns a copy that may be changed without affecting pl.
func (pl *projectLedger) edit() *projectLedger {
	return &projectLedger{project: pl.project.Clone(), donations: slices.Clip(pl.donations)}
}

type verifierMark struct {
	verifierID  string
	milestoneID string
}

// change is one atomic mutation of the ledger.
type change struct {
	ledgers map[string]*projectLedger
	created []string
	marks   []verifierMark
	posts   func(current []model.CommunityPost) []model.CommunityPost
	events  []model.Event
}

func ledgerChange(pl *projectLedger, events ...model.Event) change {
	return change{ledgers: map[string]*projectLedger{pl.project.ID: pl}, events: events}
}

type Store struct {
	repo      Repository
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	backend   string
	submitter chain.Submitter
	viewer    chain.Viewer
	fns       chain.Functions

	recheckBuffer int
	rechecker     *Rechecker

	locks    *keyedMutex
	commitMu sync.Mutex

	mu       sync.RWMutex
	ledgers  map[string]*projectLedger
	order    []string
	orphans  []model.EscrowDonation
	posts    []model.CommunityPost
	verified map[string]map[string]bool
}

func New(repo Repository, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:          repo,
		logger:        logger,
		now:           time.Now,
		newID:         uuid.NewString,
		backend:       "default",
		recheckBuffer: 64,
		locks:         newKeyedMutex(),
		ledgers:       make(map[string]*projectLedger),
		verified:      make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rechecker = NewRechecker(s.recheck, s.recheckBuffer, logger)
	return s
}

// Open replaces the in-memory ledger with the persisted snapshot.
func (s *Store) Open(ctx context.Context) error {
	snap, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledgers = make(map[string]*projectLedger)
	s.order = nil
	s.orphans = nil
	s.posts = nil
	s.verified = make(map[string]map[string]bool)
	if snap == nil {
		return nil
	}

	backfilled := 0
	for _, p := range snap.Projects {
		p = p.Clone()
		for i := range p.Milestones {
			m := &p.Milestones[i]
			if m.OriginalFundingAmount.IsZero() && !m.FundingAmount.IsZero() {
				m.OriginalFundingAmount = m.FundingAmount
				backfilled++
			}
			if m.VerificationStatus == "" {
				m.VerificationStatus = model.VerificationPending
			}
			if m.Verifications == nil {
				m.Verifications = []model.Verification{}
			}
		}
		if _, dup := s.ledgers[p.ID]; dup {
			s.logger.Warn("Duplicate project in snapshot, keeping first", zap.String("project_id", p.ID))
			continue
		}
		s.ledgers[p.ID] = &projectLedger{project: p}
		s.order = append(s.order, p.ID)
	}
	for _, d := range snap.EscrowDonations {
		if pl, ok := s.ledgers[d.ProjectID]; ok {
			pl.donations = append(pl.donations, d)
			continue
		}
		s.orphans = append(s.orphans, d)
	}
	for _, p := range snap.CommunityPosts {
		s.posts = append(s.posts, p.Clone())
	}
	for verifier, ids := range snap.UserVerifications {
		for _, id := range ids {
			s.markLocked(verifier, id)
		}
	}

	s.logger.Info("Ledger loaded",
		zap.Int("projects", len(s.order)),
		zap.Int("donations", len(snap.EscrowDonations)),
		zap.Int("orphan_donations", len(s.orphans)),
		zap.Int("posts", len(s.posts)),
		zap.Int("backfilled_targets", backfilled),
	)
	return nil
}

// Close drains pending release rechecks.
func (s *Store) Close() {
	s.rechecker.Close()
}

// WaitIdle blocks until every queued release recheck has run.
func (s *Store) WaitIdle() {
	s.rechecker.WaitIdle()
}

func (s *Store) get(projectID string) (*projectLedger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pl, ok := s.ledgers[projectID]
	return pl, ok
}

func (s *Store) markLocked(verifierID, milestoneID string) {
	ids, ok := s.verified[verifierID]
	if !ok {
		ids = make(map[string]bool)
		s.verified[verifierID] = ids
	}
	ids[milestoneID] = true
}

type staged struct {
	snap  *model.Snapshot
	order []string
	posts []model.CommunityPost
}

// stageLocked builds the snapshot the ledger would have after c. Caller holds mu.
func (s *Store) stageLocked(c change) staged {
	order := s.order
	if len(c.created) > 0 {
		order = append(slices.Clip(s.order), c.created...)
	}
	posts := s.posts
	if c.posts != nil {
		posts = c.posts(slices.Clip(s.posts))
	}

	snap := &model.Snapshot{
		Projects:          make([]model.Project, 0, len(order)),
		EscrowDonations:   make([]model.EscrowDonation, 0),
		CommunityPosts:    posts,
		UserVerifications: make(map[string][]string, len(s.verified)),
	}
	for _, id := range order {
		pl := s.ledgers[id]
		if next, ok := c.ledgers[id]; ok {
			pl = next
		}
		snap.Projects = append(snap.Projects, pl.project)
		snap.EscrowDonations = append(snap.EscrowDonations, pl.donations...)
	}
	snap.EscrowDonations = append(snap.EscrowDonations, s.orphans...)

	index := make(map[string]map[string]bool, len(s.verified))
	for verifier, ids := range s.verified {
		index[verifier] = ids
	}
	for _, mk := range c.marks {
		ids := make(map[string]bool, len(index[mk.verifierID])+1)
		for id := range index[mk.verifierID] {
			ids[id] = true
		}
		ids[mk.milestoneID] = true
		index[mk.verifierID] = ids
	}
	for verifier, ids := range index {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		snap.UserVerifications[verifier] = list
	}
	return staged{snap: snap, order: order, posts: posts}
}

// commit persists c and installs it. On error nothing is installed.
func (s *Store) commit(ctx context.Context, c change) (err error) {
	ctx, span := otel.StartSpan(ctx, "ledger.commit")
	defer func() { otel.EndSpan(span, err) }()

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.RLock()
	st := s.stageLocked(c)
	s.mu.RUnlock()

	start := time.Now()
	saveErr := s.repo.Save(ctx, st.snap, c.events)
	metrics.RecordLedgerSave(s.backend, saveErr, time.Since(start))
	if saveErr != nil {
		return internalErr("Failed to persist ledger", saveErr)
	}

	s.mu.Lock()
	for id, pl := range c.ledgers {
		s.ledgers[id] = pl
	}
	s.order = st.order
	s.posts = st.posts
	for _, mk := range c.marks {
		s.markLocked(mk.verifierID, mk.milestoneID)
	}
	s.mu.Unlock()
	return nil
}

// appendPosts stamps and persists feed posts after a ledger commit.
// Failures are logged; the ledger result is already final.
func (s *Store) appendPosts(ctx context.Context, posts ...model.CommunityPost) {
	if len(posts) == 0 {
		return
	}
	now := s.now().UTC()
	for i := range posts {
		posts[i].ID = s.newID()
		posts[i].Timestamp = now
		if posts[i].Comments == nil {
			posts[i].Comments = []model.PostComment{}
		}
	}
	err := s.commit(ctx, change{posts: func(current []model.CommunityPost) []model.CommunityPost {
		return append(current, posts...)
	}})
	if err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Failed to persist community posts",
			zap.String("project_id", posts[0].ProjectID),
			zap.Int("posts", len(posts)),
			zap.Error(err),
		)
	}
}

// mirror submits fns to the chain in order and stops at the first failure.
func (s *Store) mirror(ctx context.Context, res *Result, fns ...chain.EntryFunction) {
	if s.submitter == nil {
		return
	}
	log := logger.WithTrace(ctx, s.logger)
	for _, fn := range fns {
		receipt, err := s.submitter.Submit(ctx, fn)
		if err != nil {
			res.UpstreamErr = upstreamErr("Chain submission failed for "+fn.Function, err)
			res.Warning = "Saved in the ledger, but the chain mirror failed: " + Message(res.UpstreamErr)
			metrics.IncrementLedgerOperation("chain_submit", "upstream")
			log.Warn("Chain mirror failed, local state kept",
				zap.String("function", fn.Function),
				zap.Error(err),
			)
			return
		}
		if receipt.Hash != "" {
			res.TxHash = receipt.Hash
		}
	}
}

// chainProjectFns returns the mirror calls for a project known on chain.
func (s *Store) chainProjectFns(p *model.Project, build func(chainID string) []chain.EntryFunction) []chain.EntryFunction {
	if s.submitter == nil || p.ChainProjectID == "" {
		return nil
	}
	return build(p.ChainProjectID)
}

func milestoneIndex(p *model.Project, milestoneID string) int {
	for i := range p.Milestones {
		if p.Milestones[i].ID == milestoneID {
			return i
		}
	}
	return -1
}

func (s *Store) observe(ctx context.Context, op string, err error) {
	metrics.IncrementLedgerOperation(op, outcome(err))
	if err == nil || errors.Is(err, ErrValidation) {
		return
	}
	log := logger.WithTrace(ctx, s.logger)
	if errors.Is(err, ErrInvariant) {
		log.Error("Ledger invariant violated, mutation aborted", zap.String("operation", op), zap.Error(err))
		return
	}
	log.Error("Ledger operation failed", zap.String("operation", op), zap.Error(err))
}

func encodeEvent(routingKey, projectID string, payload any, at time.Time) (model.Event, error) {
	ev, err := model.NewEvent(routingKey, projectID, payload, at)
	if err != nil {
		return model.Event{}, internalErr("Failed to encode "+routingKey+" event", err)
	}
	return ev, nil
}

func traceID(ctx context.Context) string {
	return trace.FromContext(ctx)
}
