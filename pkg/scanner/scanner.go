package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/pkg/policy"
	"github.com/berkguzel/iamguard/pkg/types"
	"github.com/gammazero/workerpool"
)

// Directory enumerates identities and the policies bound to them.
type Directory interface {
	ListIdentities(ctx context.Context) ([]types.Identity, error)
	ListAttachedPolicies(ctx context.Context, identity types.Identity) ([]types.PolicyRef, error)
	ListInlinePolicyNames(ctx context.Context, identity types.Identity) ([]string, error)
}

// PolicyStore retrieves managed policy documents.
type PolicyStore interface {
	GetDefaultVersionID(ctx context.Context, arn string) (string, error)
	GetPolicyDocument(ctx context.Context, arn, versionID string) (types.PolicyDocument, error)
	WalkCustomerManagedPolicies(ctx context.Context, fn func(types.PolicyRef) error) error
}

type Options struct {
	// Workers bounds how many policies are fetched and classified at once.
	// Values below 2 scan sequentially.
	Workers int
}

type Scanner struct {
	directory Directory
	store     PolicyStore
	workers   int
	log       logger.Logger
}

func New(directory Directory, store PolicyStore, opts Options) *Scanner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scanner{
		directory: directory,
		store:     store,
		workers:   opts.Workers,
		log:       logger.New("scanner"),
	}
}

// Scan runs the scan selected by mode.
func (s *Scanner) Scan(ctx context.Context, mode string) (types.ScanResult, error) {
	switch mode {
	case types.ModeAccount:
		return s.ScanAccount(ctx)
	case types.ModeIdentity:
		return s.ScanIdentities(ctx)
	}
	return types.ScanResult{}, fmt.Errorf("unknown scan mode %q", mode)
}

// ScanAccount classifies every customer managed policy of the account.
// A policy that cannot be retrieved or decoded yields an ErrorRecord and
// the scan moves on.
func (s *Scanner) ScanAccount(ctx context.Context) (types.ScanResult, error) {
	acc := newAccumulator()
	pool := s.newPool()

	err := s.store.WalkCustomerManagedPolicies(ctx, func(ref types.PolicyRef) error {
		slot := acc.reserve()
		pool.submit(func() {
			acc.put(slot, s.scanPolicy(ctx, ref, nil))
		})
		return nil
	})
	pool.wait()

	if err != nil {
		return types.ScanResult{}, err
	}

	res := acc.result(types.ModeAccount)
	s.log.Info("account scan finished", "scanned", res.Scanned, "entries", len(res.Entries))
	return res, nil
}

// ScanIdentities classifies the managed policies attached to every identity
// and flags identities carrying inline policies without reading them.
func (s *Scanner) ScanIdentities(ctx context.Context) (types.ScanResult, error) {
	identities, err := s.directory.ListIdentities(ctx)
	if err != nil {
		return types.ScanResult{}, fmt.Errorf("failed to list identities: %w", err)
	}

	acc := newAccumulator()
	pool := s.newPool()
	for _, identity := range identities {
		s.scanIdentity(ctx, identity, acc, pool)
	}
	pool.wait()

	res := acc.result(types.ModeIdentity)
	s.log.Info("identity scan finished", "identities", len(identities), "scanned", res.Scanned, "entries", len(res.Entries))
	return res, nil
}

// ScanIdentity scans a single identity.
func (s *Scanner) ScanIdentity(ctx context.Context, identity types.Identity) types.ScanResult {
	acc := newAccumulator()
	pool := s.newPool()
	s.scanIdentity(ctx, identity, acc, pool)
	pool.wait()
	return acc.result(types.ModeIdentity)
}

func (s *Scanner) scanIdentity(ctx context.Context, identity types.Identity, acc *accumulator, pool *pool) {
	log := s.log.WithFields("identity", identity.Name, "kind", identity.Kind)

	attached, err := s.directory.ListAttachedPolicies(ctx, identity)
	if err != nil {
		log.Warn("failed to list attached policies", "error", err)
		acc.put(acc.reserve(), outcome{entries: []types.Entry{types.ErrorEntry(types.ErrorRecord{
			Identity:     identity.Name,
			IdentityKind: identity.Kind,
			Error:        err.Error(),
			Note:         "Failed to list attached policies",
		})}})
	}

	for _, ref := range attached {
		ref := ref
		slot := acc.reserve()
		pool.submit(func() {
			acc.put(slot, s.scanPolicy(ctx, ref, &identity))
		})
	}

	// reserved after the attached policies so the sentinel follows them
	inlineSlot := acc.reserve()
	inline, err := s.directory.ListInlinePolicyNames(ctx, identity)
	switch {
	case err != nil:
		log.Warn("failed to list inline policies", "error", err)
		acc.put(inlineSlot, outcome{entries: []types.Entry{types.ErrorEntry(types.ErrorRecord{
			Identity:     identity.Name,
			IdentityKind: identity.Kind,
			PolicyName:   types.InlinePolicyName,
			Error:        err.Error(),
			Note:         "Failed to list inline policies",
		})}})
	case len(inline) > 0:
		acc.put(inlineSlot, outcome{entries: []types.Entry{types.FindingEntry(types.Finding{
			Identity:          identity.Name,
			IdentityKind:      identity.Kind,
			PolicyName:        types.InlinePolicyName,
			ConditionKeys:     []string{},
			Inline:            true,
			InlinePolicyNames: inline,
		})}})
	default:
		acc.put(inlineSlot, outcome{})
	}
}

// scanPolicy fetches the default version of ref and classifies it. The
// returned outcome holds either the findings or exactly one ErrorRecord.
func (s *Scanner) scanPolicy(ctx context.Context, ref types.PolicyRef, identity *types.Identity) outcome {
	findings, err := s.classifyPolicy(ctx, ref)
	if err != nil {
		log := s.log.WithFields("policy", ref.Arn)
		rec := types.ErrorRecord{
			PolicyArn:  ref.Arn,
			PolicyName: ref.Name,
			Error:      err.Error(),
			Note:       types.ErrorNote,
		}
		if identity != nil {
			rec.Identity = identity.Name
			rec.IdentityKind = identity.Kind
			log = log.WithFields("identity", identity.Name)
		}
		log.Warn("failed to scan policy", "error", err)
		return outcome{entries: []types.Entry{types.ErrorEntry(rec)}}
	}

	out := outcome{scanned: true, entries: make([]types.Entry, 0, len(findings))}
	for _, f := range findings {
		if identity != nil {
			f.Identity = identity.Name
			f.IdentityKind = identity.Kind
		}
		out.entries = append(out.entries, types.FindingEntry(f))
	}
	return out
}

func (s *Scanner) classifyPolicy(ctx context.Context, ref types.PolicyRef) ([]types.Finding, error) {
	versionID := ref.DefaultVersionID
	if versionID == "" {
		v, err := s.store.GetDefaultVersionID(ctx, ref.Arn)
		if err != nil {
			return nil, err
		}
		versionID = v
	}

	doc, err := s.store.GetPolicyDocument(ctx, ref.Arn, versionID)
	if err != nil {
		return nil, err
	}

	return policy.ScanDocument(doc, ref)
}

type outcome struct {
	entries []types.Entry
	scanned bool
}

// accumulator merges per-policy outcomes from concurrent workers. Slots are
// reserved in enumeration order so the merged result does not depend on
// completion order.
type accumulator struct {
	mu       sync.Mutex
	next     int
	outcomes map[int]outcome
}

func newAccumulator() *accumulator {
	return &accumulator{outcomes: make(map[int]outcome)}
}

func (a *accumulator) reserve() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot := a.next
	a.next++
	return slot
}

func (a *accumulator) put(slot int, o outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[slot] = o
}

func (a *accumulator) result(mode string) types.ScanResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := make([]int, 0, len(a.outcomes))
	for slot := range a.outcomes {
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	res := types.ScanResult{Mode: mode, Entries: []types.Entry{}}
	for _, slot := range slots {
		o := a.outcomes[slot]
		if o.scanned {
			res.Scanned++
		}
		res.Entries = append(res.Entries, o.entries...)
	}
	return res
}

// pool runs tasks inline when a single worker is configured, and on a
// bounded workerpool otherwise.
type pool struct {
	wp *workerpool.WorkerPool
}

func (s *Scanner) newPool() *pool {
	if s.workers < 2 {
		return &pool{}
	}
	return &pool{wp: workerpool.New(s.workers)}
}

func (p *pool) submit(task func()) {
	if p.wp == nil {
		task()
		return
	}
	p.wp.Submit(task)
}

func (p *pool) wait() {
	if p.wp != nil {
		p.wp.StopWait()
	}
}
