// Package memory is an in-process implementation of every repository the
// services consume. Status transitions are conditional exactly like the
// postgres repositories, so services behave the same against both.
//
// RunInTx clones the state, runs the callback against the clone while
// holding the store lock and swaps the clone in on success. Repository calls
// made with a transaction context operate on the clone without locking.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/heartmarshall/bloodlink-backend/internal/domain"
)

type state struct {
	bloodTypes map[int]domain.BloodType
	components map[int]domain.Component
	conditions map[int]domain.HealthCondition
	rules      []domain.CompatibilityRule
	sla        map[domain.Urgency]domain.SLAConfig

	donors    map[uuid.UUID]domain.Donor
	donations map[uuid.UUID]domain.Donation
	units     map[uuid.UUID]domain.InventoryUnit
	requests  map[uuid.UUID]domain.Request
	matches   map[uuid.UUID]domain.Match
}

func newState() *state {
	return &state{
		bloodTypes: map[int]domain.BloodType{},
		components: map[int]domain.Component{},
		conditions: map[int]domain.HealthCondition{},
		sla:        map[domain.Urgency]domain.SLAConfig{},
		donors:     map[uuid.UUID]domain.Donor{},
		donations:  map[uuid.UUID]domain.Donation{},
		units:      map[uuid.UUID]domain.InventoryUnit{},
		requests:   map[uuid.UUID]domain.Request{},
		matches:    map[uuid.UUID]domain.Match{},
	}
}

// clone copies everything a repository may mutate. Pointer fields of stored
// values are replaced on update, never written through, so a shallow copy of
// those structs is enough.
func (s *state) clone() *state {
	c := &state{
		bloodTypes: cloneMap(s.bloodTypes),
		components: cloneMap(s.components),
		conditions: cloneMap(s.conditions),
		rules:      slices.Clone(s.rules),
		sla:        cloneMap(s.sla),
		donors:     make(map[uuid.UUID]domain.Donor, len(s.donors)),
		donations:  cloneMap(s.donations),
		units:      cloneMap(s.units),
		requests:   cloneMap(s.requests),
		matches:    cloneMap(s.matches),
	}
	for k, d := range s.donors {
		c.donors[k] = cloneDonor(d)
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDonor(d domain.Donor) domain.Donor {
	if d.NextEligible != nil {
		d.NextEligible = cloneMap(d.NextEligible)
	}
	d.Conditions = slices.Clone(d.Conditions)
	d.Availability = slices.Clone(d.Availability)
	return d
}

// Store holds all state behind one lock.
type Store struct {
	mu    sync.RWMutex
	state *state

	reference *ReferenceRepo
	donors    *DonorRepo
	matches   *MatchRepo
	units     *UnitRepo
	requests  *RequestRepo
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{state: newState()}
	s.reference = &ReferenceRepo{store: s}
	s.donors = &DonorRepo{store: s}
	s.matches = &MatchRepo{store: s}
	s.units = &UnitRepo{store: s}
	s.requests = &RequestRepo{store: s}
	return s
}

func (s *Store) Reference() *ReferenceRepo { return s.reference }
func (s *Store) Donors() *DonorRepo        { return s.donors }
func (s *Store) Matches() *MatchRepo       { return s.matches }
func (s *Store) Units() *UnitRepo          { return s.units }
func (s *Store) Requests() *RequestRepo    { return s.requests }

type txKey struct{}

type tx struct {
	state *state
}

func txFromCtx(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// RunInTx runs fn atomically. Changes are discarded if fn returns an error
// or panics. A RunInTx inside fn joins the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromCtx(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{state: s.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// read runs fn against the visible state.
func (s *Store) read(ctx context.Context, fn func(st *state)) {
	if t := txFromCtx(ctx); t != nil {
		fn(t.state)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// write runs fn against the visible state with exclusive access. Outside a
// transaction fn must check everything before it mutates.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if t := txFromCtx(ctx); t != nil {
		return fn(t.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func ptr[T any](v T) *T { return &v }
