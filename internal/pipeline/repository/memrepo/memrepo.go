// Package memrepo is an in-memory repository.Repository for tests. It
// enforces the same conditional history write as the MongoDB store.
package memrepo

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store holds leads, deals, activities and lookups in memory.
type Store struct {
	mu         sync.Mutex
	leads      map[bson.ObjectID]repository.Lead
	deals      map[bson.ObjectID]repository.Deal
	activities []repository.Activity
	lookups    map[bson.ObjectID]repository.Lookup

	// Err, when set, is returned by every call.
	Err error
	// LastActivityErrs fails SetLeadLastActivity for specific leads.
	LastActivityErrs map[bson.ObjectID]error
	// BeforeApply runs before each ApplyTransition, outside the lock.
	BeforeApply func(kind domain.EntityKind, id bson.ObjectID)
	// ApplyCalls counts ApplyTransition invocations.
	ApplyCalls int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		leads:            make(map[bson.ObjectID]repository.Lead),
		deals:            make(map[bson.ObjectID]repository.Deal),
		lookups:          make(map[bson.ObjectID]repository.Lookup),
		LastActivityErrs: make(map[bson.ObjectID]error),
	}
}

// PutLead inserts or replaces a lead, assigning an id when missing.
func (s *Store) PutLead(l repository.Lead) bson.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID.IsZero() {
		l.ID = bson.NewObjectID()
	}
	s.leads[l.ID] = l
	return l.ID
}

// PutDeal inserts or replaces a deal, assigning an id when missing.
func (s *Store) PutDeal(d repository.Deal) bson.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID.IsZero() {
		d.ID = bson.NewObjectID()
	}
	s.deals[d.ID] = d
	return d.ID
}

// PutActivity appends an activity, assigning an id when missing.
func (s *Store) PutActivity(a repository.Activity) bson.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID.IsZero() {
		a.ID = bson.NewObjectID()
	}
	s.activities = append(s.activities, a)
	return a.ID
}

// PutLookup inserts a lookup record, assigning an id when missing.
func (s *Store) PutLookup(l repository.Lookup) bson.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID.IsZero() {
		l.ID = bson.NewObjectID()
	}
	s.lookups[l.ID] = l
	return l.ID
}

// LookupCount returns how many lookup records exist.
func (s *Store) LookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lookups)
}

func (s *Store) GetLead(ctx context.Context, id bson.ObjectID) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return repository.Lead{}, s.Err
	}
	l, ok := s.leads[id]
	if !ok {
		return repository.Lead{}, repository.ErrNotFound
	}
	return cloneLead(l), nil
}

func (s *Store) ListLeads(ctx context.Context) ([]repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]repository.Lead, 0, len(s.leads))
	for _, id := range sortedIDs(s.leads) {
		out = append(out, cloneLead(s.leads[id]))
	}
	return out, nil
}

func (s *Store) ListLeadsByIDs(ctx context.Context, ids []bson.ObjectID) ([]repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]repository.Lead, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.leads[id]; ok {
			out = append(out, cloneLead(l))
		}
	}
	return out, nil
}

func (s *Store) LeadStageGroups(ctx context.Context, now time.Time) ([]repository.StageGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	type acc struct {
		ref   domain.StageRef
		count int
		total float64
	}
	groups := map[string]*acc{}
	order := []string{}
	for _, id := range sortedIDs(s.leads) {
		l := s.leads[id]
		key := l.Stage.String()
		g, ok := groups[key]
		if !ok {
			g = &acc{ref: l.Stage}
			groups[key] = g
			order = append(order, key)
		}
		since := l.CreatedAt
		if l.StageChangedAt != nil {
			since = *l.StageChangedAt
		}
		g.count++
		g.total += now.Sub(since).Hours() / 24
	}

	out := make([]repository.StageGroup, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		out = append(out, repository.StageGroup{Stage: g.ref, Count: g.count, AvgAgeDays: g.total / float64(g.count)})
	}
	return out, nil
}

func (s *Store) ForEachLeadID(ctx context.Context, fn func(id bson.ObjectID) error) error {
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return s.Err
	}
	ids := sortedIDs(s.leads)
	s.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetLeadLastActivity(ctx context.Context, id bson.ObjectID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if err := s.LastActivityErrs[id]; err != nil {
		return err
	}
	l, ok := s.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	l.LastActivityAt = &at
	s.leads[id] = l
	return nil
}

func (s *Store) GetDeal(ctx context.Context, id bson.ObjectID) (repository.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return repository.Deal{}, s.Err
	}
	d, ok := s.deals[id]
	if !ok {
		return repository.Deal{}, repository.ErrNotFound
	}
	return cloneDeal(d), nil
}

func (s *Store) ListDeals(ctx context.Context) ([]repository.Deal, error) {
	return s.filterDeals(func(repository.Deal) bool { return true })
}

func (s *Store) ListDealsByLead(ctx context.Context, leadID bson.ObjectID) ([]repository.Deal, error) {
	return s.filterDeals(func(d repository.Deal) bool {
		for _, id := range d.LeadIDs {
			if id == leadID {
				return true
			}
		}
		return false
	})
}

func (s *Store) ListNegotiationDealsBefore(ctx context.Context, cutoff time.Time) ([]repository.Deal, error) {
	return s.filterDeals(func(d repository.Deal) bool {
		return strings.EqualFold(d.Stage, domain.StageNegotiation) &&
			d.StageChangedAt != nil && d.StageChangedAt.Before(cutoff) && !d.IsClosed
	})
}

func (s *Store) ListInactiveDeals(ctx context.Context, cutoff time.Time, excludedStages []string) ([]repository.Deal, error) {
	return s.filterDeals(func(d repository.Deal) bool {
		for _, ex := range excludedStages {
			if strings.EqualFold(d.Stage, ex) {
				return false
			}
		}
		return d.LastActivityAt == nil || d.LastActivityAt.Before(cutoff)
	})
}

func (s *Store) filterDeals(keep func(repository.Deal) bool) ([]repository.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []repository.Deal{}
	for _, id := range sortedIDs(s.deals) {
		if d := s.deals[id]; keep(d) {
			out = append(out, cloneDeal(d))
		}
	}
	return out, nil
}

func (s *Store) GetHistory(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (domain.HistorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return domain.HistorySnapshot{}, s.Err
	}
	switch kind {
	case domain.EntityLead:
		l, ok := s.leads[id]
		if !ok {
			return domain.HistorySnapshot{}, repository.ErrNotFound
		}
		return domain.HistorySnapshot{
			Stage:          l.Stage,
			StageChangedAt: l.StageChangedAt,
			CreatedAt:      l.CreatedAt,
			History:        cloneHistory(l.StageHistory),
		}, nil
	default:
		d, ok := s.deals[id]
		if !ok {
			return domain.HistorySnapshot{}, repository.ErrNotFound
		}
		return domain.HistorySnapshot{
			Stage:           domain.DirectStage(d.Stage),
			StageSyncReason: d.StageSyncReason,
			StageChangedAt:  d.StageChangedAt,
			CreatedAt:       d.CreatedAt,
			History:         cloneHistory(d.StageHistory),
		}, nil
	}
}

func (s *Store) ApplyTransition(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, u repository.TransitionUpdate) error {
	if s.BeforeApply != nil {
		s.BeforeApply(kind, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ApplyCalls++
	if s.Err != nil {
		return s.Err
	}

	changedAt := u.ChangedAt
	switch kind {
	case domain.EntityLead:
		l, ok := s.leads[id]
		if !ok {
			return repository.ErrNotFound
		}
		if len(l.StageHistory) != u.ExpectedLen {
			return repository.ErrConflict
		}
		l.Stage = u.Stage
		l.StageChangedAt = &changedAt
		l.StageHistory = cloneHistory(u.History)
		if u.LastActivityAt != nil {
			at := *u.LastActivityAt
			l.LastActivityAt = &at
		}
		s.leads[id] = l
	default:
		d, ok := s.deals[id]
		if !ok {
			return repository.ErrNotFound
		}
		if len(d.StageHistory) != u.ExpectedLen {
			return repository.ErrConflict
		}
		d.Stage = u.Stage.Label()
		d.StageChangedAt = &changedAt
		d.StageHistory = cloneHistory(u.History)
		if u.LastActivityAt != nil {
			at := *u.LastActivityAt
			d.LastActivityAt = &at
		}
		if u.StageSyncReason != nil {
			d.StageSyncReason = *u.StageSyncReason
		}
		s.deals[id] = d
	}
	return nil
}

func (s *Store) ListCompletedActivities(ctx context.Context, kind domain.EntityKind, id bson.ObjectID, since time.Time) ([]repository.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []repository.Activity{}
	for _, a := range s.activities {
		if a.EntityType == kind && a.EntityID == id && a.IsCompleted() && !a.OccurredAt().Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListCompletedActivitiesByKind(ctx context.Context, kind domain.EntityKind) (map[bson.ObjectID][]repository.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := map[bson.ObjectID][]repository.Activity{}
	for _, a := range s.activities {
		if a.EntityType == kind && a.IsCompleted() {
			out[a.EntityID] = append(out[a.EntityID], a)
		}
	}
	return out, nil
}

func (s *Store) LatestActivity(ctx context.Context, kind domain.EntityKind, id bson.ObjectID) (*repository.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var latest *repository.Activity
	for i := range s.activities {
		a := s.activities[i]
		if a.EntityType != kind || a.EntityID != id {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = &a
		}
	}
	return latest, nil
}

func (s *Store) GetLookup(ctx context.Context, id bson.ObjectID) (repository.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return repository.Lookup{}, s.Err
	}
	l, ok := s.lookups[id]
	if !ok {
		return repository.Lookup{}, repository.ErrNotFound
	}
	return l, nil
}

func (s *Store) GetOrCreateLookup(ctx context.Context, category, label string) (repository.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return repository.Lookup{}, s.Err
	}
	label = strings.TrimSpace(label)
	for _, l := range s.lookups {
		if l.Category == category && strings.EqualFold(l.Label, label) {
			return l, nil
		}
	}
	l := repository.Lookup{ID: bson.NewObjectID(), Category: category, Label: label, CreatedAt: time.Now().UTC()}
	s.lookups[l.ID] = l
	return l, nil
}

func (s *Store) ListLookups(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]repository.Lookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[bson.ObjectID]repository.Lookup, len(ids))
	for _, id := range ids {
		if l, ok := s.lookups[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func sortedIDs[T any](m map[bson.ObjectID]T) []bson.ObjectID {
	ids := make([]bson.ObjectID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

func cloneHistory(h []domain.StageHistoryEntry) []domain.StageHistoryEntry {
	if h == nil {
		return nil
	}
	return append([]domain.StageHistoryEntry(nil), h...)
}

func cloneLead(l repository.Lead) repository.Lead {
	l.StageHistory = cloneHistory(l.StageHistory)
	return l
}

func cloneDeal(d repository.Deal) repository.Deal {
	d.StageHistory = cloneHistory(d.StageHistory)
	d.LeadIDs = append([]bson.ObjectID(nil), d.LeadIDs...)
	return d
}

var _ repository.Repository = (*Store)(nil)
