// Package labels converts between stored stage references and display labels.
package labels

import (
	"context"
	"errors"
	"strings"

	"estate_crm_backend/internal/pipeline/domain"
	"estate_crm_backend/internal/pipeline/repository"
	"estate_crm_backend/platform/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Resolved is a canonical stage reference together with its label.
type Resolved struct {
	Ref   domain.StageRef
	Label string
}

// Resolver maps free-text stage names to lookup records and back.
type Resolver struct {
	store repository.LookupStore
	vocab *domain.Vocabulary
}

// New creates a Resolver.
func New(store repository.LookupStore, vocab *domain.Vocabulary) *Resolver {
	return &Resolver{store: store, vocab: vocab}
}

// ResolveToCanonicalID returns the lookup reference for label. A label that
// is already the hex id of a lookup is returned unchanged; otherwise the
// label is matched case-insensitively and created on first use.
func (r *Resolver) ResolveToCanonicalID(ctx context.Context, label string) (Resolved, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return Resolved{}, apperr.Validation("stage is required")
	}

	if id, err := bson.ObjectIDFromHex(trimmed); err == nil {
		lookup, err := r.store.GetLookup(ctx, id)
		switch {
		case err == nil:
			return Resolved{Ref: domain.IndirectStage(lookup.ID), Label: lookup.Label}, nil
		case !errors.Is(err, repository.ErrNotFound):
			return Resolved{}, apperr.Internal("failed to load stage lookup", err)
		}
	}

	lookup, err := r.store.GetOrCreateLookup(ctx, repository.LookupCategoryLeadStage, r.vocab.Canonical(trimmed))
	if err != nil {
		return Resolved{}, apperr.Internal("failed to resolve stage", err)
	}
	return Resolved{Ref: domain.IndirectStage(lookup.ID), Label: lookup.Label}, nil
}

// ResolveToLabel returns a display label for any stored representation.
// Missing stages and dangling lookup ids read as New.
func (r *Resolver) ResolveToLabel(ctx context.Context, ref domain.StageRef) (string, error) {
	if !ref.IsIndirect() {
		return labelOrNew(ref.Label()), nil
	}

	lookup, err := r.store.GetLookup(ctx, ref.ID())
	if errors.Is(err, repository.ErrNotFound) {
		return domain.StageNew, nil
	}
	if err != nil {
		return "", apperr.Internal("failed to load stage lookup", err)
	}
	return labelOrNew(lookup.Label), nil
}

// ResolveMany resolves refs with a single lookup query. The result is keyed
// by ref.String().
func (r *Resolver) ResolveMany(ctx context.Context, refs []domain.StageRef) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	ids := make([]bson.ObjectID, 0, len(refs))
	for _, ref := range refs {
		if ref.IsIndirect() {
			ids = append(ids, ref.ID())
			continue
		}
		out[ref.String()] = labelOrNew(ref.Label())
	}

	if len(ids) > 0 {
		found, err := r.store.ListLookups(ctx, ids)
		if err != nil {
			return nil, apperr.Internal("failed to load stage lookups", err)
		}
		for _, id := range ids {
			ref := domain.IndirectStage(id)
			out[ref.String()] = labelOrNew(found[id].Label)
		}
	}
	return out, nil
}

func labelOrNew(label string) string {
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		return trimmed
	}
	return domain.StageNew
}
