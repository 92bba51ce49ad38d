// Package registry holds the model types and object types that rule nodes
// and facts refer to.
//
// A Registry is loaded once (from the store or from compiled-in fact
// models) and then read concurrently by builders and evaluators.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

// Registry indexes model types by id. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[uuid.UUID]*types.ModelType
	order  []uuid.UUID
}

// New creates a registry holding models.
func New(models ...*types.ModelType) (*Registry, error) {
	r := &Registry{models: make(map[uuid.UUID]*types.ModelType)}
	for _, m := range models {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a model type, replacing any model with the same id. Every
// object type must carry the model's id.
func (r *Registry) Register(m *types.ModelType) error {
	if m == nil || m.ID == uuid.Nil {
		return fmt.Errorf("%w: model type without id", types.ErrUnknownType)
	}
	for _, ot := range m.ObjectTypes {
		if ot.ID == uuid.Nil || ot.ModelTypeID != m.ID {
			return fmt.Errorf("%w: object type %q does not belong to model %s", types.ErrUnknownType, ot.Name, m.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = m
	return nil
}

// Lookup resolves a type reference to its object type.
func (r *Registry) Lookup(ref types.TypeRef) (*types.ObjectType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[ref.ModelTypeID]
	if !ok {
		return nil, fmt.Errorf("%w: model type %s", types.ErrUnknownType, ref.ModelTypeID)
	}
	ot, ok := m.ObjectType(ref.ObjectTypeID)
	if !ok {
		return nil, fmt.Errorf("%w: object type %s in %s", types.ErrUnknownType, ref.ObjectTypeID, m.Name)
	}
	return ot, nil
}

// DisplayName returns "Model.Object" for a known reference and the empty
// string otherwise.
func (r *Registry) DisplayName(ref types.TypeRef) string {
	ot, err := r.Lookup(ref)
	if err != nil {
		return ""
	}
	m, _ := r.Model(ot.ModelTypeID)
	return m.Name + "." + ot.Name
}

// Model returns the model type with the given id.
func (r *Registry) Model(id uuid.UUID) (*types.ModelType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Models returns every registered model type in registration order.
func (r *Registry) Models() []*types.ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ModelType, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// FindModel returns the model types whose name equals name (exact) or
// contains it (not exact). Matching ignores case; results are sorted by name.
func (r *Registry) FindModel(name string, exact bool) []*types.ModelType {
	var out []*types.ModelType
	for _, m := range r.Models() {
		if nameMatches(m.Name, name, exact) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b *types.ModelType) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// FindObject returns the object type of model modelID named name (ignoring
// case).
func (r *Registry) FindObject(modelID uuid.UUID, name string) (*types.ObjectType, error) {
	m, ok := r.Model(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: model type %s", types.ErrUnknownType, modelID)
	}
	for _, ot := range m.ObjectTypes {
		if nameMatches(ot.Name, name, true) {
			return ot, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no object type %q", types.ErrUnknownType, m.Name, name)
}

// Resolve parses "Model/Object" (or "Model.Object") into an object type.
func (r *Registry) Resolve(qualified string) (*types.ObjectType, error) {
	model, object, ok := strings.Cut(qualified, "/")
	if !ok {
		model, object, ok = strings.Cut(qualified, ".")
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q is not Model/Object", types.ErrUnknownType, qualified)
	}
	found := r.FindModel(model, true)
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: model type %q", types.ErrUnknownType, model)
	}
	return r.FindObject(found[0].ID, object)
}

func nameMatches(have, want string, exact bool) bool {
	if exact {
		return strings.EqualFold(have, want)
	}
	return strings.Contains(strings.ToLower(have), strings.ToLower(want))
}
