package source

import (
	"fmt"
	"sort"
	"sync"

	ragerr "github.com/lballaty/myragdb/internal/errors"
)

// Store persists catalogue entries. Implemented by the metadata store.
type Store interface {
	SaveSource(src *Source) error
	DeleteSource(id string) error
	ListSources() ([]*Source, error)
}

// Registry is the in-memory catalogue of sources, backed by a Store.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Source
	byName  map[string]string // name -> id
	persist Store
}

// NewRegistry creates a registry and loads existing entries from store.
func NewRegistry(store Store) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]*Source),
		byName:  make(map[string]string),
		persist: store,
	}

	if store != nil {
		existing, err := store.ListSources()
		if err != nil {
			return nil, fmt.Errorf("failed to load sources: %w", err)
		}
		for _, src := range existing {
			r.byID[src.ID] = src
			r.byName[src.Name] = src.ID
		}
	}

	return r, nil
}

// Add registers a source. Adding a source whose name belongs to a
// different path is a conflict; re-adding the same path updates the
// stored entry (priority, globs, enabled flag).
func (r *Registry) Add(src *Source) error {
	if src.Name == "" {
		return ragerr.New(ragerr.ErrCodeInvalidSource, "source has no name", nil)
	}
	if !src.Kind.Valid() {
		return ragerr.New(ragerr.ErrCodeInvalidSource,
			fmt.Sprintf("source %s has invalid kind %q", src.Name, src.Kind), nil)
	}
	if src.ID == "" {
		src.ID = DeriveID(src.Kind, src.Path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byName[src.Name]; ok && existingID != src.ID {
		return ragerr.New(ragerr.ErrCodeSourceExists,
			fmt.Sprintf("source name %q already registered for a different path", src.Name), nil)
	}

	if r.persist != nil {
		if err := r.persist.SaveSource(src); err != nil {
			return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
		}
	}

	r.byID[src.ID] = src
	r.byName[src.Name] = src.ID
	return nil
}

// Remove deletes a source from the catalogue by name or id.
// Purging its indexed documents is the coordinator's job.
func (r *Registry) Remove(nameOrID string) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.lookupLocked(nameOrID)
	if src == nil {
		return nil, r.notFound(nameOrID)
	}

	if r.persist != nil {
		if err := r.persist.DeleteSource(src.ID); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
		}
	}

	delete(r.byID, src.ID)
	delete(r.byName, src.Name)
	return src, nil
}

// SetEnabled flips the enabled flag on a source.
func (r *Registry) SetEnabled(nameOrID string, enabled bool) (*Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.lookupLocked(nameOrID)
	if src == nil {
		return nil, r.notFound(nameOrID)
	}
	if src.Enabled == enabled {
		return src, nil
	}

	updated := *src
	updated.Enabled = enabled

	if r.persist != nil {
		if err := r.persist.SaveSource(&updated); err != nil {
			return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
		}
	}

	r.byID[src.ID] = &updated
	return &updated, nil
}

// Get returns a source by name or id.
func (r *Registry) Get(nameOrID string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.lookupLocked(nameOrID)
	if src == nil {
		return nil, r.notFound(nameOrID)
	}
	return src, nil
}

// List returns all sources ordered by name.
func (r *Registry) List() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Source, 0, len(r.byID))
	for _, src := range r.byID {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns all enabled sources ordered by name.
func (r *Registry) Enabled() []*Source {
	all := r.List()
	out := all[:0]
	for _, src := range all {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// ResolveNames maps source names or ids to ids, for query filters.
// Unknown names produce a not-found error naming the offender.
func (r *Registry) ResolveNames(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(names))
	for _, name := range names {
		src := r.lookupLocked(name)
		if src == nil {
			return nil, r.notFound(name)
		}
		ids = append(ids, src.ID)
	}
	return ids, nil
}

// lookupLocked resolves name or id. Caller holds at least a read lock.
func (r *Registry) lookupLocked(nameOrID string) *Source {
	if id, ok := r.byName[nameOrID]; ok {
		return r.byID[id]
	}
	return r.byID[nameOrID]
}

func (r *Registry) notFound(nameOrID string) error {
	return ragerr.New(ragerr.ErrCodeSourceNotFound,
		fmt.Sprintf("source %q not registered", nameOrID), nil)
}
