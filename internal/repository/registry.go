package repository

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the collection of registered repositories
type Registry struct {
	mu           sync.RWMutex
	repositories map[ID]*Repository
}

// NewRegistry creates a new repository registry
func NewRegistry(repositories map[ID]*Repository) *Registry {
	return &Registry{
		repositories: repositories,
	}
}

// Get retrieves a repository by its slug
func (r *Registry) Get(id ID) (*Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repository, exists := r.repositories[id]
	if !exists {
		return nil, fmt.Errorf("repository '%s' not found", id)
	}

	return repository, nil
}

// List returns all repository ids in lexical order
func (r *Registry) List() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.repositories))
	for id := range r.repositories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Count returns the number of repositories
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.repositories)
}
