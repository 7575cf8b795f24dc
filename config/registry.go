package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dcshock/reqpipe/pipeline"
)

// Registry maps names used in definition files to mappers and preconditions.
// Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	mappers       map[string]pipeline.Mapper
	preconditions map[string]pipeline.Precondition
}

// NewRegistry returns a registry holding the built-in "identity" mapper and the
// "present" precondition (previous output is non-nil).
func NewRegistry() *Registry {
	r := &Registry{
		mappers:       make(map[string]pipeline.Mapper),
		preconditions: make(map[string]pipeline.Precondition),
	}
	r.RegisterMapper("identity", pipeline.Identity())
	r.RegisterPrecondition("present", func(_ context.Context, previous interface{}) (bool, error) {
		return previous != nil, nil
	})
	return r
}

// RegisterMapper adds a mapper under name. Overwrites any existing registration.
func (r *Registry) RegisterMapper(name string, m pipeline.Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mappers == nil {
		r.mappers = make(map[string]pipeline.Mapper)
	}
	r.mappers[name] = m
}

// RegisterPrecondition adds a precondition under name. Overwrites any existing
// registration.
func (r *Registry) RegisterPrecondition(name string, p pipeline.Precondition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.preconditions == nil {
		r.preconditions = make(map[string]pipeline.Precondition)
	}
	r.preconditions[name] = p
}

// Mapper returns the mapper for name, or nil and false if not found.
func (r *Registry) Mapper(name string) (pipeline.Mapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappers[name]
	return m, ok
}

// Precondition returns the precondition for name, or nil and false if not found.
func (r *Registry) Precondition(name string) (pipeline.Precondition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.preconditions[name]
	return p, ok
}

// MustMapper returns the mapper for name, or panics if not found.
func (r *Registry) MustMapper(name string) pipeline.Mapper {
	m, ok := r.Mapper(name)
	if !ok {
		panic(fmt.Sprintf("config: mapper %q not registered", name))
	}
	return m
}

// Names returns registered mapper and precondition names, each sorted.
func (r *Registry) Names() (mappers, preconditions []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.mappers {
		mappers = append(mappers, n)
	}
	for n := range r.preconditions {
		preconditions = append(preconditions, n)
	}
	sort.Strings(mappers)
	sort.Strings(preconditions)
	return mappers, preconditions
}
