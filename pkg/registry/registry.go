// Package registry dispatches manifest rewriting by stream kind.
package registry

import (
	"sync"

	"addon-proxy-go/pkg/interfaces"
	"addon-proxy-go/pkg/types"
)

// Rewriters maps stream kinds to their manifest rewriters. Binary kinds have
// no rewriter; callers relay those byte-for-byte.
type Rewriters struct {
	mu     sync.RWMutex
	byKind map[types.StreamKind]interfaces.Rewriter
}

// NewRewriters creates an empty registry.
func NewRewriters() *Rewriters {
	return &Rewriters{
		byKind: make(map[types.StreamKind]interfaces.Rewriter),
	}
}

// Register adds a rewriter under its own kind, replacing any previous one.
func (r *Rewriters) Register(rw interfaces.Rewriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[rw.Kind()] = rw
}

// Get returns the rewriter for a kind.
func (r *Rewriters) Get(kind types.StreamKind) (interfaces.Rewriter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rw, ok := r.byKind[kind]
	return rw, ok
}

// ForURL classifies an upstream URL and returns its rewriter.
func (r *Rewriters) ForURL(url string) (interfaces.Rewriter, bool) {
	return r.Get(types.DetectStreamKind(url))
}

// All returns the registered rewriters.
func (r *Rewriters) All() []interfaces.Rewriter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Rewriter, 0, len(r.byKind))
	for _, rw := range r.byKind {
		out = append(out, rw)
	}
	return out
}
