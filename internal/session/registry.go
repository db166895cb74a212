package session

import (
	"sync"

	"github.com/example/health-screen/internal/prediction"
)

// Registry hands out one Form per owner so the single-flight rule holds
// across separate HTTP requests from the same user.
type Registry struct {
	predictor prediction.Predictor

	mu    sync.Mutex
	forms map[string]*entry
}

type entry struct {
	form *Form
	refs int
}

// NewRegistry creates forms backed by predictor.
func NewRegistry(predictor prediction.Predictor) *Registry {
	return &Registry{predictor: predictor, forms: make(map[string]*entry)}
}

// Acquire returns the owner's form, creating it on first use. Every Acquire
// must be paired with a Release.
func (r *Registry) Acquire(owner string) *Form {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[owner]
	if !ok {
		e = &entry{form: NewForm(r.predictor)}
		r.forms[owner] = e
	}
	e.refs++
	return e.form
}

// Release drops one reference and forgets the form once nobody holds it.
func (r *Registry) Release(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.forms[owner]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.forms, owner)
	}
}

// Len returns the number of tracked forms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.forms)
}
