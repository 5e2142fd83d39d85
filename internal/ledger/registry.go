package ledger

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
)

// Registry maps transaction kinds to their parent kind and their handler.
// A kind's handler chain is the handlers of its lineage from the most
// general ancestor down to the kind itself.
type Registry struct {
	mu       sync.RWMutex
	parents  map[tx.Type]tx.Type
	defined  map[tx.Type]bool
	handlers map[tx.Type]Handler
	chains   map[tx.Type][]Handler
}

// NewRegistry creates a registry with the built-in kinds defined and no
// handlers registered.
func NewRegistry() *Registry {
	r := &Registry{
		parents:  make(map[tx.Type]tx.Type),
		defined:  map[tx.Type]bool{tx.TypeCoin: true},
		handlers: make(map[tx.Type]Handler),
		chains:   make(map[tx.Type][]Handler),
	}
	builtins := []struct{ t, parent tx.Type }{
		{tx.TypeCoinBase, tx.TypeCoin},
		{tx.TypeTransfer, tx.TypeCoin},
		{tx.TypeSmallChange, tx.TypeTransfer},
		{tx.TypeLock, tx.TypeCoin},
		{tx.TypeRegisterAgent, tx.TypeLock},
		{tx.TypeJoinConsensus, tx.TypeLock},
		{tx.TypeUnlock, tx.TypeCoin},
		{tx.TypeCancelDeposit, tx.TypeUnlock},
		{tx.TypeStopAgent, tx.TypeUnlock},
	}
	for _, b := range builtins {
		r.parents[b.t] = b.parent
		r.defined[b.t] = true
	}
	return r
}

// DefineType adds a new kind beneath parent. The parent must already be
// defined, so lineages never form cycles.
func (r *Registry) DefineType(t, parent tx.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defined[t] {
		return fmt.Errorf("%w: %s", ErrTypeDefined, t)
	}
	if !r.defined[parent] {
		return fmt.Errorf("%w: parent %s", ErrUnknownType, parent)
	}
	r.parents[t] = parent
	r.defined[t] = true
	r.chains = make(map[tx.Type][]Handler)
	return nil
}

// Register installs the handler for kind t. Each kind has at most one.
func (r *Registry) Register(t tx.Type, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.defined[t] {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, t)
	}
	r.handlers[t] = h
	r.chains = make(map[tx.Type][]Handler)
	return nil
}

// Defined reports whether t is a known kind.
func (r *Registry) Defined(t tx.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defined[t]
}

// HasHandler reports whether a handler is registered for exactly t.
func (r *Registry) HasHandler(t tx.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Lineage returns t's ancestry from the root kind down to t.
func (r *Registry) Lineage(t tx.Type) ([]tx.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lineage(t)
}

func (r *Registry) lineage(t tx.Type) ([]tx.Type, error) {
	if !r.defined[t] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	var rev []tx.Type
	for cur := t; ; {
		rev = append(rev, cur)
		parent, ok := r.parents[cur]
		if !ok {
			break
		}
		cur = parent
	}
	out := make([]tx.Type, len(rev))
	for i, k := range rev {
		out[len(rev)-1-i] = k
	}
	return out, nil
}

// IsA reports whether t is ancestor or descends from it.
func (r *Registry) IsA(t, ancestor tx.Type) bool {
	lin, err := r.Lineage(t)
	if err != nil {
		return false
	}
	for _, k := range lin {
		if k == ancestor {
			return true
		}
	}
	return false
}

// Chain returns the handlers for t, most general first. Ancestors without
// a handler are skipped. The result is cached until the next DefineType or
// Register and must not be modified.
func (r *Registry) Chain(t tx.Type) ([]Handler, error) {
	r.mu.RLock()
	chain, ok := r.chains[t]
	r.mu.RUnlock()
	if ok {
		return chain, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if chain, ok := r.chains[t]; ok {
		return chain, nil
	}
	lin, err := r.lineage(t)
	if err != nil {
		return nil, err
	}
	chain = make([]Handler, 0, len(lin))
	for _, k := range lin {
		if h, ok := r.handlers[k]; ok {
			chain = append(chain, h)
		}
	}
	r.chains[t] = chain
	return chain, nil
}
