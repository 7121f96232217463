package providers

import (
	"sync"

	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Registry holds the configured providers and the capability table.
// The table names the dispatch order per media kind; a provider only ever
// serves a kind it actually implements, whatever the table claims.
type Registry struct {
	mu    sync.RWMutex
	provs map[string]Provider
	ids   []string // registration order, for stable listings
	table Table
}

// NewRegistry creates a registry seeded with the built-in table.
func NewRegistry() *Registry {
	return &Registry{
		provs: make(map[string]Provider),
		table: DefaultTable(),
	}
}

// Register adds a provider. Re-registering an id replaces it.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if _, exists := r.provs[id]; !exists {
		r.ids = append(r.ids, id)
	}
	r.provs[id] = p
	L_info("providers: registered", "provider", id, "kinds", p.Kinds())
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.provs[id]
	return p, ok
}

// List returns all providers in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.provs[id])
	}
	return out
}

// SetTable swaps the capability table (hot reload path).
func (r *Registry) SetTable(t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = t
}

// ResolveOrder returns the ordered, capability-filtered candidate list for
// a media kind with avoid removed. The order comes from the table; a
// provider that is not registered, or whose capability set does not
// include the kind, never appears. Deterministic for fixed config.
func (r *Registry) ResolveOrder(kind types.MediaKind, avoid string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, id := range r.table.Order(kind) {
		if id == avoid || seen[id] {
			continue
		}
		p, ok := r.provs[id]
		if !ok || !HasKind(p, kind) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Canonical returns the first capable provider for a kind: the one the
// prompt-transform strategies retry against.
func (r *Registry) Canonical(kind types.MediaKind) (Provider, bool) {
	order := r.ResolveOrder(kind, "")
	if len(order) == 0 {
		return nil, false
	}
	return r.Get(order[0])
}
