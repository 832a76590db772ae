package config

import "sync"

// PrivilegedEntities is the mutable, instance-owned membership set backing
// the `privileged_entities` config list (spec §6), seeded from the
// manifest at startup and mutated at runtime by the admin API's
// /admin/privileged-entities endpoint. Per spec §9's "Global state" Design
// Note ("expose as explicit fields on the InteractionHandler and Store
// instances respectively; no process-wide mutable state"), this is an
// explicit instance shared by reference between the Supervisor's
// InteractionHandler and the admin Router — never a package-level var.
type PrivilegedEntities struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewPrivilegedEntities seeds a registry from the manifest's initial list.
func NewPrivilegedEntities(seed []string) *PrivilegedEntities {
	p := &PrivilegedEntities{set: make(map[string]struct{}, len(seed))}
	for _, addr := range seed {
		p.set[addr] = struct{}{}
	}
	return p
}

// Contains reports whether addr is currently privileged.
func (p *PrivilegedEntities) Contains(addr string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.set[addr]
	return ok
}

// Add grants addr privileged status.
func (p *PrivilegedEntities) Add(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set[addr] = struct{}{}
}

// Remove revokes addr's privileged status.
func (p *PrivilegedEntities) Remove(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.set, addr)
}

// List returns a snapshot of every currently privileged address.
func (p *PrivilegedEntities) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.set))
	for addr := range p.set {
		out = append(out, addr)
	}
	return out
}
