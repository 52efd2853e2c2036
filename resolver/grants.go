package resolver

import "sync"

// Grants tracks permissioned file handles. A handle maps to a real path plus
// an authorization bit; platform-side permission loss is modeled by the bit
// being cleared, and re-authorization flips it back from a user-initiated
// flow.
type Grants struct {
	mu      sync.Mutex
	handles map[string]*grant
}

type grant struct {
	path       string
	authorized bool
}

// NewGrants returns an empty registry.
func NewGrants() *Grants {
	return &Grants{handles: make(map[string]*grant)}
}

// Register adds or replaces a handle.
func (g *Grants) Register(handleID, path string, authorized bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handles[handleID] = &grant{path: path, authorized: authorized}
}

// Grant re-authorizes a handle. Returns false if the handle is unknown.
func (g *Grants) Grant(handleID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[handleID]
	if !ok {
		return false
	}
	h.authorized = true
	return true
}

// Revoke clears a handle's authorization, as the platform does across
// restarts.
func (g *Grants) Revoke(handleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.handles[handleID]; ok {
		h.authorized = false
	}
}

func (g *Grants) lookup(handleID string) (path string, authorized, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[handleID]
	if !ok {
		return "", false, false
	}
	return h.path, h.authorized, true
}
