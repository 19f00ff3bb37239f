package pagination

import "sync"

// Guard allows at most one in-flight advance per session within the process
type Guard struct {
	mu   sync.Mutex
	busy map[int64]struct{}
}

// NewGuard creates an empty guard
func NewGuard() *Guard {
	return &Guard{busy: make(map[int64]struct{})}
}

// TryAcquire marks the session busy. It does not wait: ok is false when the session is already held.
// release is idempotent.
func (g *Guard) TryAcquire(sessionID int64) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.busy[sessionID]; held {
		return func() {}, false
	}
	g.busy[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, sessionID)
			g.mu.Unlock()
		})
	}, true
}

// Held reports whether the session is being processed
func (g *Guard) Held(sessionID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, held := g.busy[sessionID]
	return held
}

// Len returns the number of sessions being processed
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.busy)
}
