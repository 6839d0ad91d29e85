// Package access holds the role gate consulted by every state-mutating entry
// point. The ledger core is access-agnostic; callers inject a Gate and each
// operation checks exactly one predicate before touching state.
package access

import "sync"

// Gate answers role and pause queries for a caller identity.
type Gate interface {
	IsGovernance(caller string) bool
	IsManager(caller string) bool
	IsEmergency(caller string) bool
	IsPaused() bool
}

// StaticGate is an in-memory Gate backed by explicit role sets. Production
// wiring populates it from configuration; tests populate it directly.
type StaticGate struct {
	mu         sync.RWMutex
	governance map[string]bool
	manager    map[string]bool
	emergency  map[string]bool
	paused     bool
}

func NewStaticGate() *StaticGate {
	return &StaticGate{
		governance: make(map[string]bool),
		manager:    make(map[string]bool),
		emergency:  make(map[string]bool),
	}
}

func (g *StaticGate) GrantGovernance(caller string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.governance[caller] = true
}

func (g *StaticGate) GrantManager(caller string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.manager[caller] = true
}

func (g *StaticGate) GrantEmergency(caller string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emergency[caller] = true
}

func (g *StaticGate) SetPaused(paused bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = paused
}

func (g *StaticGate) IsGovernance(caller string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.governance[caller]
}

func (g *StaticGate) IsManager(caller string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.manager[caller]
}

func (g *StaticGate) IsEmergency(caller string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.emergency[caller]
}

func (g *StaticGate) IsPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}
