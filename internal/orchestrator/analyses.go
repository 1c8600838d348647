package orchestrator

import (
	"sort"
	"sync"

	"bizmatrix/api/internal/util"
)

// Analyses keeps the live sequencers of this process. They are not persisted.
type Analyses struct {
	mu    sync.RWMutex
	items map[string]*Sequencer
}

func NewAnalyses() *Analyses {
	return &Analyses{items: map[string]*Sequencer{}}
}

func (a *Analyses) Create(units []Factor, analyze Analyzer) *Sequencer {
	seq := NewSequencer(util.NewID("ana"), units, analyze)
	a.mu.Lock()
	a.items[seq.ID()] = seq
	a.mu.Unlock()
	return seq
}

func (a *Analyses) Get(id string) (*Sequencer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seq, ok := a.items[id]
	return seq, ok
}

// Remove closes and forgets the sequencer.
func (a *Analyses) Remove(id string) bool {
	a.mu.Lock()
	seq, ok := a.items[id]
	delete(a.items, id)
	a.mu.Unlock()
	if ok {
		seq.Close()
	}
	return ok
}

func (a *Analyses) List() []Snapshot {
	a.mu.RLock()
	out := make([]Snapshot, 0, len(a.items))
	for _, seq := range a.items {
		out = append(out, seq.Snapshot())
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// CloseAll closes every sequencer. Used on shutdown.
func (a *Analyses) CloseAll() {
	a.mu.Lock()
	items := a.items
	a.items = map[string]*Sequencer{}
	a.mu.Unlock()
	for _, seq := range items {
		seq.Close()
	}
}
