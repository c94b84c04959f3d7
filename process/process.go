// Package process models the slice of the process table the swap engine
// needs: a pid, a scheduling state, a page-directory handle, and a
// resident-set counter kept as an atomic field with a mutex reserved for
// multi-field table operations like victim selection.
package process

import (
	"sort"
	"sync"
	"sync/atomic"

	"swapvm/pagetable"
)

// State is a process's scheduling state.
type State int

const (
	// Unused marks a process-table slot with no live process.
	Unused State = iota
	Runnable
	Sleeping
	Zombie
)

// Proc is one process's swap-relevant state.
type Proc struct {
	Pid   int
	State State
	Pgdir pagetable.Dir

	rss int64 // atomic; see RSS/IncRSS/DecRSS
}

// RSS returns the number of user pages currently backed by RAM.
func (p *Proc) RSS() int64 { return atomic.LoadInt64(&p.rss) }

// IncRSS increments the resident-set counter, called by the allocator on
// every new user-page mapping.
func (p *Proc) IncRSS() { atomic.AddInt64(&p.rss, 1) }

// DecRSS decrements the resident-set counter, called on unmap or
// eviction. Panics on underflow since a negative rss is a corruption
// signal.
func (p *Proc) DecRSS() {
	if atomic.AddInt64(&p.rss, -1) < 0 {
		panic("process: rss went negative")
	}
}

// Table is the process table: a mutex-guarded slice of live processes.
type Table struct {
	mu    sync.Mutex
	procs []*Proc
}

// NewTable returns an empty process table.
func NewTable() *Table { return &Table{} }

// Add registers a process with the table.
func (t *Table) Add(p *Proc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs = append(t.procs, p)
}

// Remove drops a process from the table (teardown, after
// SwapFreeProcess has freed its slots).
func (t *Table) Remove(p *Proc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, q := range t.procs {
		if q == p {
			t.procs = append(t.procs[:i], t.procs[i+1:]...)
			return
		}
	}
}

// SelectVictim implements the process half of C4: among processes with
// pid >= 1 and state != Unused, the largest rss wins, ties broken by the
// smallest pid. Returns ok=false if no live process has rss > 0.
func (t *Table) SelectVictim() (*Proc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidates := make([]*Proc, 0, len(t.procs))
	for _, p := range t.procs {
		if p.Pid >= 1 && p.State != Unused {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].RSS(), candidates[j].RSS()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Pid < candidates[j].Pid
	})
	best := candidates[0]
	if best.RSS() == 0 {
		return nil, false
	}
	return best, true
}
