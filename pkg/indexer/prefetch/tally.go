package prefetch

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Tally counts skip reasons from concurrent workers.
type Tally struct {
	counts *xsync.Map[string, int]
}

func NewTally() *Tally {
	return &Tally{counts: xsync.NewMap[string, int]()}
}

// Add increments reason by n.
func (t *Tally) Add(reason string, n int) {
	if n == 0 {
		return
	}
	t.counts.Compute(reason, func(old int, _ bool) (int, xsync.ComputeOp) {
		return old + n, xsync.UpdateOp
	})
}

// Get returns the count for reason.
func (t *Tally) Get(reason string) int {
	n, _ := t.counts.Load(reason)
	return n
}

// Snapshot copies the current counts.
func (t *Tally) Snapshot() map[string]int {
	out := make(map[string]int, t.counts.Size())
	t.counts.Range(func(reason string, n int) bool {
		out[reason] = n
		return true
	})
	return out
}

// Total sums all reasons.
func (t *Tally) Total() int {
	total := 0
	t.counts.Range(func(_ string, n int) bool {
		total += n
		return true
	})
	return total
}
