package pool

import (
	"sync"

	"github.com/samber/lo"
)

// Quantity follows a count that goes up and down, keeping every value it took.
type Quantity struct {
	mu      sync.Mutex
	current int
	history []int
}

func NewQuantity() *Quantity {
	return &Quantity{history: []int{0}}
}

func (q *Quantity) Increment() {
	q.add(1)
}

func (q *Quantity) Decrement() {
	q.add(-1)
}

func (q *Quantity) add(d int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current += d
	q.history = append(q.history, q.current)
}

func (q *Quantity) Current() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// History starts at 0 and has one entry per change.
func (q *Quantity) History() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.history...)
}

func (q *Quantity) Max() int {
	return lo.Max(q.History())
}

// Reached reports whether the count was ever exactly n.
func (q *Quantity) Reached(n int) bool {
	return lo.Contains(q.History(), n)
}
