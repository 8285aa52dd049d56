package limits

import (
	"sync"
)

// Store holds per-limit usage counters. Reserve must be atomic per limit name.
// Capacity may be Unlimited.
type Store interface {
	// Adds weight to name's usage iff the result stays within capacity.
	// Returns whether it did and the usage after the call.
	Reserve(name string, weight, capacity float64) (bool, float64, error)

	// Subtracts weight from name's usage, clamped at zero.
	Release(name string, weight float64) (float64, error)

	// Replaces every counter with the given totals, names not present drop to zero.
	Set(usage map[string]float64) error

	Usage() (map[string]float64, error)

	Close() error
}

// In-process store, each limit's counter is guarded by its own mutex.
type memoryStore struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

type counter struct {
	mu    sync.Mutex
	usage float64
}

func NewMemoryStore() Store {
	return &memoryStore{counters: map[string]*counter{}}
}

func (s *memoryStore) counter(name string) *counter {
	s.mu.RLock()
	c, ok := s.counters[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[name]; !ok {
		c = &counter{}
		s.counters[name] = c
	}
	return c
}

func (s *memoryStore) Reserve(name string, weight, capacity float64) (bool, float64, error) {
	c := s.counter(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usage+weight > capacity+capacityEpsilon {
		return false, c.usage, nil
	}
	c.usage += weight
	return true, c.usage, nil
}

func (s *memoryStore) Release(name string, weight float64) (float64, error) {
	c := s.counter(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage -= weight
	if c.usage < capacityEpsilon {
		c.usage = 0
	}
	return c.usage, nil
}

func (s *memoryStore) Set(usage map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.counters {
		c.mu.Lock()
		c.usage = usage[name]
		c.mu.Unlock()
	}
	for name, u := range usage {
		if _, ok := s.counters[name]; !ok {
			s.counters[name] = &counter{usage: u}
		}
	}
	return nil
}

func (s *memoryStore) Usage() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage := make(map[string]float64, len(s.counters))
	for name, c := range s.counters {
		c.mu.Lock()
		usage[name] = c.usage
		c.mu.Unlock()
	}
	return usage, nil
}

func (s *memoryStore) Close() error {
	return nil
}
