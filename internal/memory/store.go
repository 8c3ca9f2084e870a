package memory

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResetPolicy controls how a consumed accumulator is reset.
type ResetPolicy string

const (
	// ResetZero consumes everything the cycle was triggered on.
	ResetZero ResetPolicy = "zero"
	// ResetResidual consumes at most the threshold, keeping the overshoot.
	ResetResidual ResetPolicy = "residual"
)

// Consume resets the accumulator of one level as part of a Commit.
// Importance appended after Amount was read is never consumed.
type Consume struct {
	// Level 0 is the raw-memory accumulator; level L >= 1 sums the
	// importance of level-L reflections.
	Level int
	// Amount is the accumulator value when the cycle was triggered.
	Amount    int
	Threshold int
	Policy    ResetPolicy
}

// Commit is a set of changes applied atomically: either every change is
// applied or the store is left untouched.
type Commit struct {
	Append  []Memory
	Touch   []string
	TouchAt time.Time
	Consume *Consume
}

// Store is one agent's append-only memory. Records are never removed or
// rewritten except for LastAccessedAt. It is safe for concurrent use;
// every returned Memory is a copy.
type Store struct {
	agentID string
	now     func() time.Time

	mu       sync.RWMutex
	memories []Memory
	index    map[string]int
	acc      map[int]int
	last     time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store for agentID.
func NewStore(agentID string, opts ...StoreOption) *Store {
	s := &Store{
		agentID: agentID,
		now:     time.Now,
		index:   make(map[string]int),
		acc:     make(map[int]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AgentID returns the owning agent.
func (s *Store) AgentID() string { return s.agentID }

// Append validates and stores m, assigning ID, AgentID and CreatedAt. It
// returns the stored record.
func (s *Store) Append(m Memory) (Memory, error) {
	out, err := s.Commit(Commit{Append: []Memory{m}})
	if err != nil {
		return Memory{}, err
	}
	return out[0], nil
}

// Touch sets LastAccessedAt of ids to at. Access times never move
// backwards. Unknown ids fail the whole call.
func (s *Store) Touch(ids []string, at time.Time) error {
	_, err := s.Commit(Commit{Touch: ids, TouchAt: at})
	return err
}

// Commit applies c atomically and returns the appended records.
func (s *Store) Commit(c Commit) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepared, err := s.prepare(c)
	if err != nil {
		return nil, err
	}

	if c.Consume != nil {
		s.acc[c.Consume.Level] = reset(s.acc[c.Consume.Level], *c.Consume)
	}
	out := make([]Memory, 0, len(prepared))
	for _, m := range prepared {
		s.index[m.ID] = len(s.memories)
		s.memories = append(s.memories, m)
		s.acc[accumulatorLevel(m)] += m.Importance
		s.last = m.CreatedAt
		out = append(out, m.Clone())
	}
	for _, id := range c.Touch {
		rec := &s.memories[s.index[id]]
		if c.TouchAt.After(rec.LastAccessedAt) {
			rec.LastAccessedAt = c.TouchAt
		}
	}
	return out, nil
}

// prepare validates c against the current state and returns the records to
// append with identity and timestamps filled in. It does not mutate s.
func (s *Store) prepare(c Commit) ([]Memory, error) {
	for _, id := range c.Touch {
		if _, ok := s.index[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
		}
	}
	if c.Consume != nil {
		if c.Consume.Level < 0 {
			return nil, fmt.Errorf("%w: consume level %d", ErrInvalidMemory, c.Consume.Level)
		}
		if c.Consume.Amount < 0 {
			return nil, fmt.Errorf("%w: consume amount %d", ErrInvalidMemory, c.Consume.Amount)
		}
		if c.Consume.Policy != ResetZero && c.Consume.Policy != ResetResidual {
			return nil, fmt.Errorf("%w: reset policy %q", ErrInvalidMemory, c.Consume.Policy)
		}
	}

	pending := make(map[string]Memory, len(c.Append))
	prepared := make([]Memory, 0, len(c.Append))
	last := s.last
	for _, m := range c.Append {
		m = m.Clone()
		if err := m.validate(); err != nil {
			return nil, err
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if _, dup := s.index[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidMemory, m.ID)
		}
		if _, dup := pending[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidMemory, m.ID)
		}

		if m.IsReflection() {
			for _, id := range m.EvidenceIDs {
				ev, ok := s.lookup(id, pending)
				if !ok {
					return nil, fmt.Errorf("%w: %s cites %s", ErrDanglingEvidence, m.ID, id)
				}
				if ev.Level >= m.Level {
					return nil, fmt.Errorf("%w: level %d cites level %d", ErrLevelOrder, m.Level, ev.Level)
				}
			}
		}

		m.AgentID = s.agentID
		m.CreatedAt = s.nextTimestamp(last)
		last = m.CreatedAt
		if m.LastAccessedAt.Before(m.CreatedAt) {
			m.LastAccessedAt = m.CreatedAt
		}
		pending[m.ID] = m
		prepared = append(prepared, m)
	}
	return prepared, nil
}

func (s *Store) lookup(id string, pending map[string]Memory) (Memory, bool) {
	if i, ok := s.index[id]; ok {
		return s.memories[i], true
	}
	m, ok := pending[id]
	return m, ok
}

// nextTimestamp returns the clock reading, nudged past last so creation
// times strictly increase even if the clock stalls or steps back.
func (s *Store) nextTimestamp(last time.Time) time.Time {
	now := s.now()
	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return now
}

func accumulatorLevel(m Memory) int {
	if m.IsReflection() {
		return m.Level
	}
	return 0
}

func reset(acc int, c Consume) int {
	used := c.Amount
	if c.Policy == ResetResidual {
		used = min(used, c.Threshold)
	}
	return max(acc-used, 0)
}

// Get returns one record.
func (s *Store) Get(id string) (Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Memory{}, fmt.Errorf("%w: %s", ErrMemoryNotFound, id)
	}
	return s.memories[i].Clone(), nil
}

// All returns every record in creation order.
func (s *Store) All() []Memory {
	return s.Filter(nil)
}

// Filter returns the records matching keep in creation order. A nil keep
// matches everything.
func (s *Store) Filter(keep func(Memory) bool) []Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Memory, 0, len(s.memories))
	for _, m := range s.memories {
		if keep == nil || keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Recent returns up to n of the newest records matching keep, oldest
// first.
func (s *Store) Recent(n int, keep func(Memory) bool) []Memory {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Memory
	for i := len(s.memories) - 1; i >= 0 && len(out) < n; i-- {
		if keep == nil || keep(s.memories[i]) {
			out = append(out, s.memories[i].Clone())
		}
	}
	slices.Reverse(out)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// Accumulator returns the importance sum of a level since its last reset.
func (s *Store) Accumulator(level int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acc[level]
}

// MaxLevel returns the highest reflection level present, 0 if none.
func (s *Store) MaxLevel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	top := 0
	for _, m := range s.memories {
		top = max(top, m.Level)
	}
	return top
}

// Stats summarizes a store.
type Stats struct {
	Total        int         `json:"total"`
	Observations int         `json:"observations"`
	Reflections  int         `json:"reflections"`
	Plans        int         `json:"plans"`
	Accumulators map[int]int `json:"accumulators"`
}

// Stats returns a summary of the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.memories), Accumulators: make(map[int]int, len(s.acc))}
	for _, m := range s.memories {
		switch m.Kind {
		case KindObservation:
			st.Observations++
		case KindReflection:
			st.Reflections++
		case KindPlan:
			st.Plans++
		}
	}
	for l, v := range s.acc {
		st.Accumulators[l] = v
	}
	return st
}

// Tree builds the reflection tree view.
func (s *Store) Tree() *Tree {
	return NewTree(s.All())
}
