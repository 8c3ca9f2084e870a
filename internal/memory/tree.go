package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Node is a reflection in the tree, without its embedding.
type Node struct {
	ID          string    `json:"id"`
	Level       int       `json:"level"`
	Text        string    `json:"text"`
	Question    string    `json:"question,omitempty"`
	Category    Category  `json:"category,omitempty"`
	Importance  int       `json:"importance"`
	Confidence  float64   `json:"confidence"`
	EvidenceIDs []string  `json:"evidence_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Tree is a read-only view of reflections organized by level. Evidence
// edges point from a node down to the records it summarizes.
type Tree struct {
	levels  map[int][]Node
	nodes   map[string]Node
	records map[string]Memory
	cited   map[string]bool
}

// NewTree builds a tree over memories, which should be a whole store.
func NewTree(memories []Memory) *Tree {
	t := &Tree{
		levels:  make(map[int][]Node),
		nodes:   make(map[string]Node),
		records: make(map[string]Memory, len(memories)),
		cited:   make(map[string]bool),
	}
	for _, m := range memories {
		m.Embedding = nil
		t.records[m.ID] = m
		if !m.IsReflection() {
			continue
		}
		n := Node{
			ID:          m.ID,
			Level:       m.Level,
			Text:        m.Text,
			Question:    m.Question,
			Category:    m.Category,
			Importance:  m.Importance,
			Confidence:  m.Confidence,
			EvidenceIDs: slices.Clone(m.EvidenceIDs),
			CreatedAt:   m.CreatedAt,
		}
		t.nodes[n.ID] = n
		t.levels[n.Level] = append(t.levels[n.Level], n)
		for _, id := range n.EvidenceIDs {
			t.cited[id] = true
		}
	}
	return t
}

// Len returns the number of reflections.
func (t *Tree) Len() int { return len(t.nodes) }

// Depth returns the highest level present, 0 for an empty tree.
func (t *Tree) Depth() int {
	depth := 0
	for l := range t.levels {
		depth = max(depth, l)
	}
	return depth
}

// Levels returns the populated levels in ascending order.
func (t *Tree) Levels() []int {
	out := make([]int, 0, len(t.levels))
	for l := range t.levels {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// Level returns the nodes at level l in creation order.
func (t *Tree) Level(l int) []Node {
	return slices.Clone(t.levels[l])
}

// Node returns one reflection.
func (t *Tree) Node(id string) (Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Evidence returns the records a node cites. Missing records are skipped;
// Validate reports them.
func (t *Tree) Evidence(id string) []Memory {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]Memory, 0, len(n.EvidenceIDs))
	for _, eid := range n.EvidenceIDs {
		if m, ok := t.records[eid]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Roots returns reflections no other reflection cites, highest level
// first.
func (t *Tree) Roots() []Node {
	var out []Node
	levels := t.Levels()
	slices.Reverse(levels)
	for _, l := range levels {
		for _, n := range t.levels[l] {
			if !t.cited[n.ID] {
				out = append(out, n)
			}
		}
	}
	return out
}

// Validate checks that no evidence dangles and that every node sits
// strictly above all of its evidence.
func (t *Tree) Validate() error {
	var errs []error
	for _, l := range t.Levels() {
		for _, n := range t.levels[l] {
			for _, eid := range n.EvidenceIDs {
				ev, ok := t.records[eid]
				if !ok {
					errs = append(errs, fmt.Errorf("%w: %s cites %s", ErrDanglingEvidence, n.ID, eid))
					continue
				}
				if ev.Level >= n.Level {
					errs = append(errs, fmt.Errorf("%w: %s (level %d) cites %s (level %d)", ErrLevelOrder, n.ID, n.Level, eid, ev.Level))
				}
			}
		}
	}
	return errors.Join(errs...)
}

type treeLevel struct {
	Level int    `json:"level"`
	Nodes []Node `json:"nodes"`
}

// MarshalJSON renders the tree as levels in ascending order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	out := struct {
		Depth  int         `json:"depth"`
		Size   int         `json:"size"`
		Levels []treeLevel `json:"levels"`
	}{Depth: t.Depth(), Size: t.Len(), Levels: []treeLevel{}}
	for _, l := range t.Levels() {
		out.Levels = append(out.Levels, treeLevel{Level: l, Nodes: t.levels[l]})
	}
	return json.Marshal(out)
}
