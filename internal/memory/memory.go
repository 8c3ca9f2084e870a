// Package memory holds the per-agent memory record model: observations,
// plans and the reflections synthesized from them, kept in an append-only
// store that also tracks the importance accumulators driving reflection.
package memory

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Importance bounds.
const (
	MinImportance = 1
	MaxImportance = 10
)

var (
	// ErrMemoryNotFound indicates an unknown memory id.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrInvalidMemory indicates a record that fails validation.
	ErrInvalidMemory = errors.New("invalid memory")

	// ErrInvalidImportance indicates importance outside [1,10].
	ErrInvalidImportance = errors.New("importance out of range")

	// ErrDanglingEvidence indicates evidence that references no record.
	ErrDanglingEvidence = errors.New("dangling evidence reference")

	// ErrLevelOrder indicates a reflection whose level is not above every
	// piece of its evidence.
	ErrLevelOrder = errors.New("reflection level not above its evidence")
)

// Kind is the type of a memory record.
type Kind string

const (
	KindObservation Kind = "observation"
	KindReflection  Kind = "reflection"
	KindPlan        Kind = "plan"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindObservation, KindReflection, KindPlan:
		return true
	}
	return false
}

// Category classifies a reflection.
type Category string

const (
	CategoryStrategy  Category = "strategy"
	CategoryPattern   Category = "pattern"
	CategoryEmotional Category = "emotional"
	CategoryLearning  Category = "learning"
	CategorySocial    Category = "social"
	CategoryMeta      Category = "meta"
)

// Categories lists every category.
var Categories = []Category{
	CategoryStrategy, CategoryPattern, CategoryEmotional,
	CategoryLearning, CategorySocial, CategoryMeta,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Memory is one record in an agent's memory.
type Memory struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	CreatedAt      time.Time `json:"created_at"`
	Kind           Kind      `json:"kind"`
	Text           string    `json:"text"`
	Importance     int       `json:"importance"`
	Embedding      []float32 `json:"embedding,omitempty"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// Reflection fields. Observations and plans are level 0.
	Level       int      `json:"level"`
	Question    string   `json:"question,omitempty"`
	Category    Category `json:"category,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// IsReflection reports whether m is a reflection.
func (m Memory) IsReflection() bool { return m.Kind == KindReflection }

// Clone returns a deep copy of m.
func (m Memory) Clone() Memory {
	m.Embedding = slices.Clone(m.Embedding)
	m.EvidenceIDs = slices.Clone(m.EvidenceIDs)
	return m
}

// validate checks the record on its own, without reference to a store.
func (m Memory) validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMemory, m.Kind)
	}
	if m.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidMemory)
	}
	if m.Importance < MinImportance || m.Importance > MaxImportance {
		return fmt.Errorf("%w: %d", ErrInvalidImportance, m.Importance)
	}
	if !m.IsReflection() {
		if m.Level != 0 || len(m.EvidenceIDs) > 0 {
			return fmt.Errorf("%w: only reflections carry a level and evidence", ErrInvalidMemory)
		}
		return nil
	}
	if m.Level < 1 {
		return fmt.Errorf("%w: reflection level %d", ErrLevelOrder, m.Level)
	}
	if m.Category != "" && !m.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidMemory, m.Category)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrInvalidMemory, m.Confidence)
	}
	return nil
}

// ClampImportance bounds v to [MinImportance, MaxImportance].
func ClampImportance(v int) int {
	return max(MinImportance, min(MaxImportance, v))
}
