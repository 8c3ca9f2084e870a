// Package simulation drives agents through scripted maze runs. A Scenario
// lists the actions every agent takes; the Runner plays them concurrently
// against a runtime and checks assertions on the resulting memories and
// reflection trees.
package simulation

import (
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/agent"
	"github.com/fyrsmithlabs/mazemind/internal/config"
	"github.com/fyrsmithlabs/mazemind/internal/memory"
)

// Action types.
const (
	ActionObserve  = "observe"
	ActionPlan     = "plan"
	ActionRetrieve = "retrieve"
	ActionReflect  = "reflect"
	ActionTick     = "tick"
	ActionAdvance  = "advance"
)

// Assertion types. memory_count counts observations and plans only.
const (
	AssertMemoryCount        = "memory_count"
	AssertReflectionsAtLeast = "reflections_at_least"
	AssertTreeDepthAtLeast   = "tree_depth_at_least"
	AssertRetrievedContains  = "retrieved_contains"
)

// Scenario defines a scripted run.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Agents is how many agents play the script. Agent ids are
	// "<name>-<n>" starting at 1.
	Agents int `json:"agents"`

	Actions    []Action    `json:"actions"`
	Assertions []Assertion `json:"assertions,omitempty"`
}

// Action is one step of a scenario. Every agent takes each step before any
// agent moves to the next. "{agent}" in Text or Query is replaced by the
// acting agent's id.
type Action struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Importance int    `json:"importance,omitempty"`
	Query      string `json:"query,omitempty"`
	K          int    `json:"k,omitempty"`
	// Advance is the simulated time an "advance" action moves the clock.
	Advance config.Duration `json:"advance,omitempty"`
}

// Assertion is checked against every agent after the actions run.
type Assertion struct {
	Type    string  `json:"type"`
	Value   float64 `json:"value,omitempty"`
	Text    string  `json:"text,omitempty"`
	Message string  `json:"message,omitempty"`
}

// AssertResult captures one assertion outcome for one agent.
type AssertResult struct {
	Assertion Assertion `json:"assertion"`
	Passed    bool      `json:"passed"`
	Actual    any       `json:"actual,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// AgentResult is the end state of one agent.
type AgentResult struct {
	ID         string         `json:"id"`
	Stats      agent.Stats    `json:"stats"`
	Tree       *memory.Tree   `json:"tree"`
	Retrieved  []string       `json:"retrieved,omitempty"`
	Assertions []AssertResult `json:"assertions,omitempty"`
	Passed     bool           `json:"passed"`
}

// Result captures the outcome of running a scenario.
type Result struct {
	Scenario string        `json:"scenario"`
	Passed   bool          `json:"passed"`
	Agents   []AgentResult `json:"agents"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
