package simulation

import (
	"time"

	"github.com/fyrsmithlabs/mazemind/internal/config"
)

// DefaultScenario is a short maze run: the agents wander, hit a trap, find
// a key and reach the exit, reflecting along the way. Importance 0 lets the
// runtime estimate it.
func DefaultScenario(agents int) Scenario {
	minutes := func(n int) config.Duration { return config.Duration(time.Duration(n) * time.Minute) }
	obs := func(text string, importance int) Action {
		return Action{Type: ActionObserve, Text: text, Importance: importance}
	}

	return Scenario{
		Name:        "maze",
		Description: "Escape a small maze with a trap, a locked door and a key",
		Agents:      agents,
		Actions: []Action{
			obs("I am {agent}, standing at the entrance of a stone maze", 3),
			obs("The corridor splits into a north and an east passage", 4),
			{Type: ActionPlan, Text: "Try the north passage first and mark every junction", Importance: 4},
			{Type: ActionAdvance, Advance: minutes(5)},
			obs("The north passage ends in a dead end covered in moss", 2),
			obs("A floor tile gave way and I fell into a spike trap, injuring my leg", 9),
			obs("Loose floor tiles are slightly darker than the others", 0),
			{Type: ActionTick},
			{Type: ActionAdvance, Advance: minutes(10)},
			obs("The east passage is lit by torches", 3),
			obs("A locked iron door blocks the east passage", 6),
			obs("I found a brass key under a torch bracket", 8),
			obs("The brass key opens the iron door", 7),
			{Type: ActionReflect},
			{Type: ActionAdvance, Advance: minutes(10)},
			obs("Behind the door the torches get brighter toward a draft of fresh air", 5),
			obs("I reached the exit of the maze", 10),
			{Type: ActionReflect},
			{Type: ActionRetrieve, Query: "How do I reach the exit safely?", K: 5},
		},
		Assertions: []Assertion{
			{Type: AssertMemoryCount, Value: 12, Message: "every step is remembered"},
			{Type: AssertReflectionsAtLeast, Value: 1, Message: "agents reflect on the run"},
			{Type: AssertTreeDepthAtLeast, Value: 1},
			{Type: AssertRetrievedContains, Text: "exit"},
		},
	}
}
