package http

import "github.com/fyrsmithlabs/mazemind/internal/agent"

// CountFromStats totals memory kinds across the agents in st and reports
// the deepest reflection tree.
func CountFromStats(st agent.RuntimeStats) StatusCounts {
	c := StatusCounts{Agents: len(st.Agents)}
	for _, a := range st.Agents {
		c.Observations += a.Memory.Observations
		c.Plans += a.Memory.Plans
		c.Reflections += a.Memory.Reflections
		if a.TreeDepth > c.MaxDepth {
			c.MaxDepth = a.TreeDepth
		}
	}
	return c
}
