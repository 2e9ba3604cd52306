package config

import (
	"fmt"
)

// Direction labels how a message travels through the hierarchy.
type Direction string

const (
	DirectionSelf       Direction = "SELF"
	DirectionUpward     Direction = "UPWARD"
	DirectionDownward   Direction = "DOWNWARD"
	DirectionHorizontal Direction = "HORIZONTAL"
)

// Roster is the immutable agent hierarchy loaded at startup.
type Roster struct {
	order    []string
	agents   map[string]AgentConfig
	children map[string][]string
}

// NewRoster validates agents and indexes them. IDs must be unique, parents
// must exist and the parent chain must not loop.
func NewRoster(agents []AgentConfig) (*Roster, error) {
	r := &Roster{
		agents:   make(map[string]AgentConfig, len(agents)),
		children: make(map[string][]string),
	}
	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent with role %q has no id", a.Role)
		}
		if _, dup := r.agents[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		if a.Type == "" {
			a.Type = AgentAI
		}
		if a.Type != AgentAI && a.Type != AgentHuman {
			return nil, fmt.Errorf("agent %q: unknown type %q", a.ID, a.Type)
		}
		a.Capabilities = append([]string(nil), a.Capabilities...)
		r.agents[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	for _, id := range r.order {
		parent := r.agents[id].Parent
		if parent == "" {
			continue
		}
		if _, ok := r.agents[parent]; !ok {
			return nil, fmt.Errorf("agent %q: unknown parent %q", id, parent)
		}
		r.children[parent] = append(r.children[parent], id)
	}
	for _, id := range r.order {
		seen := map[string]bool{id: true}
		for p := r.agents[id].Parent; p != ""; p = r.agents[p].Parent {
			if seen[p] {
				return nil, fmt.Errorf("agent %q: parent chain loops through %q", id, p)
			}
			seen[p] = true
		}
	}
	return r, nil
}

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (AgentConfig, bool) {
	a, ok := r.agents[id]
	if !ok {
		return AgentConfig{}, false
	}
	a.Capabilities = append([]string(nil), a.Capabilities...)
	return a, true
}

// Agents returns every agent in declaration order.
func (r *Roster) Agents() []AgentConfig {
	out := make([]AgentConfig, 0, len(r.order))
	for _, id := range r.order {
		a, _ := r.Get(id)
		out = append(out, a)
	}
	return out
}

// Parent returns the direct superior of id, or "" at the top.
func (r *Roster) Parent(id string) string {
	return r.agents[id].Parent
}

// Human reports whether id is a human-operated role.
func (r *Roster) Human(id string) bool {
	return r.agents[id].Human()
}

// Children returns the direct reports of id in declaration order.
func (r *Roster) Children(id string) []string {
	return append([]string(nil), r.children[id]...)
}

// Direction reports how a message from one agent to another travels.
// Relationships other than parent/child are treated as horizontal.
func (r *Roster) Direction(from, to string) Direction {
	switch {
	case from == to:
		return DirectionSelf
	case r.Parent(from) == to:
		return DirectionUpward
	case r.Parent(to) == from:
		return DirectionDownward
	default:
		return DirectionHorizontal
	}
}

// Len returns the number of agents.
func (r *Roster) Len() int { return len(r.order) }
