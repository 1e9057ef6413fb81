package scope

import "fmt"

// Graph is a typed permission graph. Nodes are capabilities, edges are
// "requires" relations: holding the edge's origin implies holding its target.
// Implied sets are computed by reachability, and Validate rejects cycles
// instead of silently tolerating them.
type Graph struct {
	requires map[Capability][]Capability
}

func NewGraph() *Graph {
	return &Graph{requires: make(map[Capability][]Capability)}
}

// DefaultGraph encodes the production requirement edges: every mutating
// capability requires view, and confirm requires review.
func DefaultGraph() *Graph {
	g := NewGraph()
	g.Require(CapCreate, CapView)
	g.Require(CapReview, CapView)
	g.Require(CapCancel, CapView)
	g.Require(CapValidate, CapView)
	g.Require(CapCollaborators, CapView)
	g.Require(CapConfirm, CapReview)
	return g
}

// Require records that holding from implies holding to.
func (g *Graph) Require(from, to Capability) {
	g.requires[from] = append(g.requires[from], to)
}

// Reaches reports whether to is implied by holding from.
func (g *Graph) Reaches(from, to Capability) bool {
	if from == to {
		return true
	}
	seen := map[Capability]bool{from: true}
	queue := []Capability{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.requires[current] {
			if next == to {
				return true
			}
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

// Closure returns every capability implied by the given set, including the
// set itself, in unspecified order.
func (g *Graph) Closure(caps ...Capability) []Capability {
	seen := make(map[Capability]bool, len(caps))
	queue := append([]Capability(nil), caps...)
	for _, c := range caps {
		seen[c] = true
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.requires[current] {
			if seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	out := make([]Capability, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// Validate returns an error naming the first requirement cycle found.
func (g *Graph) Validate() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[Capability]int, len(g.requires))

	var visit func(c Capability) error
	visit = func(c Capability) error {
		switch state[c] {
		case visiting:
			return fmt.Errorf("requirement cycle through %q", c)
		case done:
			return nil
		}
		state[c] = visiting
		for _, next := range g.requires[c] {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[c] = done
		return nil
	}

	for c := range g.requires {
		if err := visit(c); err != nil {
			return err
		}
	}
	return nil
}
