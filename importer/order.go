package importer

import "github.com/zero-day-ai/stixgraph/mapping"

// node is one entity in the dependency plan.
type node struct {
	index int
	rec   *mapping.Record

	// waiting holds in-bundle references not yet processed.
	waiting    map[string]struct{}
	dependents []*node

	// deferred holds references dropped to break a cycle; they are patched
	// in once the whole plan has run.
	deferred map[string]struct{}
	done     bool
}

// plan orders entities into waves by reference dependency.
type plan struct {
	nodes     []*node
	byStix    map[string]*node
	remaining int
}

// newPlan builds the plan. records must be in bundle order with unique ids.
func newPlan(records []*mapping.Record) *plan {
	p := &plan{byStix: make(map[string]*node, len(records))}
	for i, rec := range records {
		n := &node{index: i, rec: rec, waiting: map[string]struct{}{}}
		p.nodes = append(p.nodes, n)
		p.byStix[rec.StixID] = n
	}
	for _, n := range p.nodes {
		for _, ref := range n.rec.RefStixIDs() {
			dep, ok := p.byStix[ref]
			if !ok || dep == n {
				continue
			}
			if _, dup := n.waiting[ref]; dup {
				continue
			}
			n.waiting[ref] = struct{}{}
			dep.dependents = append(dep.dependents, n)
		}
	}
	p.remaining = len(p.nodes)
	return p
}

// contains reports whether stixID is an entity of the bundle.
func (p *plan) contains(stixID string) bool {
	_, ok := p.byStix[stixID]
	return ok
}

// next returns the next wave in bundle order, or nil when every node is
// done. If nothing is ready, the earliest remaining node that sits on a
// reference cycle has its pending references deferred and forms the wave
// on its own.
func (p *plan) next() []*node {
	if p.remaining == 0 {
		return nil
	}

	var wave []*node
	for _, n := range p.nodes {
		if !n.done && len(n.waiting) == 0 {
			wave = append(wave, n)
		}
	}
	if len(wave) > 0 {
		return wave
	}

	var stuck *node
	for _, n := range p.nodes {
		if n.done {
			continue
		}
		if stuck == nil {
			stuck = n
		}
		if p.onCycle(n) {
			stuck = n
			break
		}
	}
	if stuck == nil {
		return nil
	}
	stuck.deferred = stuck.waiting
	stuck.waiting = map[string]struct{}{}
	return []*node{stuck}
}

// onCycle reports whether n can reach itself through pending references.
func (p *plan) onCycle(n *node) bool {
	seen := map[*node]bool{}
	stack := []*node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for ref := range cur.waiting {
			dep := p.byStix[ref]
			if dep == n {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// complete marks the wave done and releases its dependents.
func (p *plan) complete(wave []*node) {
	for _, n := range wave {
		if n.done {
			continue
		}
		n.done = true
		p.remaining--
		for _, d := range n.dependents {
			delete(d.waiting, n.rec.StixID)
		}
	}
}

// deferredNodes returns the nodes that had references deferred.
func (p *plan) deferredNodes() []*node {
	var out []*node
	for _, n := range p.nodes {
		if len(n.deferred) > 0 {
			out = append(out, n)
		}
	}
	return out
}
