package bayes

import (
	"fmt"
	"sort"
)

// factor is a table over a sorted set of variables. The last variable varies
// fastest in vals.
type factor struct {
	vars []int
	card []int
	vals []float64
}

func newFactor(net *Network, vars []int) *factor {
	f := &factor{vars: append([]int(nil), vars...)}
	sort.Ints(f.vars)
	size := 1
	f.card = make([]int, len(f.vars))
	for i, v := range f.vars {
		f.card[i] = net.card(v)
		size *= f.card[i]
	}
	f.vals = make([]float64, size)
	return f
}

func (f *factor) fill(v float64) {
	for i := range f.vals {
		f.vals[i] = v
	}
}

// strides returns, for each of f's variables, its stride in f.vals.
func (f *factor) strides() []int {
	s := make([]int, len(f.vars))
	stride := 1
	for i := len(f.vars) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= f.card[i]
	}
	return s
}

// position returns where a variable sits in f.vars, or -1.
func (f *factor) position(v int) int {
	for i, fv := range f.vars {
		if fv == v {
			return i
		}
	}
	return -1
}

// forEachAssignment walks every full assignment of f's variables, calling fn
// with the linear index and the assignment slice (reused between calls).
func (f *factor) forEachAssignment(fn func(idx int, assign []int)) {
	assign := make([]int, len(f.vars))
	for idx := 0; idx < len(f.vals); idx++ {
		fn(idx, assign)
		for i := len(assign) - 1; i >= 0; i-- {
			assign[i]++
			if assign[i] < f.card[i] {
				break
			}
			assign[i] = 0
		}
	}
}

// multiplyIn multiplies another factor into f. other's variables must be a
// subset of f's.
func (f *factor) multiplyIn(other *factor) {
	positions := make([]int, len(other.vars))
	for i, v := range other.vars {
		positions[i] = f.position(v)
	}
	otherStrides := other.strides()
	f.forEachAssignment(func(idx int, assign []int) {
		oIdx := 0
		for i, pos := range positions {
			oIdx += assign[pos] * otherStrides[i]
		}
		f.vals[idx] *= other.vals[oIdx]
	})
}

// marginalizeTo sums f down onto the given variable subset.
func (f *factor) marginalizeTo(net *Network, vars []int) *factor {
	out := newFactor(net, vars)
	positions := make([]int, len(out.vars))
	for i, v := range out.vars {
		positions[i] = f.position(v)
	}
	outStrides := out.strides()
	f.forEachAssignment(func(idx int, assign []int) {
		oIdx := 0
		for i, pos := range positions {
			oIdx += assign[pos] * outStrides[i]
		}
		out.vals[oIdx] += f.vals[idx]
	})
	return out
}

// clique is one node of the junction tree.
type clique struct {
	members   []int
	neighbors []int
	sepsets   [][]int // parallel to neighbors: shared variables
	families  []int   // network nodes whose CPT is multiplied in here
}

// JoinTree is the secondary structure inference runs on. The potential and
// message buffers are scratch state reused across queries, so a JoinTree
// must not be shared between goroutines without external locking; the
// evaluator's instance pool provides that.
type JoinTree struct {
	net     *Network
	cliques []*clique

	// Scratch, sized at build time.
	potentials []*factor
	messages   [][]*factor // messages[i][k]: from clique i toward neighbors[i][k]
}

// NumNodes returns the number of variables in the underlying network.
func (jt *JoinTree) NumNodes() int { return len(jt.net.Nodes) }

// BuildJoinTree moralises and triangulates the network, extracts the maximal
// cliques, and connects them into a junction tree by maximum-weight spanning
// over sepset sizes.
func BuildJoinTree(net *Network) (*JoinTree, error) {
	n := len(net.Nodes)

	// Moral graph: undirected skeleton plus marriages between co-parents.
	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}
	link := func(a, b int) {
		if a != b {
			adj[a][b] = true
			adj[b][a] = true
		}
	}
	for child, node := range net.Nodes {
		for _, p := range node.Parents {
			link(child, p)
		}
		for i := 0; i < len(node.Parents); i++ {
			for j := i + 1; j < len(node.Parents); j++ {
				link(node.Parents[i], node.Parents[j])
			}
		}
	}

	// Triangulate by min-fill elimination, recording the elimination cliques.
	remaining := make([]bool, n)
	for i := range remaining {
		remaining[i] = true
	}
	work := make([][]bool, n)
	for i := range work {
		work[i] = append([]bool(nil), adj[i]...)
	}
	var elimCliques [][]int
	for count := 0; count < n; count++ {
		best, bestFill := -1, 1<<30
		for v := 0; v < n; v++ {
			if !remaining[v] {
				continue
			}
			fill := fillCount(work, remaining, v)
			if fill < bestFill {
				best, bestFill = v, fill
			}
		}
		v := best
		var members []int
		members = append(members, v)
		for u := 0; u < n; u++ {
			if remaining[u] && u != v && work[v][u] {
				members = append(members, u)
			}
		}
		// Connect the neighborhood into a clique.
		for i := 1; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				work[members[i]][members[j]] = true
				work[members[j]][members[i]] = true
			}
		}
		sort.Ints(members)
		elimCliques = append(elimCliques, members)
		remaining[v] = false
	}

	// Keep only maximal cliques.
	var maximal [][]int
	for i, c := range elimCliques {
		contained := false
		for j, other := range elimCliques {
			if i != j && len(c) <= len(other) && isSubset(c, other) {
				if len(c) < len(other) || i > j {
					contained = true
					break
				}
			}
		}
		if !contained {
			maximal = append(maximal, c)
		}
	}

	jt := &JoinTree{net: net}
	for _, m := range maximal {
		jt.cliques = append(jt.cliques, &clique{members: m})
	}

	// Junction tree: maximum spanning tree over sepset cardinality (Prim).
	nc := len(jt.cliques)
	if nc > 1 {
		inTree := make([]bool, nc)
		inTree[0] = true
		for added := 1; added < nc; added++ {
			bestI, bestJ, bestW := -1, -1, -1
			for i := 0; i < nc; i++ {
				if !inTree[i] {
					continue
				}
				for j := 0; j < nc; j++ {
					if inTree[j] {
						continue
					}
					w := len(intersect(jt.cliques[i].members, jt.cliques[j].members))
					if w > bestW {
						bestI, bestJ, bestW = i, j, w
					}
				}
			}
			sep := intersect(jt.cliques[bestI].members, jt.cliques[bestJ].members)
			jt.cliques[bestI].neighbors = append(jt.cliques[bestI].neighbors, bestJ)
			jt.cliques[bestI].sepsets = append(jt.cliques[bestI].sepsets, sep)
			jt.cliques[bestJ].neighbors = append(jt.cliques[bestJ].neighbors, bestI)
			jt.cliques[bestJ].sepsets = append(jt.cliques[bestJ].sepsets, sep)
			inTree[bestJ] = true
		}
	}

	// Assign every family (node plus parents) to one containing clique.
	for node := range net.Nodes {
		family := append([]int{node}, net.Nodes[node].Parents...)
		sort.Ints(family)
		assigned := false
		for ci, c := range jt.cliques {
			if isSubset(family, c.members) {
				jt.cliques[ci].families = append(jt.cliques[ci].families, node)
				assigned = true
				break
			}
		}
		if !assigned {
			return nil, fmt.Errorf("join tree: no clique contains family of node %q", net.Nodes[node].Name)
		}
	}

	// Preallocate scratch potentials and message buffers.
	jt.potentials = make([]*factor, nc)
	jt.messages = make([][]*factor, nc)
	for i, c := range jt.cliques {
		jt.potentials[i] = newFactor(net, c.members)
		jt.messages[i] = make([]*factor, len(c.neighbors))
		for k, sep := range c.sepsets {
			jt.messages[i][k] = newFactor(net, sep)
		}
	}
	return jt, nil
}

func fillCount(adj [][]bool, remaining []bool, v int) int {
	var nbrs []int
	for u := range adj {
		if remaining[u] && u != v && adj[v][u] {
			nbrs = append(nbrs, u)
		}
	}
	fill := 0
	for i := 0; i < len(nbrs); i++ {
		for j := i + 1; j < len(nbrs); j++ {
			if !adj[nbrs[i]][nbrs[j]] {
				fill++
			}
		}
	}
	return fill
}

func isSubset(sub, super []int) bool {
	i := 0
	for _, s := range sub {
		for i < len(super) && super[i] < s {
			i++
		}
		if i >= len(super) || super[i] != s {
			return false
		}
	}
	return true
}

func intersect(a, b []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Observation instantiates one node to one of its states.
type Observation struct {
	Node  int
	State int
}

// Posterior runs sum-product belief propagation and returns the marginal
// probability that targetNode is in targetState given the observations.
// Multiple nodes may be instantiated simultaneously.
func (jt *JoinTree) Posterior(targetNode, targetState int, obs []Observation) (float64, error) {
	net := jt.net
	if targetNode < 0 || targetNode >= len(net.Nodes) {
		return 0, fmt.Errorf("join tree: target node %d out of range", targetNode)
	}
	if targetState < 0 || targetState >= net.card(targetNode) {
		return 0, fmt.Errorf("join tree: target state %d out of range", targetState)
	}

	// Initialise clique potentials from the assigned CPTs.
	for ci, c := range jt.cliques {
		pot := jt.potentials[ci]
		pot.fill(1)
		for _, node := range c.families {
			pot.multiplyIn(cptFactor(net, node))
		}
	}

	// Enter evidence: zero out disagreeing states at one containing clique.
	for _, o := range obs {
		if o.Node < 0 || o.Node >= len(net.Nodes) {
			return 0, fmt.Errorf("join tree: evidence node %d out of range", o.Node)
		}
		if o.State < 0 || o.State >= net.card(o.Node) {
			return 0, fmt.Errorf("join tree: evidence state %d out of range for node %q", o.State, net.Nodes[o.Node].Name)
		}
		ci := jt.cliqueContaining(o.Node)
		pot := jt.potentials[ci]
		pos := pot.position(o.Node)
		pot.forEachAssignment(func(idx int, assign []int) {
			if assign[pos] != o.State {
				pot.vals[idx] = 0
			}
		})
	}

	// Two-pass Shafer-Shenoy message passing rooted at clique 0.
	jt.collect(0, -1)
	jt.distribute(0, -1)

	// Belief of any clique containing the target, marginalised and normalised.
	ci := jt.cliqueContaining(targetNode)
	belief := jt.belief(ci)
	marg := belief.marginalizeTo(net, []int{targetNode})
	total := 0.0
	for _, v := range marg.vals {
		total += v
	}
	if total == 0 {
		return 0, fmt.Errorf("join tree: evidence has zero probability")
	}
	return marg.vals[targetState] / total, nil
}

func (jt *JoinTree) cliqueContaining(node int) int {
	for ci, c := range jt.cliques {
		for _, m := range c.members {
			if m == node {
				return ci
			}
		}
	}
	return 0
}

// collect computes inward messages from the leaves toward the root.
func (jt *JoinTree) collect(ci, parent int) {
	c := jt.cliques[ci]
	for _, nb := range c.neighbors {
		if nb == parent {
			continue
		}
		jt.collect(nb, ci)
		jt.storeMessage(nb, ci)
	}
}

// distribute pushes outward messages from the root toward the leaves.
func (jt *JoinTree) distribute(ci, parent int) {
	c := jt.cliques[ci]
	for _, nb := range c.neighbors {
		if nb == parent {
			continue
		}
		jt.storeMessage(ci, nb)
		jt.distribute(nb, ci)
	}
}

// storeMessage computes the message from clique `from` to clique `to`:
// the product of from's potential and all incoming messages except the one
// from `to`, marginalised onto the shared sepset.
func (jt *JoinTree) storeMessage(from, to int) {
	c := jt.cliques[from]
	prod := newFactor(jt.net, c.members)
	copy(prod.vals, jt.potentials[from].vals)
	for _, nb := range c.neighbors {
		if nb == to {
			continue
		}
		if msg := jt.incoming(nb, from); msg != nil {
			prod.multiplyIn(msg)
		}
	}
	var sep []int
	var slot int
	for k, nb := range c.neighbors {
		if nb == to {
			sep = c.sepsets[k]
			slot = k
			break
		}
	}
	out := prod.marginalizeTo(jt.net, sep)
	copy(jt.messages[from][slot].vals, out.vals)
}

// incoming returns the stored message from clique `from` toward clique `to`.
func (jt *JoinTree) incoming(from, to int) *factor {
	c := jt.cliques[from]
	for k, nb := range c.neighbors {
		if nb == to {
			return jt.messages[from][k]
		}
	}
	return nil
}

// belief multiplies a clique's potential with all of its incoming messages.
func (jt *JoinTree) belief(ci int) *factor {
	c := jt.cliques[ci]
	out := newFactor(jt.net, c.members)
	copy(out.vals, jt.potentials[ci].vals)
	for _, nb := range c.neighbors {
		if msg := jt.incoming(nb, ci); msg != nil {
			out.multiplyIn(msg)
		}
	}
	return out
}

// cptFactor views a node's CPT as a factor over the family.
func cptFactor(net *Network, node int) *factor {
	family := append([]int{node}, net.Nodes[node].Parents...)
	f := newFactor(net, family)

	// The CPT is laid out with parents outermost in declaration order and
	// the node's own states innermost; the factor is sorted by node index,
	// so translate each assignment.
	parents := net.Nodes[node].Parents
	nStates := net.card(node)

	parentPos := make([]int, len(parents))
	for i, pv := range parents {
		parentPos[i] = f.position(pv)
	}
	nodePos := f.position(node)

	f.forEachAssignment(func(idx int, assign []int) {
		cptIdx := 0
		for i := range parents {
			cptIdx = cptIdx*net.card(parents[i]) + assign[parentPos[i]]
		}
		cptIdx = cptIdx*nStates + assign[nodePos]
		f.vals[idx] = net.Nodes[node].CPT[cptIdx]
	})
	return f
}
