package path

import "slices"

// findCycle returns one cycle in the origin graph as a closed list of path
// ids (first == last), or nil when the graph is acyclic.
//
// It runs Tarjan's strongly connected components algorithm; any SCC with
// more than one node, or a node with a self edge, is a cycle.
func findCycle(edges map[int][]int) []int {
	for _, scc := range tarjanSCC(edges) {
		if len(scc) > 1 || slices.Contains(edges[scc[0]], scc[0]) {
			return cyclePath(scc, edges)
		}
	}
	return nil
}

func tarjanSCC(edges map[int][]int) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make(map[int]int)
		lowlink = make(map[int]int)
		onStack = make(map[int]bool)
		sccs    [][]int
	)

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit in id order so the reported cycle is deterministic.
	nodes := make([]int, 0, len(edges))
	for n := range edges {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath walks edges inside the SCC from its smallest member until it
// returns to the start.
func cyclePath(scc []int, edges map[int][]int) []int {
	members := make(map[int]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := slices.Min(scc)
	path := []int{start}
	visited := map[int]bool{}

	for cur := start; ; {
		visited[cur] = true
		next, found := 0, false
		for _, w := range edges[cur] {
			if members[w] && (w == start || !visited[w]) {
				next, found = w, true
				break
			}
		}
		if !found {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		cur = next
	}
}
