package optimizer

import (
	"context"
	"math"
	"sort"
)

// Edge is one eligible (issue, crew) decision variable. Issue and Crew index
// into the problem's issue list and Capacities.
type Edge struct {
	Issue int
	Crew  int
	Cost  float64
}

// Problem is a capacitated bipartite assignment instance. Every issue takes
// at most one crew; crew j takes at most Capacities[j] issues.
type Problem struct {
	Issues     int
	Capacities []int
	Edges      []Edge
}

// Solver finds an exact optimum: the largest number of assignments, and among
// those the one with the lowest total cost. Implementations must not retain
// or mutate the problem.
type Solver interface {
	Solve(ctx context.Context, p Problem) ([]Edge, error)
}

const costEpsilon = 1e-9

var inf = math.Inf(1)

// MinCostFlow solves the assignment as a min-cost max-flow using successive
// shortest augmenting paths.
type MinCostFlow struct{}

type arc struct {
	to, rev int
	cap     int
	cost    float64
	edge    int // index into Problem.Edges, -1 for source/sink arcs
}

func (MinCostFlow) Solve(ctx context.Context, p Problem) ([]Edge, error) {
	if p.Issues == 0 || len(p.Capacities) == 0 || len(p.Edges) == 0 {
		return nil, nil
	}

	// source, issues, crews, sink
	source := 0
	issueNode := func(i int) int { return 1 + i }
	crewNode := func(j int) int { return 1 + p.Issues + j }
	sink := 1 + p.Issues + len(p.Capacities)
	graph := make([][]arc, sink+1)

	addArc := func(from, to, capacity int, cost float64, edge int) {
		graph[from] = append(graph[from], arc{to: to, rev: len(graph[to]), cap: capacity, cost: cost, edge: edge})
		graph[to] = append(graph[to], arc{to: from, rev: len(graph[from]) - 1, cap: 0, cost: -cost, edge: -1})
	}

	for i := 0; i < p.Issues; i++ {
		addArc(source, issueNode(i), 1, 0, -1)
	}
	for k, e := range p.Edges {
		addArc(issueNode(e.Issue), crewNode(e.Crew), 1, e.Cost, k)
	}
	for j, c := range p.Capacities {
		if c > 0 {
			addArc(crewNode(j), sink, c, 0, -1)
		}
	}

	n := len(graph)
	dist := make([]float64, n)
	inQueue := make([]bool, n)
	prevNode := make([]int, n)
	prevArc := make([]int, n)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Bellman-Ford (queue based): residual arcs carry negative costs.
		for v := range dist {
			dist[v] = inf
			prevNode[v] = -1
		}
		dist[source] = 0
		queue := []int{source}
		inQueue[source] = true
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			inQueue[u] = false
			for k, a := range graph[u] {
				if a.cap <= 0 {
					continue
				}
				if d := dist[u] + a.cost; d < dist[a.to]-costEpsilon {
					dist[a.to] = d
					prevNode[a.to] = u
					prevArc[a.to] = k
					if !inQueue[a.to] {
						inQueue[a.to] = true
						queue = append(queue, a.to)
					}
				}
			}
		}
		if prevNode[sink] == -1 {
			break
		}

		// every augmenting path carries exactly one unit: source arcs have capacity 1
		for v := sink; v != source; v = prevNode[v] {
			a := &graph[prevNode[v]][prevArc[v]]
			a.cap--
			graph[v][a.rev].cap++
		}
	}

	var chosen []Edge
	for i := 0; i < p.Issues; i++ {
		for _, a := range graph[issueNode(i)] {
			if a.edge >= 0 && a.cap == 0 {
				chosen = append(chosen, p.Edges[a.edge])
			}
		}
	}
	sort.SliceStable(chosen, func(a, b int) bool {
		return chosen[a].Issue < chosen[b].Issue
	})
	return chosen, nil
}
