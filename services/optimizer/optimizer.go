// Package optimizer assigns available field crews to pending issues. Planning
// is pure: it reads the issues and crews it is given and returns the chosen
// pairs without touching either.
package optimizer

import (
	"context"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/geo"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

type Config struct {
	// MaxDistanceKm excludes any pair further apart than this.
	MaxDistanceKm float64
}

func DefaultConfig() Config {
	return Config{MaxDistanceKm: 50}
}

// Pair is one planned assignment.
type Pair struct {
	Issue      models.Issue
	Crew       models.Crew
	DistanceKm float64
	Cost       float64
}

type Optimizer struct {
	cfg    Config
	solver Solver
}

// New returns an optimizer using solver, or MinCostFlow when solver is nil.
func New(cfg Config, solver Solver) *Optimizer {
	if solver == nil {
		solver = MinCostFlow{}
	}
	return &Optimizer{cfg: cfg, solver: solver}
}

// CanHandle reports whether crew works in the department the issue needs.
// General crews take anything.
func CanHandle(crew *models.Crew, issue *models.Issue) bool {
	return crew.Department == models.DeptGeneral ||
		crew.Department == models.DepartmentFor(issue.Category)
}

// Cost is the objective weight of sending crew to issue: travel distance plus
// a penalty that shrinks as the issue's priority grows.
func Cost(distanceKm, priorityScore float64) float64 {
	return distanceKm + (100-priorityScore)/10
}

// Eligible returns the distance and cost of a pair, or ok=false when the pair
// may not be assigned at all.
func (o *Optimizer) Eligible(crew *models.Crew, issue *models.Issue) (distanceKm, cost float64, ok bool) {
	if !CanHandle(crew, issue) {
		return 0, 0, false
	}
	lat, lon, hasPos := crew.Position()
	if !hasPos {
		return 0, 0, false
	}
	distanceKm = geo.DistanceKm(lat, lon, issue.Latitude, issue.Longitude)
	if distanceKm > o.cfg.MaxDistanceKm {
		return 0, 0, false
	}
	return distanceKm, Cost(distanceKm, issue.PriorityScore), true
}

// Plan solves the batch and returns the selected pairs ordered as the issues
// were given. No issues or no available crews yield an empty plan.
func (o *Optimizer) Plan(ctx context.Context, issues []models.Issue, crews []models.Crew) ([]Pair, error) {
	var pool []models.Crew
	for _, c := range crews {
		if c.Status == models.CrewAvailable && c.FreeSlots() > 0 {
			pool = append(pool, c)
		}
	}
	if len(issues) == 0 || len(pool) == 0 {
		return []Pair{}, nil
	}

	p := Problem{
		Issues:     len(issues),
		Capacities: make([]int, len(pool)),
	}
	dists := map[[2]int]float64{}
	for j := range pool {
		p.Capacities[j] = pool[j].FreeSlots()
	}
	for i := range issues {
		for j := range pool {
			dist, cost, ok := o.Eligible(&pool[j], &issues[i])
			if !ok {
				continue
			}
			p.Edges = append(p.Edges, Edge{Issue: i, Crew: j, Cost: cost})
			dists[[2]int{i, j}] = dist
		}
	}

	chosen, err := o.solver.Solve(ctx, p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to solve assignment batch",
			goerr.V("issues", len(issues)),
			goerr.V("crews", len(pool)),
			goerr.V("edges", len(p.Edges)),
		)
	}

	pairs := make([]Pair, 0, len(chosen))
	for _, e := range chosen {
		pairs = append(pairs, Pair{
			Issue:      issues[e.Issue],
			Crew:       pool[e.Crew],
			DistanceKm: dists[[2]int{e.Issue, e.Crew}],
			Cost:       e.Cost,
		})
	}

	ctxlog.From(ctx).Info("assignment batch planned",
		"issues", len(issues),
		"crews", len(pool),
		"eligible_pairs", len(p.Edges),
		"assigned", len(pairs),
	)
	return pairs, nil
}
