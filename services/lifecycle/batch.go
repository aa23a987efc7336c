package lifecycle

import (
	"context"
	"errors"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/optimizer"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const batchAttempts = 2

type BatchResult struct {
	Assignments []Dispatch `json:"assignments"`
	// IssuesConsidered and CrewsAvailable describe the snapshot the plan was
	// computed from.
	IssuesConsidered int `json:"issuesConsidered"`
	CrewsAvailable   int `json:"crewsAvailable"`
}

// Dispatch is one committed assignment.
type Dispatch struct {
	Assignment models.Assignment `json:"assignment"`
	IssueTitle string            `json:"issueTitle"`
	CrewName   string            `json:"crewName"`
	DistanceKm float64           `json:"distanceKm"`
	Cost       float64           `json:"cost"`
}

// RunAssignmentBatch plans assignments for the highest priority verified
// issues and commits them in one transaction. The plan is computed without
// holding locks; if the commit finds that an issue or crew changed since the
// snapshot, the batch is planned again once before giving up with
// repository.ErrConflict.
func (s *Service) RunAssignmentBatch(ctx context.Context) (*BatchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= batchAttempts; attempt++ {
		res, err := s.runBatch(ctx)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		lastErr = err
		ctxlog.From(ctx).Warn("assignment batch conflicted with a concurrent update",
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, goerr.Wrap(lastErr, "assignment batch could not be committed")
}

func (s *Service) runBatch(ctx context.Context) (*BatchResult, error) {
	notDuplicate := false
	minPriority := s.batch.MinPriority
	issues, err := s.repo.ListIssues(ctx, repository.IssueFilter{
		Statuses:    []models.IssueStatus{models.Verified},
		Duplicate:   &notDuplicate,
		MinPriority: &minPriority,
		Sort:        repository.SortPriority,
		Limit:       s.batch.Limit,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load batch issues")
	}
	crews, err := s.repo.ListCrews(ctx, repository.CrewFilter{Status: models.CrewAvailable})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load available crews")
	}

	res := &BatchResult{
		Assignments:      []Dispatch{},
		IssuesConsidered: len(issues),
		CrewsAvailable:   len(crews),
	}

	pairs, err := s.optimizer.Plan(ctx, issues, crews)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to plan assignments")
	}
	if len(pairs) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "assignment batch cancelled before commit")
	}

	var dispatched []Dispatch
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		var err error
		dispatched, err = s.commitPlan(ctx, tx, pairs)
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Assignments = dispatched
	for _, d := range dispatched {
		s.publish(ctx, events.Event{
			Subject:    events.SubjectAssignmentCreated,
			IssueID:    d.Assignment.Issue.Hex(),
			CrewID:     d.Assignment.Crew.Hex(),
			Assignment: d.Assignment.ID.Hex(),
		})
	}
	ctxlog.From(ctx).Info("assignment batch committed",
		"issues", len(issues),
		"crews", len(crews),
		"assigned", len(dispatched),
	)
	return res, nil
}

// commitPlan re-validates every planned issue and crew against the stored
// state and writes the assignments.
func (s *Service) commitPlan(ctx context.Context, tx repository.Repository, pairs []optimizer.Pair) ([]Dispatch, error) {
	now := s.now()

	type crewPlan struct {
		snapshot models.Crew
		count    int
	}
	crewPlans := map[primitive.ObjectID]*crewPlan{}
	var crewOrder []primitive.ObjectID
	for _, p := range pairs {
		cp, ok := crewPlans[p.Crew.ID]
		if !ok {
			cp = &crewPlan{snapshot: p.Crew}
			crewPlans[p.Crew.ID] = cp
			crewOrder = append(crewOrder, p.Crew.ID)
		}
		cp.count++
	}

	for _, id := range crewOrder {
		cp := crewPlans[id]
		crew, err := tx.GetCrew(ctx, id)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to reload crew", goerr.V("crew_id", id.Hex()))
		}
		if crew.Version != cp.snapshot.Version ||
			crew.Status != models.CrewAvailable ||
			crew.CurrentLoad+cp.count > crew.Capacity {
			return nil, goerr.Wrap(repository.ErrConflict, "crew changed since planning",
				goerr.V("crew_id", id.Hex()),
				goerr.V("status", crew.Status),
				goerr.V("load", crew.CurrentLoad),
				goerr.V("planned", cp.count),
			)
		}
		crew.AddLoad(cp.count)
		crew.UpdatedAt = now
		if err := tx.UpdateCrew(ctx, crew); err != nil {
			return nil, goerr.Wrap(err, "failed to update crew", goerr.V("crew_id", id.Hex()))
		}
	}

	out := make([]Dispatch, 0, len(pairs))
	for _, p := range pairs {
		issue, err := tx.GetIssue(ctx, p.Issue.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to reload issue", goerr.V("issue_id", p.Issue.ID.Hex()))
		}
		if issue.Version != p.Issue.Version || issue.Status != models.Verified || issue.IsDuplicate {
			return nil, goerr.Wrap(repository.ErrConflict, "issue changed since planning",
				goerr.V("issue_id", issue.ID.Hex()),
				goerr.V("status", issue.Status),
			)
		}
		_, err = tx.ActiveAssignment(ctx, issue.ID)
		switch {
		case err == nil:
			return nil, goerr.Wrap(repository.ErrConflict, "issue already has an active assignment",
				goerr.V("issue_id", issue.ID.Hex()))
		case !errors.Is(err, repository.ErrNotFound):
			return nil, goerr.Wrap(err, "failed to check active assignment", goerr.V("issue_id", issue.ID.Hex()))
		}

		a := models.Assignment{
			ID:                primitive.NewObjectID(),
			Issue:             issue.ID,
			Crew:              p.Crew.ID,
			AssignedAt:        now,
			EstimatedDuration: models.DefaultEstimatedDuration,
		}
		if err := tx.InsertAssignment(ctx, &a); err != nil {
			return nil, goerr.Wrap(err, "failed to create assignment", goerr.V("issue_id", issue.ID.Hex()))
		}

		issue.Status = models.Assigned
		issue.AssignedAt = &now
		issue.UpdatedAt = now
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return nil, goerr.Wrap(err, "failed to mark issue assigned", goerr.V("issue_id", issue.ID.Hex()))
		}

		out = append(out, Dispatch{
			Assignment: a,
			IssueTitle: issue.Title,
			CrewName:   p.Crew.Name,
			DistanceKm: p.DistanceKm,
			Cost:       p.Cost,
		})
	}
	return out, nil
}
