package lifecycle

import (
	"context"
	"errors"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UpdateStatus moves an issue to next. Resolving or rejecting an assigned
// issue closes its active assignment and frees the crew.
func (s *Service) UpdateStatus(ctx context.Context, id primitive.ObjectID, next models.IssueStatus) (*models.Issue, error) {
	if !next.IsValid() {
		return nil, goerr.Wrap(ErrInvalidTransition, "unknown status", goerr.V("status", next))
	}

	var updated *models.Issue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		now := s.now()
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return goerr.Wrap(err, "failed to get issue", goerr.V("issue_id", id.Hex()))
		}
		if !issue.CanTransitionTo(next) {
			return goerr.Wrap(ErrInvalidTransition, "transition not allowed",
				goerr.V("issue_id", id.Hex()),
				goerr.V("from", issue.Status),
				goerr.V("to", next),
			)
		}

		switch next {
		case models.Verified:
			issue.VerifiedAt = &now
		case models.InProgress:
			if err := s.startActive(ctx, tx, issue.ID, now); err != nil {
				return err
			}
		case models.Resolved, models.Rejected:
			if next == models.Resolved {
				issue.ResolvedAt = &now
			}
			if err := s.closeActive(ctx, tx, issue.ID, now); err != nil {
				return err
			}
		}

		issue.Status = next
		issue.UpdatedAt = now
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return goerr.Wrap(err, "failed to update issue", goerr.V("issue_id", id.Hex()))
		}
		updated = issue
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Subject:    events.SubjectIssueStatus,
		IssueID:    updated.ID.Hex(),
		Attributes: map[string]string{"status": string(updated.Status)},
	})
	return updated, nil
}

// StartAssignment records that the crew began work; the issue moves to
// in progress.
func (s *Service) StartAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	var out *models.Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		now := s.now()
		a, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return goerr.Wrap(err, "failed to get assignment", goerr.V("assignment_id", id.Hex()))
		}
		if a.Completed {
			return goerr.Wrap(ErrInvalidTransition, "assignment already completed", goerr.V("assignment_id", id.Hex()))
		}
		if a.StartedAt == nil {
			a.StartedAt = &now
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return goerr.Wrap(err, "failed to start assignment", goerr.V("assignment_id", id.Hex()))
			}
		}

		issue, err := tx.GetIssue(ctx, a.Issue)
		if err != nil {
			return goerr.Wrap(err, "failed to get issue", goerr.V("issue_id", a.Issue.Hex()))
		}
		if issue.Status == models.Assigned {
			issue.Status = models.InProgress
			issue.UpdatedAt = now
			if err := tx.UpdateIssue(ctx, issue); err != nil {
				return goerr.Wrap(err, "failed to update issue", goerr.V("issue_id", issue.ID.Hex()))
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteAssignment closes the assignment, frees the crew slot and resolves
// the issue if it is still open.
func (s *Service) CompleteAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	var out *models.Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		now := s.now()
		a, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return goerr.Wrap(err, "failed to get assignment", goerr.V("assignment_id", id.Hex()))
		}
		if a.Completed {
			return goerr.Wrap(ErrInvalidTransition, "assignment already completed", goerr.V("assignment_id", id.Hex()))
		}
		if err := s.finish(ctx, tx, a, now); err != nil {
			return err
		}

		issue, err := tx.GetIssue(ctx, a.Issue)
		if err != nil {
			return goerr.Wrap(err, "failed to get issue", goerr.V("issue_id", a.Issue.Hex()))
		}
		if !issue.Status.IsClosed() {
			issue.Status = models.Resolved
			issue.ResolvedAt = &now
			issue.UpdatedAt = now
			if err := tx.UpdateIssue(ctx, issue); err != nil {
				return goerr.Wrap(err, "failed to resolve issue", goerr.V("issue_id", issue.ID.Hex()))
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Subject:    events.SubjectAssignmentDone,
		IssueID:    out.Issue.Hex(),
		CrewID:     out.Crew.Hex(),
		Assignment: out.ID.Hex(),
	})
	return out, nil
}

// RecomputePriority rescores an issue and refreshes its score record.
func (s *Service) RecomputePriority(ctx context.Context, id primitive.ObjectID) (*models.PriorityScore, error) {
	var record models.PriorityScore
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		now := s.now()
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return goerr.Wrap(err, "failed to get issue", goerr.V("issue_id", id.Hex()))
		}

		breakdown := s.scorer.Apply(ctx, issue, now)
		issue.UpdatedAt = now
		if err := tx.UpdateIssue(ctx, issue); err != nil {
			return goerr.Wrap(err, "failed to update priority", goerr.V("issue_id", id.Hex()))
		}

		record = breakdown.Record(issue, now)
		if prev, err := tx.GetPriorityScore(ctx, id); err == nil {
			record.CalculatedAt = prev.CalculatedAt
		}
		if err := tx.UpsertPriorityScore(ctx, &record); err != nil {
			return goerr.Wrap(err, "failed to store priority score", goerr.V("issue_id", id.Hex()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) startActive(ctx context.Context, tx repository.Repository, issueID primitive.ObjectID, now time.Time) error {
	a, err := tx.ActiveAssignment(ctx, issueID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to get active assignment", goerr.V("issue_id", issueID.Hex()))
	}
	if a.StartedAt != nil {
		return nil
	}
	a.StartedAt = &now
	if err := tx.UpdateAssignment(ctx, a); err != nil {
		return goerr.Wrap(err, "failed to start assignment", goerr.V("assignment_id", a.ID.Hex()))
	}
	return nil
}

func (s *Service) closeActive(ctx context.Context, tx repository.Repository, issueID primitive.ObjectID, now time.Time) error {
	a, err := tx.ActiveAssignment(ctx, issueID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to get active assignment", goerr.V("issue_id", issueID.Hex()))
	}
	return s.finish(ctx, tx, a, now)
}

// finish completes a and releases one slot of its crew.
func (s *Service) finish(ctx context.Context, tx repository.Repository, a *models.Assignment, now time.Time) error {
	a.Complete(now)
	if err := tx.UpdateAssignment(ctx, a); err != nil {
		return goerr.Wrap(err, "failed to complete assignment", goerr.V("assignment_id", a.ID.Hex()))
	}

	crew, err := tx.GetCrew(ctx, a.Crew)
	if err != nil {
		return goerr.Wrap(err, "failed to get crew", goerr.V("crew_id", a.Crew.Hex()))
	}
	crew.ReleaseLoad()
	crew.UpdatedAt = now
	if err := tx.UpdateCrew(ctx, crew); err != nil {
		return goerr.Wrap(err, "failed to release crew", goerr.V("crew_id", crew.ID.Hex()))
	}
	return nil
}
