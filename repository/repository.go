// Package repository persists issues, crews, assignments and their
// bookkeeping records.
package repository

import (
	"context"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/duplicate"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound = goerr.New("record not found")
	// ErrConflict means the stored record changed since it was read.
	ErrConflict     = goerr.New("concurrent modification")
	ErrDuplicateKey = goerr.New("duplicate key")
)

type IssueSort int

const (
	SortNewest IssueSort = iota
	SortPriority
)

// IssueFilter selects issues. Zero values mean "any".
type IssueFilter struct {
	Category        models.IssueCategory
	Statuses        []models.IssueStatus
	ExcludeStatuses []models.IssueStatus
	Duplicate       *bool
	MinPriority     *float64
	Since           time.Time
	Until           time.Time
	Sort            IssueSort
	Limit           int
	Offset          int
}

type CrewFilter struct {
	Status     models.CrewStatus
	Department string
}

type AssignmentFilter struct {
	Crew       *primitive.ObjectID
	ActiveOnly bool
}

// Repository is the storage collaborator. Updates of versioned records
// (issues, crews) fail with ErrConflict when the stored version differs from
// the one carried by the argument; on success the argument's Version is
// advanced.
type Repository interface {
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]models.Issue, error)
	CountIssues(ctx context.Context, filter IssueFilter) (int64, error)
	DuplicateCandidates(ctx context.Context, q duplicate.Candidates) ([]models.Issue, error)
	InsertIssue(ctx context.Context, issue *models.Issue) error
	UpdateIssue(ctx context.Context, issue *models.Issue) error

	GetCrew(ctx context.Context, id primitive.ObjectID) (*models.Crew, error)
	ListCrews(ctx context.Context, filter CrewFilter) ([]models.Crew, error)
	InsertCrew(ctx context.Context, crew *models.Crew) error
	UpdateCrew(ctx context.Context, crew *models.Crew) error

	GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error)
	ActiveAssignment(ctx context.Context, issueID primitive.ObjectID) (*models.Assignment, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error)
	InsertAssignment(ctx context.Context, a *models.Assignment) error
	UpdateAssignment(ctx context.Context, a *models.Assignment) error

	GetPriorityScore(ctx context.Context, issueID primitive.ObjectID) (*models.PriorityScore, error)
	UpsertPriorityScore(ctx context.Context, score *models.PriorityScore) error

	InsertUpvote(ctx context.Context, u *models.Upvote) error
	CountUpvotes(ctx context.Context, issueID primitive.ObjectID) (int64, error)
	// ListUpvotes returns the issue's upvotes oldest first.
	ListUpvotes(ctx context.Context, issueID primitive.ObjectID) ([]models.Upvote, error)

	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	InsertUser(ctx context.Context, u *models.User) error

	// WithTx runs fn atomically. fn must use the Repository it is given;
	// returning an error discards every write made through it.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

func matchesIssue(f IssueFilter, issue *models.Issue) bool {
	if f.Category != "" && issue.Category != f.Category {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, issue.Status) {
		return false
	}
	if containsStatus(f.ExcludeStatuses, issue.Status) {
		return false
	}
	if f.Duplicate != nil && issue.IsDuplicate != *f.Duplicate {
		return false
	}
	if f.MinPriority != nil && issue.PriorityScore < *f.MinPriority {
		return false
	}
	if !f.Since.IsZero() && issue.ReportedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && issue.ReportedAt.After(f.Until) {
		return false
	}
	return true
}

func containsStatus(list []models.IssueStatus, s models.IssueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ Repository = (*Memory)(nil)
	_ Repository = (*Mongo)(nil)
)
