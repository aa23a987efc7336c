package lifecycle

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/geo"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	hotspotMinIssues = 3
	hotspotLimit     = 20
)

func (s *Service) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	return s.repo.GetIssue(ctx, id)
}

func (s *Service) PriorityBreakdown(ctx context.Context, id primitive.ObjectID) (*models.PriorityScore, error) {
	return s.repo.GetPriorityScore(ctx, id)
}

type IssueQuery struct {
	Category models.IssueCategory
	Status   models.IssueStatus
	Limit    int
	Offset   int
}

// ListIssues returns canonical issues, highest priority first, and the total
// number matching the query.
func (s *Service) ListIssues(ctx context.Context, q IssueQuery) ([]models.Issue, int64, error) {
	notDuplicate := false
	f := repository.IssueFilter{
		Category:  q.Category,
		Duplicate: &notDuplicate,
		Sort:      repository.SortPriority,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if q.Status != "" {
		f.Statuses = []models.IssueStatus{q.Status}
	}

	issues, err := s.repo.ListIssues(ctx, f)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to list issues")
	}
	total, err := s.repo.CountIssues(ctx, f)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to count issues")
	}
	return issues, total, nil
}

// PriorityList is the dispatch queue: open canonical issues by priority.
func (s *Service) PriorityList(ctx context.Context, limit int) ([]models.Issue, error) {
	notDuplicate := false
	return s.repo.ListIssues(ctx, repository.IssueFilter{
		Duplicate:       &notDuplicate,
		ExcludeStatuses: []models.IssueStatus{models.Resolved, models.Rejected},
		Sort:            repository.SortPriority,
		Limit:           limit,
	})
}

func (s *Service) ListCrews(ctx context.Context, status models.CrewStatus) ([]models.Crew, error) {
	return s.repo.ListCrews(ctx, repository.CrewFilter{Status: status})
}

type NewCrew struct {
	Name       string
	Department string
	Phone      string
	Email      string
	Latitude   *float64
	Longitude  *float64
	Capacity   int
}

func (s *Service) CreateCrew(ctx context.Context, in NewCrew) (*models.Crew, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, goerr.Wrap(ErrInvalidReport, "crew name is required")
	}
	if !models.ValidDepartment(in.Department) {
		return nil, goerr.Wrap(ErrInvalidReport, "unknown department", goerr.V("department", in.Department))
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, goerr.Wrap(ErrInvalidReport, "latitude and longitude must be given together")
	}
	if in.Latitude != nil && !geo.ValidCoordinates(*in.Latitude, *in.Longitude) {
		return nil, goerr.Wrap(ErrInvalidReport, "coordinates out of range")
	}
	if in.Capacity <= 0 {
		in.Capacity = 1
	}

	now := s.now()
	crew := &models.Crew{
		Name:       strings.TrimSpace(in.Name),
		Department: in.Department,
		Phone:      in.Phone,
		Email:      in.Email,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Status:     models.CrewAvailable,
		Capacity:   in.Capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertCrew(ctx, crew); err != nil {
		return nil, goerr.Wrap(err, "failed to create crew")
	}
	return crew, nil
}

func (s *Service) ListAssignments(ctx context.Context, crew *primitive.ObjectID, activeOnly bool) ([]models.Assignment, error) {
	return s.repo.ListAssignments(ctx, repository.AssignmentFilter{Crew: crew, ActiveOnly: activeOnly})
}

type Hotspot struct {
	Latitude   float64              `json:"latitude"`
	Longitude  float64              `json:"longitude"`
	IssueCount int                  `json:"issueCount"`
	Category   models.IssueCategory `json:"category,omitempty"`
}

// Hotspots groups canonical issues reported in the last `window` into
// 0.01 degree cells and returns the busiest cells holding at least three
// issues. category may be empty for all categories.
func (s *Service) Hotspots(ctx context.Context, category models.IssueCategory, window time.Duration) ([]Hotspot, error) {
	notDuplicate := false
	issues, err := s.repo.ListIssues(ctx, repository.IssueFilter{
		Category:  category,
		Duplicate: &notDuplicate,
		Since:     s.now().Add(-window),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load issues for hotspots")
	}
	return clusterHotspots(issues, category), nil
}

func clusterHotspots(issues []models.Issue, category models.IssueCategory) []Hotspot {
	type cell struct{ row, col int64 }
	counts := map[cell]int{}
	for _, issue := range issues {
		c := cell{
			row: int64(math.Round(issue.Latitude * cellsPerDegree)),
			col: int64(math.Round(issue.Longitude * cellsPerDegree)),
		}
		counts[c]++
	}

	out := []Hotspot{}
	for c, n := range counts {
		if n < hotspotMinIssues {
			continue
		}
		out = append(out, Hotspot{
			Latitude:   float64(c.row) / cellsPerDegree,
			Longitude:  float64(c.col) / cellsPerDegree,
			IssueCount: n,
			Category:   category,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueCount != out[j].IssueCount {
			return out[i].IssueCount > out[j].IssueCount
		}
		if out[i].Latitude != out[j].Latitude {
			return out[i].Latitude < out[j].Latitude
		}
		return out[i].Longitude < out[j].Longitude
	})
	if len(out) > hotspotLimit {
		out = out[:hotspotLimit]
	}
	return out
}
