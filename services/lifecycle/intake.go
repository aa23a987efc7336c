package lifecycle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/classify"
	"civicsync-dispatch/services/duplicate"
	"civicsync-dispatch/services/geo"
	"civicsync-dispatch/services/imagehash"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// Grid used for intake locks and hotspots: 0.01 degree cells.
const (
	cellsPerDegree = 100
	cellDeg        = 1.0 / cellsPerDegree
)

const kmPerDegree = 111.32

// Report is a citizen submission before it becomes (or merges into) an issue.
type Report struct {
	ReporterID  primitive.ObjectID
	Title       string
	Description string
	// Category is free text; empty means the reporter did not choose.
	Category  string
	Latitude  float64
	Longitude float64
	Address   *string
	Image     []byte
}

type IntakeResult struct {
	Issue *models.Issue
	// Merged is true when the report was folded into an existing issue
	// instead of creating a new one.
	Merged     bool
	Similarity float64
	DistanceKm float64
}

type analysis struct {
	category   classify.Resolution
	confidence float64
	severity   models.IssueSeverity
	sevConf    float64
	hash       imagehash.Fingerprint
	imageKey   *string
}

// SubmitReport classifies a report and either merges it into a matching
// open issue (adding an upvote) or stores it as a new issue. Reports that
// could match each other are serialized by an intake lock so two concurrent
// duplicates cannot both become canonical.
func (s *Service) SubmitReport(ctx context.Context, r Report) (*IntakeResult, error) {
	if strings.TrimSpace(r.Title) == "" {
		return nil, goerr.Wrap(ErrInvalidReport, "title is required")
	}
	if !geo.ValidCoordinates(r.Latitude, r.Longitude) {
		return nil, goerr.Wrap(ErrInvalidReport, "coordinates out of range",
			goerr.V("latitude", r.Latitude),
			goerr.V("longitude", r.Longitude),
		)
	}

	a, err := s.analyze(ctx, r)
	if err != nil {
		return nil, err
	}

	issue := &models.Issue{
		ReportedBy:           r.ReporterID,
		Title:                strings.TrimSpace(r.Title),
		Description:          classify.AppendNote(r.Description, a.category.Note),
		Latitude:             r.Latitude,
		Longitude:            r.Longitude,
		Address:              r.Address,
		Category:             a.category.Category,
		Severity:             a.severity,
		Status:               models.Reported,
		Department:           classify.Department(a.category.Category),
		ImageKey:             a.imageKey,
		ImageHash:            string(a.hash),
		MLCategoryConfidence: a.confidence,
		MLSeverityConfidence: a.sevConf,
		CategoryConflict:     a.category.Conflict,
	}

	unlock, err := s.locker.Acquire(ctx, s.intakeKeys(issue.Category, issue.Latitude, issue.Longitude)...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to acquire intake lock")
	}
	defer unlock(context.WithoutCancel(ctx))

	var result *IntakeResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx repository.Repository) error {
		// read under the lock so the report is never older than an issue
		// created by a report that finished analysis first
		now := s.now()
		match, err := s.detector.FindDuplicate(ctx, tx, duplicate.Query{
			Fingerprint: a.hash,
			Latitude:    issue.Latitude,
			Longitude:   issue.Longitude,
			Category:    issue.Category,
			Now:         now,
		})
		if err != nil {
			return goerr.Wrap(err, "failed to search duplicates")
		}
		if match != nil {
			result, err = s.mergeInto(ctx, tx, match, r.ReporterID, a.imageKey, now)
			return err
		}
		result, err = s.create(ctx, tx, issue, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Merged {
		ctxlog.From(ctx).Info("report merged into existing issue",
			"issue_id", result.Issue.ID.Hex(),
			"similarity", result.Similarity,
			"distance_km", result.DistanceKm,
		)
		s.publish(ctx, events.Event{
			Subject: events.SubjectIssueMerged,
			IssueID: result.Issue.ID.Hex(),
			Attributes: map[string]string{
				"upvotes": fmt.Sprint(result.Issue.Upvotes),
			},
		})
	} else {
		ctxlog.From(ctx).Info("issue reported",
			"issue_id", result.Issue.ID.Hex(),
			"category", result.Issue.Category,
			"priority", result.Issue.PriorityScore,
		)
		s.publish(ctx, events.Event{
			Subject: events.SubjectIssueReported,
			IssueID: result.Issue.ID.Hex(),
			Attributes: map[string]string{
				"category":   string(result.Issue.Category),
				"department": result.Issue.Department,
			},
		})
	}
	return result, nil
}

// analyze runs the classifiers, the image hash and the image upload
// concurrently. None of them can fail the report.
func (s *Service) analyze(ctx context.Context, r Report) (*analysis, error) {
	var (
		a          analysis
		detected   models.IssueCategory
		confidence float64
	)
	userCat, provided := classify.NormalizeCategory(r.Category)
	hasImage := len(r.Image) > 0

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.severity, a.sevConf = s.classifier.ClassifySeverity(gctx, r.Title+". "+r.Description)
		return nil
	})
	if hasImage {
		g.Go(func() error {
			detected, confidence = s.classifier.ClassifyImage(gctx, r.Image)
			return nil
		})
		g.Go(func() error {
			a.hash = imagehash.Hash(r.Image)
			if a.hash.Empty() {
				ctxlog.From(gctx).Warn("could not fingerprint image, duplicate detection skipped")
			}
			return nil
		})
		g.Go(func() error {
			key, err := s.images.Save(gctx, r.Image)
			if err != nil {
				ctxlog.From(gctx).Warn("failed to store image", "error", err)
				return nil
			}
			a.imageKey = &key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "report analysis interrupted")
	}

	if hasImage {
		a.category = classify.ResolveCategory(userCat, provided, detected, confidence)
		a.confidence = confidence
	} else {
		a.category = classify.Resolution{Category: userCat}
	}
	return &a, nil
}

// mergeInto upvotes the canonical issue. The merged report's photo stays
// reachable through the upvote.
func (s *Service) mergeInto(ctx context.Context, tx repository.Repository, match *duplicate.Match, reporter primitive.ObjectID, imageKey *string, now time.Time) (*IntakeResult, error) {
	canonical, err := tx.GetIssue(ctx, match.Issue.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load canonical issue", goerr.V("issue_id", match.Issue.ID.Hex()))
	}

	canonical.Upvotes++
	canonical.UpdatedAt = now
	breakdown := s.scorer.Apply(ctx, canonical, now)
	if err := tx.UpdateIssue(ctx, canonical); err != nil {
		return nil, goerr.Wrap(err, "failed to upvote canonical issue", goerr.V("issue_id", canonical.ID.Hex()))
	}

	record := breakdown.Record(canonical, now)
	if prev, err := tx.GetPriorityScore(ctx, canonical.ID); err == nil {
		record.CalculatedAt = prev.CalculatedAt
	}
	if err := tx.UpsertPriorityScore(ctx, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to store priority score", goerr.V("issue_id", canonical.ID.Hex()))
	}

	upvote := &models.Upvote{
		Issue:      canonical.ID,
		User:       reporter,
		Similarity: match.Similarity,
		DistanceKm: match.DistanceKm,
		ImageKey:   imageKey,
		CreatedAt:  now,
	}
	if err := tx.InsertUpvote(ctx, upvote); err != nil {
		return nil, goerr.Wrap(err, "failed to record upvote", goerr.V("issue_id", canonical.ID.Hex()))
	}

	return &IntakeResult{
		Issue:      canonical,
		Merged:     true,
		Similarity: match.Similarity,
		DistanceKm: match.DistanceKm,
	}, nil
}

func (s *Service) create(ctx context.Context, tx repository.Repository, draft *models.Issue, now time.Time) (*IntakeResult, error) {
	// the transaction body may run more than once
	issue := *draft
	issue.ID = primitive.NewObjectID()
	issue.ReportedAt = now
	issue.UpdatedAt = now

	breakdown := s.scorer.Apply(ctx, &issue, now)
	if err := tx.InsertIssue(ctx, &issue); err != nil {
		return nil, goerr.Wrap(err, "failed to create issue")
	}
	record := breakdown.Record(&issue, now)
	if err := tx.UpsertPriorityScore(ctx, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to store priority score", goerr.V("issue_id", issue.ID.Hex()))
	}
	return &IntakeResult{Issue: &issue}, nil
}

// intakeKeys lists the lock keys for the grid cell containing the point and
// every neighbouring cell that could hold a report within the duplicate
// radius.
func (s *Service) intakeKeys(category models.IssueCategory, lat, lon float64) []string {
	row := int(math.Floor(lat * cellsPerDegree))
	col := int(math.Floor(lon * cellsPerDegree))

	latSpan := cellSpan(s.dupCfg.RadiusKm, cellDeg*kmPerDegree)
	lonSpan := cellSpan(s.dupCfg.RadiusKm, cellDeg*kmPerDegree*math.Cos(lat*math.Pi/180))

	cols := 360 * cellsPerDegree
	keys := make([]string, 0, (2*latSpan+1)*(2*lonSpan+1))
	for dr := -latSpan; dr <= latSpan; dr++ {
		for dc := -lonSpan; dc <= lonSpan; dc++ {
			c := ((col+dc)%cols + cols) % cols
			keys = append(keys, fmt.Sprintf("intake:%s:%d:%d", category, row+dr, c))
		}
	}
	return keys
}

// cellSpan is how many neighbouring cells on each side a radius can reach.
func cellSpan(radiusKm, cellKm float64) int {
	const maxSpan = 10
	if cellKm <= 0 || radiusKm <= cellKm {
		return 1
	}
	span := int(math.Ceil(radiusKm / cellKm))
	if span > maxSpan {
		return maxSpan
	}
	return span
}
