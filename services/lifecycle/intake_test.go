package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/lifecycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	baseLat = 40.4168
	baseLon = -3.7038
)

func report(image []byte, lat, lon float64) lifecycle.Report {
	return lifecycle.Report{
		ReporterID:  primitive.NewObjectID(),
		Title:       "Pothole on main street",
		Description: "Deep hole in the right lane",
		Category:    "road",
		Latitude:    lat,
		Longitude:   lon,
		Image:       image,
	}
}

func TestSubmitReportCreatesIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := report(nil, baseLat, baseLon)
	res, err := f.svc.SubmitReport(ctx, r)
	require.NoError(t, err)
	assert.False(t, res.Merged)

	issue := res.Issue
	assert.Equal(t, models.RoadDamage, issue.Category)
	assert.Equal(t, models.SeverityHigh, issue.Severity)
	assert.Equal(t, models.Reported, issue.Status)
	assert.Equal(t, models.DeptRoadMaintenance, issue.Department)
	assert.Equal(t, r.ReporterID, issue.ReportedBy)
	assert.True(t, issue.ReportedAt.Equal(start))
	assert.Empty(t, issue.ImageHash)
	assert.Greater(t, issue.PriorityScore, 0.0)

	stored, err := f.repo.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.PriorityScore, stored.PriorityScore)

	score, err := f.repo.GetPriorityScore(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.PriorityScore, score.TotalScore)

	assert.Equal(t, []string{events.SubjectIssueReported}, f.events.Subjects())
}

func TestSubmitReportMergesNearbyDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := photo(t, 11)

	first, err := f.svc.SubmitReport(ctx, report(img, baseLat, baseLon))
	require.NoError(t, err)
	require.False(t, first.Merged)
	require.NotEmpty(t, first.Issue.ImageHash)
	require.NotNil(t, first.Issue.ImageKey)

	f.clock.Advance(time.Hour)
	second, err := f.svc.SubmitReport(ctx, report(img, offsetNorth(baseLat, 0.05), baseLon))
	require.NoError(t, err)
	require.True(t, second.Merged)
	assert.Equal(t, first.Issue.ID, second.Issue.ID)
	assert.Equal(t, 1, second.Issue.Upvotes)
	assert.Equal(t, 1.0, second.Similarity)
	assert.InDelta(t, 0.05, second.DistanceKm, 0.001)
	assert.Greater(t, second.Issue.PriorityScore, first.Issue.PriorityScore)

	n, err := f.repo.CountIssues(ctx, repository.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	upvotes, err := f.repo.CountUpvotes(ctx, first.Issue.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), upvotes)

	score, err := f.repo.GetPriorityScore(ctx, first.Issue.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Issue.PriorityScore, score.TotalScore)
	assert.Equal(t, 10.0, score.UpvoteScore)
	assert.True(t, score.CalculatedAt.Equal(start))
	assert.True(t, score.UpdatedAt.Equal(start.Add(time.Hour)))

	assert.Equal(t, []string{events.SubjectIssueReported, events.SubjectIssueMerged}, f.events.Subjects())
}

func TestSubmitReportMergeKeepsReportPhoto(t *testing.T) {
	store := &keyedStore{}
	f := newFixture(t, lifecycle.WithImageStore(store))
	ctx := context.Background()
	img := photo(t, 12)

	first, err := f.svc.SubmitReport(ctx, report(img, baseLat, baseLon))
	require.NoError(t, err)
	require.NotNil(t, first.Issue.ImageKey)
	assert.Equal(t, "photos/1.jpg", *first.Issue.ImageKey)

	second, err := f.svc.SubmitReport(ctx, report(img, baseLat, baseLon))
	require.NoError(t, err)
	require.True(t, second.Merged)
	require.NotNil(t, second.Issue.ImageKey)
	assert.Equal(t, "photos/1.jpg", *second.Issue.ImageKey)

	upvotes, err := f.repo.ListUpvotes(ctx, first.Issue.ID)
	require.NoError(t, err)
	require.Len(t, upvotes, 1)
	require.NotNil(t, upvotes[0].ImageKey)
	assert.Equal(t, "photos/2.jpg", *upvotes[0].ImageKey)
	assert.Equal(t, second.Issue.ID, upvotes[0].Issue)
}

func TestSubmitReportSlowAnalysisSeesIssueCreatedMeanwhile(t *testing.T) {
	gate := &gatedClassifier{
		stubClassifier: stubClassifier{
			category:   models.RoadDamage,
			confidence: 0.9,
			severity:   models.SeverityHigh,
		},
		hold:    "Slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, lifecycle.WithClassifier(gate))
	ctx := context.Background()
	img := photo(t, 13)

	slow := report(img, baseLat, baseLon)
	slow.Title = "Slow pothole report"
	done := make(chan *lifecycle.IntakeResult, 1)
	go func() {
		res, err := f.svc.SubmitReport(ctx, slow)
		assert.NoError(t, err)
		done <- res
	}()
	<-gate.entered

	f.clock.Advance(time.Second)
	fast, err := f.svc.SubmitReport(ctx, report(img, baseLat, baseLon))
	require.NoError(t, err)
	require.False(t, fast.Merged)
	assert.True(t, fast.Issue.ReportedAt.Equal(start.Add(time.Second)))

	close(gate.release)
	res := <-done
	require.NotNil(t, res)
	assert.True(t, res.Merged)
	assert.Equal(t, fast.Issue.ID, res.Issue.ID)
	assert.Equal(t, 1, res.Issue.Upvotes)

	n, err := f.repo.CountIssues(ctx, repository.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	upvotes, err := f.repo.ListUpvotes(ctx, fast.Issue.ID)
	require.NoError(t, err)
	require.Len(t, upvotes, 1)
	assert.True(t, upvotes[0].CreatedAt.Equal(start.Add(time.Second)))
}

func TestSubmitReportKeepsDistinctReports(t *testing.T) {
	tests := []struct {
		name     string
		secondLa float64
		seed     int64
		advance  time.Duration
	}{
		{"200m apart", offsetNorth(baseLat, 0.2), 11, time.Hour},
		{"different photo", baseLat, 12, time.Hour},
		{"outside time window", baseLat, 11, 25 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.svc.SubmitReport(ctx, report(photo(t, 11), baseLat, baseLon))
			require.NoError(t, err)

			f.clock.Advance(tt.advance)
			res, err := f.svc.SubmitReport(ctx, report(photo(t, tt.seed), tt.secondLa, baseLon))
			require.NoError(t, err)
			assert.False(t, res.Merged)

			n, err := f.repo.CountIssues(ctx, repository.IssueFilter{})
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

func TestSubmitReportDifferentCategoryIsNotDuplicate(t *testing.T) {
	f := newFixture(t, lifecycle.WithClassifier(stubClassifier{
		category:   models.WasteOverflow,
		confidence: 0.3,
		severity:   models.SeverityLow,
	}))
	ctx := context.Background()
	img := photo(t, 5)

	a := report(img, baseLat, baseLon)
	a.Category = "waste"
	_, err := f.svc.SubmitReport(ctx, a)
	require.NoError(t, err)

	b := report(img, baseLat, baseLon)
	b.Category = "road"
	res, err := f.svc.SubmitReport(ctx, b)
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, models.RoadDamage, res.Issue.Category)
	assert.True(t, res.Issue.CategoryConflict)
}

func TestSubmitReportConcurrentDuplicatesMergeIntoOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := photo(t, 21)

	const n = 10
	var wg sync.WaitGroup
	results := make([]*lifecycle.IntakeResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// alternate sides of a grid line to exercise neighbour locking
			lon := 0.00999
			if i%2 == 1 {
				lon = 0.01001
			}
			res, err := f.svc.SubmitReport(ctx, report(img, 10.0, lon))
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	count, err := f.repo.CountIssues(ctx, repository.IssueFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	created := 0
	for _, r := range results {
		if r != nil && !r.Merged {
			created++
		}
	}
	assert.Equal(t, 1, created)

	issues, err := f.repo.ListIssues(ctx, repository.IssueFilter{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, n-1, issues[0].Upvotes)
}

func TestSubmitReportCategoryResolution(t *testing.T) {
	t.Run("confident photo overrides reporter", func(t *testing.T) {
		f := newFixture(t, lifecycle.WithClassifier(stubClassifier{
			category:   models.StreetlightFailure,
			confidence: 0.9,
			severity:   models.SeverityMedium,
		}))
		r := report(photo(t, 1), baseLat, baseLon)
		r.Category = "waste"
		res, err := f.svc.SubmitReport(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, models.StreetlightFailure, res.Issue.Category)
		assert.Equal(t, models.DeptElectrical, res.Issue.Department)
		assert.False(t, res.Issue.CategoryConflict)
		assert.Contains(t, res.Issue.Description, "[SYSTEM NOTE]")
		assert.Equal(t, 0.9, res.Issue.MLCategoryConfidence)
	})

	t.Run("unsure photo flags conflict", func(t *testing.T) {
		f := newFixture(t, lifecycle.WithClassifier(stubClassifier{
			category:   models.StreetlightFailure,
			confidence: 0.55,
			severity:   models.SeverityMedium,
		}))
		r := report(photo(t, 1), baseLat, baseLon)
		r.Category = "waste"
		res, err := f.svc.SubmitReport(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, models.WasteOverflow, res.Issue.Category)
		assert.Equal(t, models.DeptSanitation, res.Issue.Department)
		assert.True(t, res.Issue.CategoryConflict)
		assert.Contains(t, res.Issue.Description, "[SYSTEM NOTE]")
	})

	t.Run("no category uses photo", func(t *testing.T) {
		f := newFixture(t, lifecycle.WithClassifier(stubClassifier{
			category:   models.WasteOverflow,
			confidence: 0.4,
			severity:   models.SeverityMedium,
		}))
		r := report(photo(t, 1), baseLat, baseLon)
		r.Category = ""
		res, err := f.svc.SubmitReport(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, models.WasteOverflow, res.Issue.Category)
		assert.False(t, res.Issue.CategoryConflict)
		assert.Equal(t, r.Description, res.Issue.Description)
	})
}

func TestSubmitReportClassifierFailureUsesDefaults(t *testing.T) {
	f := newFixture(t, lifecycle.WithClassifier(stubClassifier{err: errors.New("inference down")}))
	r := report(photo(t, 2), baseLat, baseLon)
	r.Category = ""

	res, err := f.svc.SubmitReport(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, models.RoadDamage, res.Issue.Category)
	assert.Equal(t, models.SeverityMedium, res.Issue.Severity)
	assert.Equal(t, 0.5, res.Issue.MLCategoryConfidence)
	assert.Equal(t, 0.5, res.Issue.MLSeverityConfidence)
}

func TestSubmitReportRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := report(nil, baseLat, baseLon)
	r.Title = "  "
	_, err := f.svc.SubmitReport(ctx, r)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidReport)

	_, err = f.svc.SubmitReport(ctx, report(nil, 91, baseLon))
	assert.ErrorIs(t, err, lifecycle.ErrInvalidReport)

	assert.Empty(t, f.events.Subjects())
}

func TestSubmitReportUnreadableImageSkipsDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	junk := []byte("definitely not a picture")

	first, err := f.svc.SubmitReport(ctx, report(junk, baseLat, baseLon))
	require.NoError(t, err)
	assert.Empty(t, first.Issue.ImageHash)
	assert.Nil(t, first.Issue.ImageKey)

	second, err := f.svc.SubmitReport(ctx, report(junk, baseLat, baseLon))
	require.NoError(t, err)
	assert.False(t, second.Merged)
}
