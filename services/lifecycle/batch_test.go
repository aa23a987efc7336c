package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/lifecycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAssignmentBatchCommitsPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue := f.addIssue(t, models.Verified, 80, baseLat, baseLon)
	crew := f.addCrew(t, "alpha", models.DeptRoadMaintenance, 1, offsetNorth(baseLat, 2), baseLon)

	res, err := f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesConsidered)
	assert.Equal(t, 1, res.CrewsAvailable)
	require.Len(t, res.Assignments, 1)

	d := res.Assignments[0]
	assert.Equal(t, issue.ID, d.Assignment.Issue)
	assert.Equal(t, crew.ID, d.Assignment.Crew)
	assert.Equal(t, models.DefaultEstimatedDuration, d.Assignment.EstimatedDuration)
	assert.InDelta(t, 2.0, d.DistanceKm, 0.01)
	assert.InDelta(t, 4.0, d.Cost, 0.01)

	storedCrew, err := f.repo.GetCrew(ctx, crew.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, storedCrew.CurrentLoad)
	assert.Equal(t, models.CrewBusy, storedCrew.Status)

	storedIssue, err := f.repo.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Assigned, storedIssue.Status)
	require.NotNil(t, storedIssue.AssignedAt)
	assert.True(t, storedIssue.AssignedAt.Equal(start))

	active, err := f.repo.ActiveAssignment(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Assignment.ID, active.ID)

	assert.Equal(t, []string{events.SubjectAssignmentCreated}, f.events.Subjects())

	// nothing left to do on a second run
	again, err := f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Assignments)
}

func TestRunAssignmentBatchSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addIssue(t, models.Verified, 40, baseLat, baseLon)  // below threshold
	f.addIssue(t, models.Reported, 90, baseLat, baseLon)  // not verified
	dup := f.addIssue(t, models.Verified, 95, baseLat, baseLon)
	dup.IsDuplicate = true
	require.NoError(t, f.repo.UpdateIssue(ctx, dup))
	eligible := f.addIssue(t, models.Verified, 60, baseLat, baseLon)
	f.addCrew(t, "general", models.DeptGeneral, 5, baseLat, baseLon)

	res, err := f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesConsidered)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, eligible.ID, res.Assignments[0].Assignment.Issue)
}

func TestRunAssignmentBatchRespectsLimit(t *testing.T) {
	f := newFixture(t, lifecycle.WithBatchConfig(lifecycle.BatchConfig{MinPriority: 50, Limit: 2}))
	ctx := context.Background()

	low := f.addIssue(t, models.Verified, 60, baseLat, baseLon)
	f.addIssue(t, models.Verified, 90, baseLat, baseLon)
	f.addIssue(t, models.Verified, 70, baseLat, baseLon)
	f.addCrew(t, "general", models.DeptGeneral, 10, baseLat, baseLon)

	res, err := f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.IssuesConsidered)
	require.Len(t, res.Assignments, 2)
	for _, d := range res.Assignments {
		assert.NotEqual(t, low.ID, d.Assignment.Issue)
	}
}

func TestRunAssignmentBatchWithNothingToDo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)

	f.addIssue(t, models.Verified, 80, baseLat, baseLon)
	res, err = f.svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Assignments)
	assert.Equal(t, 1, res.IssuesConsidered)
	assert.Equal(t, 0, res.CrewsAvailable)
	assert.Empty(t, f.events.Subjects())
}

// racingRepo bumps the crew's version right before the commit transaction,
// the first `races` times a transaction starts.
type racingRepo struct {
	*repository.Memory
	crew  *models.Crew
	races int
	txs   int
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repository) error) error {
	r.txs++
	if r.races > 0 {
		r.races--
		crew, err := r.Memory.GetCrew(ctx, r.crew.ID)
		if err != nil {
			return err
		}
		crew.UpdatedAt = crew.UpdatedAt.Add(time.Second)
		if err := r.Memory.UpdateCrew(ctx, crew); err != nil {
			return err
		}
	}
	return r.Memory.WithTx(ctx, fn)
}

func TestRunAssignmentBatchRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.addIssue(t, models.Verified, 80, baseLat, baseLon)
	crew := f.addCrew(t, "alpha", models.DeptRoadMaintenance, 1, baseLat, baseLon)

	repo := &racingRepo{Memory: f.repo, crew: crew, races: 1}
	svc := lifecycle.New(repo, lifecycle.WithClock(f.clock.Now))

	res, err := svc.RunAssignmentBatch(ctx)
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, issue.ID, res.Assignments[0].Assignment.Issue)
	assert.Equal(t, 2, repo.txs)

	stored, err := f.repo.GetCrew(ctx, crew.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentLoad)
}

func TestRunAssignmentBatchGivesUpAfterSecondConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.addIssue(t, models.Verified, 80, baseLat, baseLon)
	crew := f.addCrew(t, "alpha", models.DeptRoadMaintenance, 1, baseLat, baseLon)

	repo := &racingRepo{Memory: f.repo, crew: crew, races: 5}
	svc := lifecycle.New(repo, lifecycle.WithClock(f.clock.Now))

	_, err := svc.RunAssignmentBatch(ctx)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 2, repo.txs)

	_, err = f.repo.ActiveAssignment(ctx, issue.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	stored, err := f.repo.GetCrew(ctx, crew.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CurrentLoad)
	assert.Equal(t, models.CrewAvailable, stored.Status)
}

func TestRunAssignmentBatchCancelled(t *testing.T) {
	f := newFixture(t)
	issue := f.addIssue(t, models.Verified, 80, baseLat, baseLon)
	f.addCrew(t, "alpha", models.DeptRoadMaintenance, 1, baseLat, baseLon)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RunAssignmentBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = f.repo.ActiveAssignment(context.Background(), issue.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
