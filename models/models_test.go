package models_test

import (
	"testing"
	"time"

	"civicsync-dispatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCanTransitionTo(t *testing.T) {
	all := []models.IssueStatus{
		models.Reported, models.Verified, models.Assigned,
		models.InProgress, models.Resolved, models.Rejected,
	}
	allowed := map[models.IssueStatus][]models.IssueStatus{
		models.Reported:   {models.Verified, models.Rejected},
		models.Verified:   {models.Rejected, models.Resolved},
		models.Assigned:   {models.InProgress, models.Resolved, models.Rejected},
		models.InProgress: {models.Resolved, models.Rejected},
		models.Resolved:   nil,
		models.Rejected:   nil,
	}

	for _, from := range all {
		for _, to := range all {
			issue := models.Issue{Status: from}
			assert.Equal(t, contains(allowed[from], to), issue.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func contains(list []models.IssueStatus, s models.IssueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestEnumsValidate(t *testing.T) {
	assert.True(t, models.WasteOverflow.IsValid())
	assert.False(t, models.IssueCategory("graffiti").IsValid())
	assert.True(t, models.SeverityCritical.IsValid())
	assert.False(t, models.IssueSeverity("urgent").IsValid())
	assert.True(t, models.CrewOffline.IsValid())
	assert.False(t, models.CrewStatus("lunch").IsValid())
	assert.True(t, models.Resolved.IsClosed())
	assert.False(t, models.Assigned.IsClosed())
}

func TestDepartmentFor(t *testing.T) {
	tests := []struct {
		category models.IssueCategory
		want     string
	}{
		{models.RoadDamage, models.DeptRoadMaintenance},
		{models.WasteOverflow, models.DeptSanitation},
		{models.StreetlightFailure, models.DeptElectrical},
		{models.IssueCategory("graffiti"), models.DeptGeneral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, models.DepartmentFor(tt.category), tt.category)
		assert.True(t, models.ValidDepartment(tt.want))
	}
	assert.False(t, models.ValidDepartment("Parks"))
}

func TestCrewLoad(t *testing.T) {
	crew := models.Crew{Status: models.CrewAvailable, Capacity: 2}
	assert.Equal(t, 2, crew.FreeSlots())

	crew.AddLoad(1)
	assert.Equal(t, models.CrewAvailable, crew.Status)
	assert.Equal(t, 1, crew.FreeSlots())

	crew.AddLoad(1)
	assert.Equal(t, models.CrewBusy, crew.Status)
	assert.Equal(t, 0, crew.FreeSlots())

	crew.ReleaseLoad()
	assert.Equal(t, models.CrewAvailable, crew.Status)
	assert.Equal(t, 1, crew.CurrentLoad)

	crew.ReleaseLoad()
	crew.ReleaseLoad()
	assert.Equal(t, 0, crew.CurrentLoad)
}

func TestOfflineCrewStaysOffline(t *testing.T) {
	crew := models.Crew{Status: models.CrewOffline, Capacity: 1, CurrentLoad: 1}
	crew.ReleaseLoad()
	assert.Equal(t, models.CrewOffline, crew.Status)
}

func TestCrewPosition(t *testing.T) {
	var crew models.Crew
	_, _, ok := crew.Position()
	assert.False(t, ok)

	lat, lon := 41.38, 2.17
	crew.Latitude, crew.Longitude = &lat, &lon
	gotLat, gotLon, ok := crew.Position()
	require.True(t, ok)
	assert.Equal(t, lat, gotLat)
	assert.Equal(t, lon, gotLon)
}

func TestAssignmentComplete(t *testing.T) {
	assigned := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("measured from start", func(t *testing.T) {
		started := assigned.Add(30 * time.Minute)
		a := models.Assignment{AssignedAt: assigned, StartedAt: &started}
		a.Complete(started.Add(95 * time.Minute))

		assert.True(t, a.Completed)
		require.NotNil(t, a.ActualDuration)
		assert.Equal(t, 95, *a.ActualDuration)
		assert.Equal(t, started.Add(95*time.Minute), *a.CompletedAt)
	})

	t.Run("measured from assignment without start", func(t *testing.T) {
		a := models.Assignment{AssignedAt: assigned}
		a.Complete(assigned.Add(2 * time.Hour))
		assert.Equal(t, 120, *a.ActualDuration)
	})

	t.Run("clock skew never yields negative duration", func(t *testing.T) {
		a := models.Assignment{AssignedAt: assigned}
		a.Complete(assigned.Add(-time.Minute))
		assert.Equal(t, 0, *a.ActualDuration)
	})
}

func TestUserPassword(t *testing.T) {
	u := models.User{Password: "secret123", Role: models.RoleAdmin}
	require.NoError(t, u.HashPassword())
	assert.NotEqual(t, "secret123", u.Password)
	assert.True(t, u.ComparePassword("secret123"))
	assert.False(t, u.ComparePassword("secret124"))
	assert.True(t, u.IsAdmin())
}
