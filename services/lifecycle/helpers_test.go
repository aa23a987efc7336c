package lifecycle_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/geo"
	"civicsync-dispatch/services/lifecycle"

	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubClassifier struct {
	category   models.IssueCategory
	confidence float64
	severity   models.IssueSeverity
	err        error
}

func (s stubClassifier) ClassifyImage(ctx context.Context, image []byte) (models.IssueCategory, float64, error) {
	return s.category, s.confidence, s.err
}

func (s stubClassifier) ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64, error) {
	return s.severity, s.confidence, s.err
}

// gatedClassifier blocks severity classification of texts starting with
// hold until release is closed, and closes entered once it is blocked.
type gatedClassifier struct {
	stubClassifier
	hold    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClassifier) ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64, error) {
	if strings.HasPrefix(text, g.hold) {
		close(g.entered)
		<-g.release
	}
	return g.stubClassifier.ClassifySeverity(ctx, text)
}

// keyedStore hands out sequential object keys.
type keyedStore struct {
	mu sync.Mutex
	n  int
}

func (k *keyedStore) Save(ctx context.Context, data []byte) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.n++
	return fmt.Sprintf("photos/%d.jpg", k.n), nil
}

type fixture struct {
	repo   *repository.Memory
	clock  *clock
	events *events.Buffer
	svc    *lifecycle.Service
}

func newFixture(t *testing.T, opts ...lifecycle.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   repository.NewMemory(),
		clock:  &clock{t: start},
		events: &events.Buffer{},
	}
	base := []lifecycle.Option{
		lifecycle.WithClock(f.clock.Now),
		lifecycle.WithPublisher(f.events),
		lifecycle.WithClassifier(stubClassifier{
			category:   models.RoadDamage,
			confidence: 0.9,
			severity:   models.SeverityHigh,
		}),
	}
	f.svc = lifecycle.New(f.repo, append(base, opts...)...)
	return f
}

// photo renders a deterministic 8x8 grey grid as PNG.
func photo(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	var cells [8][8]uint8
	for y := range cells {
		for x := range cells[y] {
			cells[y][x] = uint8(rng.Intn(256))
		}
	}
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: cells[y/16][x/16]})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (f *fixture) addIssue(t *testing.T, status models.IssueStatus, priority float64, lat, lon float64) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		Title:         "pothole",
		Category:      models.RoadDamage,
		Severity:      models.SeverityHigh,
		Status:        status,
		Department:    models.DeptRoadMaintenance,
		Latitude:      lat,
		Longitude:     lon,
		PriorityScore: priority,
		ReportedAt:    f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.repo.InsertIssue(context.Background(), issue))
	return issue
}

func (f *fixture) addCrew(t *testing.T, name, dept string, capacity int, lat, lon float64) *models.Crew {
	t.Helper()
	crew := &models.Crew{
		Name:       name,
		Department: dept,
		Status:     models.CrewAvailable,
		Capacity:   capacity,
		Latitude:   &lat,
		Longitude:  &lon,
	}
	require.NoError(t, f.repo.InsertCrew(context.Background(), crew))
	return crew
}

// offsetNorth returns the latitude km kilometres due north of lat.
func offsetNorth(lat, km float64) float64 {
	return lat + km/geo.EarthRadiusKm*180/math.Pi
}
