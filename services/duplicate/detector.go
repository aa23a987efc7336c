// Package duplicate decides whether a new report describes an incident that
// is already tracked by an open canonical issue.
package duplicate

import (
	"context"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/geo"
	"civicsync-dispatch/services/imagehash"
)

type Config struct {
	// Window is how far back from now candidates are considered.
	Window time.Duration
	// MinSimilarity must be strictly exceeded for an image match.
	MinSimilarity float64
	// RadiusKm must be strictly greater than the distance between reports.
	RadiusKm float64
}

func DefaultConfig() Config {
	return Config{
		Window:        24 * time.Hour,
		MinSimilarity: 0.85,
		RadiusKm:      0.1,
	}
}

// Query describes the incoming report.
type Query struct {
	Fingerprint imagehash.Fingerprint
	Latitude    float64
	Longitude   float64
	Category    models.IssueCategory
	Now         time.Time
}

// Candidates is the filter a store must apply before matching. The window
// has no upper edge: an issue stored after the report was read, or by a
// replica whose clock runs ahead, is still a candidate.
type Candidates struct {
	Category models.IssueCategory
	Since    time.Time
}

// CandidateSource lists open canonical issues with a fingerprint.
type CandidateSource interface {
	DuplicateCandidates(ctx context.Context, c Candidates) ([]models.Issue, error)
}

// Match is the canonical issue a report was matched against.
type Match struct {
	Issue      models.Issue
	Similarity float64
	DistanceKm float64
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Window returns the candidate filter for q.
func (d *Detector) Window(q Query) Candidates {
	return Candidates{
		Category: q.Category,
		Since:    q.Now.Add(-d.cfg.Window),
	}
}

// FindDuplicate loads candidates from src and returns the best match, or nil
// when the report is unique. Reports without a fingerprint are always unique
// and do not touch the store.
func (d *Detector) FindDuplicate(ctx context.Context, src CandidateSource, q Query) (*Match, error) {
	if q.Fingerprint.Empty() {
		return nil, nil
	}
	candidates, err := src.DuplicateCandidates(ctx, d.Window(q))
	if err != nil {
		return nil, err
	}
	return d.BestMatch(candidates, q), nil
}

// BestMatch picks the qualifying candidate with the highest similarity.
// Equal similarities go to the earliest report, then the lowest id.
func (d *Detector) BestMatch(candidates []models.Issue, q Query) *Match {
	if q.Fingerprint.Empty() {
		return nil
	}
	since := q.Now.Add(-d.cfg.Window)

	var best *Match
	for i := range candidates {
		c := &candidates[i]
		if c.IsDuplicate || c.Category != q.Category || !c.HasFingerprint() {
			continue
		}
		if c.ReportedAt.Before(since) {
			continue
		}

		sim := imagehash.Similarity(q.Fingerprint, imagehash.Fingerprint(c.ImageHash))
		dist := geo.DistanceKm(q.Latitude, q.Longitude, c.Latitude, c.Longitude)
		if !d.Qualifies(sim, dist) {
			continue
		}
		if best == nil || better(sim, c, best) {
			best = &Match{Issue: *c, Similarity: sim, DistanceKm: dist}
		}
	}
	return best
}

// Qualifies applies the strict similarity and distance thresholds.
func (d *Detector) Qualifies(similarity, distanceKm float64) bool {
	return similarity > d.cfg.MinSimilarity && distanceKm < d.cfg.RadiusKm
}

func better(sim float64, c *models.Issue, best *Match) bool {
	if sim != best.Similarity {
		return sim > best.Similarity
	}
	if !c.ReportedAt.Equal(best.Issue.ReportedAt) {
		return c.ReportedAt.Before(best.Issue.ReportedAt)
	}
	return c.ID.Hex() < best.Issue.ID.Hex()
}
