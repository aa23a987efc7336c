// Package priority ranks issues by urgency. Scores are recomputed on demand
// (creation, upvote, explicit trigger) and never cached between calls.
package priority

import (
	"context"
	"math"
	"time"

	"civicsync-dispatch/models"

	"github.com/m-mizutani/ctxlog"
)

// Weights of the four component scores in the total.
type Weights struct {
	Severity float64
	Age      float64
	Upvotes  float64
	Risk     float64
}

// Config holds every tunable of the scorer. It is copied into the Scorer and
// never mutated afterwards.
type Config struct {
	Weights  Weights
	MinScore float64

	SeverityScores      map[models.IssueSeverity]float64
	DefaultSeverity     float64
	CategoryRisk        map[models.IssueCategory]float64
	DefaultCategoryRisk float64
	SeverityMultiplier  map[models.IssueSeverity]float64
	DefaultMultiplier   float64
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		Weights:  Weights{Severity: 0.35, Age: 0.25, Upvotes: 0.20, Risk: 0.20},
		MinScore: 5.0,
		SeverityScores: map[models.IssueSeverity]float64{
			models.SeverityLow:      10,
			models.SeverityMedium:   30,
			models.SeverityHigh:     60,
			models.SeverityCritical: 100,
		},
		DefaultSeverity: 30,
		CategoryRisk: map[models.IssueCategory]float64{
			models.RoadDamage:         40,
			models.WasteOverflow:      30,
			models.StreetlightFailure: 25,
		},
		DefaultCategoryRisk: 20,
		SeverityMultiplier: map[models.IssueSeverity]float64{
			models.SeverityLow:      0.5,
			models.SeverityMedium:   0.75,
			models.SeverityHigh:     1.0,
			models.SeverityCritical: 1.5,
		},
		DefaultMultiplier: 1.0,
	}
}

// Breakdown is the result of one scoring run.
type Breakdown struct {
	Severity float64 `json:"severityScore"`
	Age      float64 `json:"ageScore"`
	Upvotes  float64 `json:"upvoteScore"`
	Risk     float64 `json:"riskScore"`
	Total    float64 `json:"totalScore"`
}

// Record turns the breakdown into the persisted audit row for an issue.
func (b Breakdown) Record(issue *models.Issue, now time.Time) models.PriorityScore {
	return models.PriorityScore{
		Issue:         issue.ID,
		SeverityScore: b.Severity,
		AgeScore:      b.Age,
		UpvoteScore:   b.Upvotes,
		RiskScore:     b.Risk,
		TotalScore:    b.Total,
		CalculatedAt:  now,
		UpdatedAt:     now,
	}
}

type Scorer struct {
	cfg Config
}

func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the priority of issue as of now. Malformed input never
// fails the caller: it is logged and yields an all-zero breakdown.
func (s *Scorer) Score(ctx context.Context, issue *models.Issue, now time.Time) Breakdown {
	if issue == nil || issue.Upvotes < 0 {
		ctxlog.From(ctx).Warn("cannot score malformed issue, using zero priority")
		return Breakdown{}
	}

	b := Breakdown{
		Severity: s.SeverityScore(issue.Severity),
		Age:      AgeScore(issue.ReportedAt, now),
		Upvotes:  UpvoteScore(issue.Upvotes),
		Risk:     s.RiskScore(issue.Category, issue.Severity),
	}

	w := s.cfg.Weights
	total := b.Severity*w.Severity + b.Age*w.Age + b.Upvotes*w.Upvotes + b.Risk*w.Risk
	if math.IsNaN(total) || math.IsInf(total, 0) {
		ctxlog.From(ctx).Warn("priority score is not finite, using zero priority",
			"issue", issue.ID.Hex(),
			"breakdown", b,
		)
		return Breakdown{}
	}
	total = math.Max(total, s.cfg.MinScore)
	b.Total = math.Round(total*100) / 100

	ctxlog.From(ctx).Debug("priority calculated",
		"issue", issue.ID.Hex(),
		"total", b.Total,
		"severity", b.Severity,
		"age", b.Age,
		"upvotes", b.Upvotes,
		"risk", b.Risk,
	)
	return b
}

// Apply scores issue and stores the total on it.
func (s *Scorer) Apply(ctx context.Context, issue *models.Issue, now time.Time) Breakdown {
	b := s.Score(ctx, issue, now)
	if issue != nil {
		issue.PriorityScore = b.Total
	}
	return b
}

func (s *Scorer) SeverityScore(sev models.IssueSeverity) float64 {
	if v, ok := s.cfg.SeverityScores[sev]; ok {
		return v
	}
	return s.cfg.DefaultSeverity
}

func (s *Scorer) RiskScore(cat models.IssueCategory, sev models.IssueSeverity) float64 {
	base, ok := s.cfg.CategoryRisk[cat]
	if !ok {
		base = s.cfg.DefaultCategoryRisk
	}
	mult, ok := s.cfg.SeverityMultiplier[sev]
	if !ok {
		mult = s.cfg.DefaultMultiplier
	}
	return math.Min(base*mult, 100)
}

// AgeScore grows with the time an issue has been waiting:
// 0-30 over the first day, 30-60 up to three days, then 60-100 up to 312
// hours where it is capped.
func AgeScore(reportedAt, now time.Time) float64 {
	if reportedAt.IsZero() {
		return 0
	}
	h := now.Sub(reportedAt).Hours()
	switch {
	case h <= 0:
		return 0
	case h < 24:
		return h / 24 * 30
	case h < 72:
		return 30 + (h-24)/48*30
	default:
		return math.Min(60+(h-72)/240*40, 100)
	}
}

// UpvoteScore gives ten points per merged duplicate report, up to 100.
func UpvoteScore(upvotes int) float64 {
	if upvotes <= 0 {
		return 0
	}
	return math.Min(float64(upvotes)*10, 100)
}
