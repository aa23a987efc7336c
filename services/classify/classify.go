// Package classify wraps the image and text models used at intake. The core
// treats them as black boxes: any failure degrades to a fixed default.
package classify

import (
	"context"
	"strings"

	"civicsync-dispatch/models"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// Defaults used whenever a model cannot answer.
const (
	DefaultCategory   = models.RoadDamage
	DefaultSeverity   = models.SeverityMedium
	DefaultConfidence = 0.5
)

// ErrUnsupported is returned by classifiers that have no model for a task.
var ErrUnsupported = goerr.New("classification not supported")

// Classifier is the model collaborator. Implementations must be safe for
// concurrent use and free of side effects.
type Classifier interface {
	ClassifyImage(ctx context.Context, image []byte) (models.IssueCategory, float64, error)
	ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64, error)
}

// Resilient never fails: errors and out-of-range answers from the wrapped
// classifier are logged and replaced with the defaults.
type Resilient struct {
	inner Classifier
}

func NewResilient(inner Classifier) *Resilient {
	return &Resilient{inner: inner}
}

func (r *Resilient) ClassifyImage(ctx context.Context, image []byte) (models.IssueCategory, float64) {
	cat, conf, err := r.inner.ClassifyImage(ctx, image)
	if err != nil {
		ctxlog.From(ctx).Warn("image classification failed, using default", "error", err)
		return DefaultCategory, DefaultConfidence
	}
	if !cat.IsValid() || !validConfidence(conf) {
		ctxlog.From(ctx).Warn("image classifier returned invalid result, using default",
			"category", cat,
			"confidence", conf,
		)
		return DefaultCategory, DefaultConfidence
	}
	return cat, conf
}

func (r *Resilient) ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64) {
	sev, conf, err := r.inner.ClassifySeverity(ctx, text)
	if err != nil {
		ctxlog.From(ctx).Warn("severity classification failed, using default", "error", err)
		return DefaultSeverity, DefaultConfidence
	}
	if !sev.IsValid() || !validConfidence(conf) {
		ctxlog.From(ctx).Warn("severity classifier returned invalid result, using default",
			"severity", sev,
			"confidence", conf,
		)
		return DefaultSeverity, DefaultConfidence
	}
	return sev, conf
}

// Department routes a category to its department. The text model is not
// consulted: the category is the single source of truth.
func Department(category models.IssueCategory) string {
	return models.DepartmentFor(category)
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// NormalizeCategory maps free-form user input onto a category. ok is false
// when the user gave nothing; unrecognised input falls back to road damage.
func NormalizeCategory(input string) (cat models.IssueCategory, ok bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" {
		return DefaultCategory, false
	}
	switch {
	case strings.Contains(in, "road"):
		return models.RoadDamage, true
	case strings.Contains(in, "waste"):
		return models.WasteOverflow, true
	case strings.Contains(in, "light"):
		return models.StreetlightFailure, true
	}
	return DefaultCategory, true
}
