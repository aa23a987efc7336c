package classify

import (
	"context"
	"strings"

	"civicsync-dispatch/models"
)

// Keyword is an in-process severity heuristic used when no inference service
// is configured. It has no image model.
type Keyword struct{}

var severityKeywords = []struct {
	severity models.IssueSeverity
	words    []string
}{
	{models.SeverityCritical, []string{"critical", "emergency", "life threatening", "collapsed", "sinkhole", "live wire", "electrocut"}},
	{models.SeverityHigh, []string{"urgent", "dangerous", "hazard", "severe", "accident", "blocked", "overflowing", "flood"}},
	{models.SeverityLow, []string{"minor", "small", "slight", "cosmetic", "flicker"}},
}

func (Keyword) ClassifyImage(ctx context.Context, image []byte) (models.IssueCategory, float64, error) {
	return "", 0, ErrUnsupported
}

func (Keyword) ClassifySeverity(ctx context.Context, text string) (models.IssueSeverity, float64, error) {
	in := strings.ToLower(text)
	for _, group := range severityKeywords {
		hits := 0
		for _, w := range group.words {
			if strings.Contains(in, w) {
				hits++
			}
		}
		if hits > 0 {
			conf := 0.6 + 0.1*float64(hits-1)
			if conf > 0.9 {
				conf = 0.9
			}
			return group.severity, conf, nil
		}
	}
	return DefaultSeverity, DefaultConfidence, nil
}
