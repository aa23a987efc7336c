// Package lifecycle drives an issue from intake through dispatch to
// resolution, tying classification, deduplication, scoring and crew
// assignment to the repository.
package lifecycle

import (
	"context"
	"time"

	"civicsync-dispatch/events"
	"civicsync-dispatch/locks"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/classify"
	"civicsync-dispatch/services/duplicate"
	"civicsync-dispatch/services/optimizer"
	"civicsync-dispatch/services/priority"
	"civicsync-dispatch/storage"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidReport     = goerr.New("invalid report")
	ErrInvalidTransition = goerr.New("invalid status transition")
)

// BatchConfig selects the issues offered to the optimizer in one batch.
type BatchConfig struct {
	MinPriority float64
	Limit       int
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MinPriority: 50, Limit: 20}
}

type Service struct {
	repo       repository.Repository
	locker     locks.Locker
	classifier *classify.Resilient
	images     storage.ImageStore
	publisher  events.Publisher
	scorer     *priority.Scorer
	detector   *duplicate.Detector
	dupCfg     duplicate.Config
	optimizer  *optimizer.Optimizer
	batch      BatchConfig
	now        func() time.Time
}

type Option func(*Service)

func WithLocker(l locks.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithClassifier(c classify.Classifier) Option {
	return func(s *Service) { s.classifier = classify.NewResilient(c) }
}

func WithImageStore(store storage.ImageStore) Option {
	return func(s *Service) { s.images = store }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithPriorityConfig(cfg priority.Config) Option {
	return func(s *Service) { s.scorer = priority.New(cfg) }
}

func WithDuplicateConfig(cfg duplicate.Config) Option {
	return func(s *Service) {
		s.dupCfg = cfg
		s.detector = duplicate.New(cfg)
	}
}

func WithOptimizer(cfg optimizer.Config, solver optimizer.Solver) Option {
	return func(s *Service) { s.optimizer = optimizer.New(cfg, solver) }
}

func WithBatchConfig(cfg BatchConfig) Option {
	return func(s *Service) { s.batch = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo repository.Repository, opts ...Option) *Service {
	dupCfg := duplicate.DefaultConfig()
	s := &Service{
		repo:       repo,
		locker:     locks.NewLocal(),
		classifier: classify.NewResilient(classify.Keyword{}),
		images:     storage.Discard{},
		publisher:  events.Nop{},
		scorer:     priority.New(priority.DefaultConfig()),
		detector:   duplicate.New(dupCfg),
		dupCfg:     dupCfg,
		optimizer:  optimizer.New(optimizer.DefaultConfig(), nil),
		batch:      DefaultBatchConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now()
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		ctxlog.From(ctx).Warn("failed to publish event", "subject", e.Subject, "error", err)
	}
}
