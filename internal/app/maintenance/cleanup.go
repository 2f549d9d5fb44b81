package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stayline/stayline/internal/services"
	"github.com/stayline/stayline/pkg/logger"
	"github.com/stayline/stayline/pkg/metrics"
)

const defaultTokenSweepSpec = "@hourly"

// Cleaner periodically purges expired verification token rows so abandoned
// registrations do not accumulate. The sweep only ever touches rows past
// their expiry, so it is safe to run alongside live request flows.
type Cleaner struct {
	tokens *services.VerificationTokenService
	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger

	tokenSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenSchedule overrides the cron specification for the token sweep.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(tokens *services.VerificationTokenService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		tokens:        tokens,
		now:           time.Now,
		tokenSchedule: defaultTokenSweepSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.tokens == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
		if err := c.sweepTokens(context.Background()); err != nil {
			c.log.Warn("token sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.tokens != nil {
		if err := c.sweepTokens(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) sweepTokens(ctx context.Context) error {
	removed, err := c.tokens.CleanupExpired(ctx, c.now())
	if err != nil {
		return err
	}

	if removed > 0 {
		metrics.TokensPurged.Add(float64(removed))
		c.log.Info("expired verification tokens removed", zap.Int64("count", removed))
	}
	return nil
}
