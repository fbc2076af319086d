// Package scheduler runs the periodic challenge maintenance passes.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"example.com/challenge/internal/domain"
)

// Reconciler owns the three ordered maintenance passes over open challenges:
// expiry, certification closure, and superiority resolution. One tick runs to
// completion before the next is consumed, so ticks never overlap even when a
// tick outlasts the interval.
type Reconciler struct {
	challenges       domain.ChallengeRepository
	activities       domain.ActivityRepository
	certifications   domain.CertificationRepository
	comparators      *domain.Registry
	clock            domain.Clock
	logger           zerolog.Logger
	interval         time.Duration
	batchSize        int
	ticks            uint64
	shutdownComplete chan struct{}
}

// defaultBatchSize bounds a pass's page size when the caller supplies a
// non-positive value. Paging assumes at least one row per page.
const defaultBatchSize = 100

// Option configures optional Reconciler behaviour.
type Option func(*Reconciler)

// WithClock overrides the wall clock.
func WithClock(clock domain.Clock) Option {
	return func(r *Reconciler) { r.clock = clock }
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// New constructs a Reconciler.
func New(challenges domain.ChallengeRepository, activities domain.ActivityRepository, certifications domain.CertificationRepository, comparators *domain.Registry, interval time.Duration, batchSize int, opts ...Option) *Reconciler {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	r := &Reconciler{
		challenges:       challenges,
		activities:       activities,
		certifications:   certifications,
		comparators:      comparators,
		clock:            domain.SystemClock(),
		logger:           zerolog.Nop(),
		interval:         interval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the tick loop. It should be called in a goroutine; a
// cancelled context stops the loop after the in-flight tick finishes.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer func() {
		ticker.Stop()
		close(r.shutdownComplete)
	}()

	for {
		if err := r.RunTick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Msg("reconciler tick failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the loop has fully stopped.
func (r *Reconciler) Wait() {
	<-r.shutdownComplete
}

// RunTick executes the three passes once, in order. Expiry is a hard deadline
// and precedes certification closure; the cheap certification check precedes
// the resolution scan. Failures on individual challenges are logged and left
// for the next tick.
func (r *Reconciler) RunTick(ctx context.Context) error {
	r.ticks++
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	logger := r.logger.With().Uint64("tick", r.ticks).Logger()

	if err := r.expirePass(ctx, logger); err != nil {
		return err
	}
	if err := r.certifiedClosePass(ctx, logger); err != nil {
		return err
	}
	return r.resolvePass(ctx, logger)
}

// forEachOpen pages through open challenges in (created_at, id) order and
// applies fn to each. Errors from fn are contained per challenge; an error
// listing the batch aborts the pass.
func (r *Reconciler) forEachOpen(ctx context.Context, fn func(domain.Challenge) error, logger zerolog.Logger, pass string) error {
	var cursor *domain.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, next, err := r.challenges.ListOpen(ctx, cursor, r.batchSize)
		if err != nil {
			return err
		}
		for _, challenge := range batch {
			if err := fn(challenge); err != nil {
				passErrors.WithLabelValues(pass).Inc()
				logger.Error().Err(err).Str("pass", pass).Str("challenge_id", challenge.ID).Msg("challenge left for next tick")
			}
		}
		if next == nil {
			return nil
		}
		cursor = next
	}
}

func (r *Reconciler) expirePass(ctx context.Context, logger zerolog.Logger) error {
	now := r.clock.Now().UTC()
	return r.forEachOpen(ctx, func(challenge domain.Challenge) error {
		if !challenge.ExpiresAt.Before(now) {
			return nil
		}
		changed, err := r.challenges.TransitionIfOpen(ctx, challenge.ID, domain.StatusExpired, domain.ReasonExpired, nil, now)
		if err != nil {
			return err
		}
		if changed {
			expiredCounter.Inc()
			logger.Info().Str("challenge_id", challenge.ID).Msg("challenge expired")
		}
		return nil
	}, logger, "expire")
}

func (r *Reconciler) certifiedClosePass(ctx context.Context, logger zerolog.Logger) error {
	// Safety net: the synchronous certification path already closes these.
	// This pass catches transitions missed across restarts.
	now := r.clock.Now().UTC()
	return r.forEachOpen(ctx, func(challenge domain.Challenge) error {
		certified, err := r.certifications.Exists(ctx, challenge.ChallengedActivityID)
		if err != nil {
			return err
		}
		if !certified {
			return nil
		}
		changed, err := r.challenges.TransitionIfOpen(ctx, challenge.ID, domain.StatusClosed, domain.ReasonCertified, nil, now)
		if err != nil {
			return err
		}
		if changed {
			certifiedCounter.Inc()
			logger.Info().Str("challenge_id", challenge.ID).Msg("challenge closed by certification")
		}
		return nil
	}, logger, "certified_close")
}

func (r *Reconciler) resolvePass(ctx context.Context, logger zerolog.Logger) error {
	return r.forEachOpen(ctx, func(challenge domain.Challenge) error {
		return r.resolveChallenge(ctx, logger, challenge)
	}, logger, "resolve")
}

// resolveChallenge closes the challenge against the earliest later certified
// performance that beats the challenged one. Earliest qualifying match wins; a
// later, even better performance never overrides it.
func (r *Reconciler) resolveChallenge(ctx context.Context, logger zerolog.Logger, challenge domain.Challenge) error {
	challenged, err := r.activities.Get(ctx, challenge.ChallengedActivityID)
	if err != nil {
		return err
	}
	if challenged == nil {
		logger.Warn().Str("challenge_id", challenge.ID).Str("activity_id", challenge.ChallengedActivityID).Msg("challenged activity missing")
		return nil
	}

	comparator, ok := r.comparators.Lookup(challenged.Kind)
	if !ok {
		logger.Debug().Str("challenge_id", challenge.ID).Str("kind", challenged.Kind).Msg("no comparator registered")
		return nil
	}

	after := domain.Cursor{CreatedAt: challenged.CreatedAt, ID: challenged.ID}
	for {
		candidates, err := r.activities.ListCertifiedByUserSince(ctx, challenged.UserID, challenged.Kind, after, r.batchSize)
		if err != nil {
			return err
		}
		for _, candidate := range candidates {
			if !comparator.Superior(candidate.Payload, challenged.Payload) {
				continue
			}
			resolving := candidate.ID
			changed, err := r.challenges.TransitionIfOpen(ctx, challenge.ID, domain.StatusClosed, domain.ReasonSuperior, &resolving, r.clock.Now().UTC())
			if err != nil {
				return err
			}
			if changed {
				resolvedCounter.Inc()
				logger.Info().Str("challenge_id", challenge.ID).Str("resolving_activity_id", candidate.ID).Msg("challenge resolved by superior activity")
			}
			return nil
		}
		if len(candidates) < r.batchSize {
			return nil
		}
		last := candidates[len(candidates)-1]
		after = domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}
