package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/persistence/memory"
)

type fixture struct {
	store      *memory.Store
	service    *domain.Service
	reconciler *Reconciler
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, time.November, 3, 9, 0, 0, 0, time.UTC)
	f := &fixture{store: memory.NewStore(), now: now}
	clock := domain.ClockFunc(func() time.Time { return f.now })

	f.service = domain.NewService(f.store.Activities(), f.store.Certifications(), f.store.Challenges(), domain.WithClock(clock))
	f.reconciler = New(f.store.Challenges(), f.store.Activities(), f.store.Certifications(), domain.DefaultRegistry(),
		time.Minute, 50, WithClock(clock))
	return f
}

func (f *fixture) recordAt(t *testing.T, user string, payload domain.Payload, at time.Time) *domain.Activity {
	t.Helper()
	saved := f.now
	f.now = at
	defer func() { f.now = saved }()

	activity, err := f.service.RecordActivity(context.Background(), user, payload)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	return activity
}

func (f *fixture) challenge(t *testing.T, challenger, activityID string) *domain.Challenge {
	t.Helper()
	challenge, err := f.service.CreateChallenge(context.Background(), challenger, activityID, nil)
	if err != nil {
		t.Fatalf("challenge failed: %v", err)
	}
	return challenge
}

func (f *fixture) certify(t *testing.T, certifier, activityID string) {
	t.Helper()
	if _, err := f.service.CertifyActivity(context.Background(), certifier, activityID); err != nil {
		t.Fatalf("certify failed: %v", err)
	}
}

func (f *fixture) get(t *testing.T, challengeID string) *domain.Challenge {
	t.Helper()
	challenge, err := f.store.Challenges().Get(context.Background(), challengeID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if challenge == nil {
		t.Fatalf("challenge %s missing", challengeID)
	}
	return challenge
}

func TestTickExpiresOverdueChallenges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", activity.ID)

	// Just before the deadline nothing changes.
	f.now = challenge.ExpiresAt
	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := f.get(t, challenge.ID); got.Status != domain.StatusOpen {
		t.Fatalf("challenge expired at the deadline, want open until strictly past it")
	}

	f.now = challenge.ExpiresAt.Add(time.Second)
	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if got.ResolutionReason == nil || *got.ResolutionReason != domain.ReasonExpired {
		t.Fatalf("expected expired reason, got %v", got.ResolutionReason)
	}
	if got.ResolvingActivityID != nil {
		t.Fatal("expiry must not name a resolving activity")
	}
}

func TestTickClosesChallengeOnCertifiedActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", activity.ID)

	// Certification closes synchronously on the write path.
	f.certify(t, "carol", activity.ID)
	closed := f.get(t, challenge.ID)
	if closed.Status != domain.StatusClosed {
		t.Fatalf("synchronous close missing, got %s", closed.Status)
	}

	// A challenge that slipped past the synchronous close, e.g. across a
	// restart: certified activity with a still-open challenge. Insert at the
	// repository level to sidestep the service guard.
	activity2 := f.recordAt(t, "dana", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	f.certify(t, "carol", activity2.ID)
	challenge2 := domain.Challenge{
		ID:                   "orphaned-challenge",
		ChallengedUserID:     "dana",
		ChallengerUserID:     "bob",
		ChallengedActivityID: activity2.ID,
		Status:               domain.StatusOpen,
		ExpiresAt:            f.now.Add(domain.DefaultChallengeTTL),
		CreatedAt:            f.now,
	}
	if err := f.store.Challenges().Create(ctx, challenge2); err != nil {
		t.Fatalf("direct challenge insert failed: %v", err)
	}

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge2.ID)
	if got.Status != domain.StatusClosed {
		t.Fatalf("expected closed, got %s", got.Status)
	}
	if got.ResolutionReason == nil || *got.ResolutionReason != domain.ReasonCertified {
		t.Fatalf("expected certified reason, got %v", got.ResolutionReason)
	}
}

func TestTickResolvesBySuperiorCertifiedActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	// Later activity that beats the challenged one, certified by a peer.
	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 110}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge.ID)
	if got.Status != domain.StatusClosed {
		t.Fatalf("expected closed, got %s", got.Status)
	}
	if got.ResolutionReason == nil || *got.ResolutionReason != domain.ReasonSuperior {
		t.Fatalf("expected superior reason, got %v", got.ResolutionReason)
	}
	if got.ResolvingActivityID == nil || *got.ResolvingActivityID != later.ID {
		t.Fatalf("expected resolving activity %s, got %v", later.ID, got.ResolvingActivityID)
	}
}

func TestResolveIgnoresUncertifiedAndInferior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	// Superior but uncertified.
	f.recordAt(t, "alice", domain.SetPayload{Reps: 10, Weight: 200}, f.now.Add(time.Hour))
	// Certified but inferior.
	inferior := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now.Add(2*time.Hour))
	f.certify(t, "carol", inferior.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := f.get(t, challenge.ID); got.Status != domain.StatusOpen {
		t.Fatalf("expected challenge to stay open, got %s", got.Status)
	}
}

func TestResolveIgnoresEarlierSuperiorActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Certified superior performance logged before the challenged one.
	earlier := f.recordAt(t, "alice", domain.SetPayload{Reps: 8, Weight: 140}, f.now.Add(-time.Hour))
	f.certify(t, "carol", earlier.ID)

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := f.get(t, challenge.ID); got.Status != domain.StatusOpen {
		t.Fatalf("only later activities may resolve, got %s", got.Status)
	}
}

func TestResolvePicksEarliestQualifyingMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	first := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 100}, f.now.Add(time.Hour))
	second := f.recordAt(t, "alice", domain.SetPayload{Reps: 12, Weight: 180}, f.now.Add(2*time.Hour))
	f.certify(t, "carol", first.ID)
	f.certify(t, "carol", second.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge.ID)
	if got.ResolvingActivityID == nil || *got.ResolvingActivityID != first.ID {
		t.Fatalf("expected earliest match %s, got %v", first.ID, got.ResolvingActivityID)
	}
}

func TestExpiryTakesPrecedenceOverResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 120}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	// The tick that first observes the challenge runs after its deadline.
	f.now = challenge.ExpiresAt.Add(time.Minute)
	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("expected expiry to win, got %s (%v)", got.Status, got.ResolutionReason)
	}
}

func TestTickIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)
	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 100}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	first := f.get(t, challenge.ID)

	// A best-yet performance arrives after settlement and changes nothing.
	best := f.recordAt(t, "alice", domain.SetPayload{Reps: 20, Weight: 300}, f.now.Add(2*time.Hour))
	f.certify(t, "carol", best.ID)

	for i := 0; i < 3; i++ {
		if err := f.reconciler.RunTick(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
	got := f.get(t, challenge.ID)
	if *got.ResolvingActivityID != *first.ResolvingActivityID || !got.ClosedAt.Equal(*first.ClosedAt) {
		t.Fatalf("terminal state mutated: %+v vs %+v", got, first)
	}
}

func TestResolvePaginatesOpenChallenges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// More open challenges than one page.
	f.reconciler.batchSize = 3
	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		at := f.now.Add(time.Duration(i) * time.Minute)
		activity := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, at)
		f.now = at
		challenge := f.challenge(t, "bob", activity.ID)
		ids = append(ids, challenge.ID)
	}
	f.now = f.now.Add(15 * 24 * time.Hour)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	for _, id := range ids {
		if got := f.get(t, id); got.Status != domain.StatusExpired {
			t.Fatalf("challenge %s not expired: %s", id, got.Status)
		}
	}
}

func TestTickContainsPerChallengeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	healthy := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	healthyChallenge := f.challenge(t, "bob", healthy.ID)

	broken := f.recordAt(t, "dana", domain.SetPayload{Reps: 5, Weight: 100}, f.now.Add(time.Minute))
	f.now = f.now.Add(time.Minute)
	brokenChallenge := f.challenge(t, "bob", broken.ID)

	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 100}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	activities := &flakyActivities{ActivityRepository: f.store.Activities(), failID: broken.ID}
	reconciler := New(f.store.Challenges(), activities, f.store.Certifications(), domain.DefaultRegistry(),
		time.Minute, 50, WithClock(domain.ClockFunc(func() time.Time { return f.now })))

	if err := reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := f.get(t, healthyChallenge.ID); got.Status != domain.StatusClosed {
		t.Fatalf("healthy challenge should close despite the broken one, got %s", got.Status)
	}
	if got := f.get(t, brokenChallenge.ID); got.Status != domain.StatusOpen {
		t.Fatalf("broken challenge should stay open for the next tick, got %s", got.Status)
	}
}

func TestCertificationRacesResolutionFirstWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 100}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	// Certification of the challenged activity lands before the resolve pass
	// observes the challenge.
	f.certify(t, "dave", challenged.ID)

	if err := f.reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	got := f.get(t, challenge.ID)
	if got.ResolutionReason == nil || *got.ResolutionReason != domain.ReasonCertified {
		t.Fatalf("expected the certification close to stick, got %v", got.ResolutionReason)
	}
	if got.ResolvingActivityID != nil {
		t.Fatal("resolution must not overwrite the certification close")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	go f.reconciler.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		f.reconciler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop after cancel")
	}
}

// flakyActivities fails Get for one activity to simulate a partial outage.
type flakyActivities struct {
	domain.ActivityRepository
	failID string
}

func (f *flakyActivities) Get(ctx context.Context, id string) (*domain.Activity, error) {
	if id == f.failID {
		return nil, errors.New("storage briefly unavailable")
	}
	return f.ActivityRepository.Get(ctx, id)
}

func TestTickToleratesNonPositiveBatchSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
	challenge := f.challenge(t, "bob", challenged.ID)

	// Certified but not superior, so the resolve scan walks a page that ends
	// without a match.
	later := f.recordAt(t, "alice", domain.SetPayload{Reps: 4, Weight: 100}, f.now.Add(time.Hour))
	f.certify(t, "carol", later.ID)

	reconciler := New(f.store.Challenges(), f.store.Activities(), f.store.Certifications(), domain.DefaultRegistry(),
		time.Minute, 0, WithClock(domain.ClockFunc(func() time.Time { return f.now })))
	if reconciler.batchSize < 1 {
		t.Fatalf("batch size not clamped: %d", reconciler.batchSize)
	}

	if err := reconciler.RunTick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := f.get(t, challenge.ID); got.Status != domain.StatusOpen {
		t.Fatalf("expected challenge to stay open, got %s", got.Status)
	}
}

func TestConcurrentCertifyAndTickSettleOnce(t *testing.T) {
	for i := 0; i < 25; i++ {
		f := newFixture(t)
		ctx := context.Background()

		challenged := f.recordAt(t, "alice", domain.SetPayload{Reps: 5, Weight: 100}, f.now)
		challenge := f.challenge(t, "bob", challenged.ID)
		later := f.recordAt(t, "alice", domain.SetPayload{Reps: 6, Weight: 100}, f.now.Add(time.Hour))
		f.certify(t, "carol", later.ID)

		// Certification of the challenged activity races the resolve pass.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.service.CertifyActivity(ctx, "dave", challenged.ID); err != nil {
				t.Errorf("certify failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := f.reconciler.RunTick(ctx); err != nil {
				t.Errorf("tick failed: %v", err)
			}
		}()
		wg.Wait()

		got := f.get(t, challenge.ID)
		if !got.Terminal() {
			t.Fatalf("expected terminal challenge, got %s", got.Status)
		}
		if got.ResolutionReason == nil || got.ClosedAt == nil {
			t.Fatalf("terminal challenge missing reason or close stamp: %+v", got)
		}
		switch *got.ResolutionReason {
		case domain.ReasonCertified:
			if got.ResolvingActivityID != nil {
				t.Fatal("certification close must not name a resolving activity")
			}
		case domain.ReasonSuperior:
			if got.ResolvingActivityID == nil || *got.ResolvingActivityID != later.ID {
				t.Fatalf("unexpected resolving activity %v", got.ResolvingActivityID)
			}
		default:
			t.Fatalf("unexpected resolution reason %s", *got.ResolutionReason)
		}
	}
}
