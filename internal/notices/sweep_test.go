package notices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opencirc/noticesvc/internal/records"
)

type fakeResolver struct {
	mu       sync.Mutex
	byNotice map[uuid.UUID]*NoticeContext
	missing  map[uuid.UUID]bool
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		byNotice: make(map[uuid.UUID]*NoticeContext),
		missing:  make(map[uuid.UUID]bool),
	}
}

func (r *fakeResolver) Resolve(ctx context.Context, n ScheduledNotice) (*NoticeContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.missing[n.ID] {
		return nil, &records.NotFoundError{Record: "loan", ID: n.Owner.LoanID}
	}
	if c, ok := r.byNotice[n.ID]; ok {
		return c, nil
	}
	return &NoticeContext{RecipientID: uuid.New()}, nil
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []uuid.UUID
	fail map[uuid.UUID]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: make(map[uuid.UUID]bool)}
}

func (g *fakeGateway) Send(ctx context.Context, req SendRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail[req.NoticeID] {
		return &DispatchError{Status: 502, Body: "bad gateway"}
	}
	g.sent = append(g.sent, req.NoticeID)
	return nil
}

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []LogEvent
	err    error
}

func (e *fakeEmitter) Publish(ctx context.Context, ev LogEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEmitter) countByType(t EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeSettings struct {
	limit int
	tz    *time.Location
}

func (s *fakeSettings) NoticesLimit(ctx context.Context) int { return s.limit }

func (s *fakeSettings) Timezone(ctx context.Context) *time.Location {
	if s.tz == nil {
		return time.UTC
	}
	return s.tz
}

type sweepEnv struct {
	repo     *fakeRepo
	resolver *fakeResolver
	gateway  *fakeGateway
	emitter  *fakeEmitter
	settings *fakeSettings
	proc     *Processor
}

func newSweepEnv(limit int) *sweepEnv {
	env := &sweepEnv{
		repo:     newFakeRepo(),
		resolver: newFakeResolver(),
		gateway:  newFakeGateway(),
		emitter:  &fakeEmitter{},
		settings: &fakeSettings{limit: limit},
	}
	env.proc = NewProcessor(env.repo, env.resolver, env.gateway, env.emitter,
		env.settings, 4, discardLogger())
	return env
}

func (e *sweepEnv) add(n ScheduledNotice) ScheduledNotice {
	if err := e.repo.Insert(context.Background(), n); err != nil {
		panic(err)
	}
	return n
}

// oneShot builds a one-shot real-time Due Date notice firing at next.
func oneShot(next time.Time) ScheduledNotice {
	return ScheduledNotice{
		ID:    uuid.New(),
		Owner: LoanOwner(uuid.New()),
		Event: EventDueDate,
		Config: Config{
			Timing: TimingUponAt, TemplateID: uuid.New(),
			Format: FormatEmail, SendInRealTime: true,
		},
		NextRunTime: next,
	}
}

func TestRunSelectsBoundedBatchOldestFirst(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(100)
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		env.add(oneShot(base.Add(time.Duration(i) * time.Minute)))
	}

	now := base.Add(3 * time.Hour)
	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Selected != 100 {
		t.Fatalf("Selected = %d, want 100", result.Selected)
	}
	if result.Sent != 100 || result.Deleted != 100 {
		t.Fatalf("Sent = %d, Deleted = %d, want 100 each", result.Sent, result.Deleted)
	}
	if got := env.gateway.sentCount(); got != 100 {
		t.Fatalf("gateway saw %d sends, want 100", got)
	}

	// The 20 newest notices must be the ones left behind.
	remaining := env.repo.all()
	if len(remaining) != 20 {
		t.Fatalf("%d notices remain, want 20", len(remaining))
	}
	firstLeft := base.Add(100 * time.Minute)
	for _, n := range remaining {
		if n.NextRunTime.Before(firstLeft) {
			t.Fatalf("notice at %v was skipped while a newer one was processed", n.NextRunTime)
		}
	}
}

func TestRunDiscardsNoticesWithMissingReferences(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var all []ScheduledNotice
	for i := 0; i < 5; i++ {
		all = append(all, env.add(oneShot(now.Add(-time.Duration(i+1)*time.Minute))))
	}
	env.resolver.missing[all[1].ID] = true
	env.resolver.missing[all[3].ID] = true

	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Selected != 5 {
		t.Fatalf("Selected = %d, want 5", result.Selected)
	}
	if result.Sent != 3 || result.Discarded != 2 || result.Failed != 0 {
		t.Fatalf("Sent = %d, Discarded = %d, Failed = %d, want 3/2/0",
			result.Sent, result.Discarded, result.Failed)
	}
	if got := env.emitter.countByType(EventNotice); got != 3 {
		t.Fatalf("%d NOTICE events, want 3", got)
	}
	if got := env.emitter.countByType(EventNoticeError); got != 2 {
		t.Fatalf("%d NOTICE_ERROR events, want 2", got)
	}
	if got := len(env.repo.all()); got != 0 {
		t.Fatalf("%d notices remain, want 0", got)
	}
}

func TestRunLeavesNoticeUntouchedOnDispatchFailure(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	env.add(oneShot(now.Add(-3 * time.Minute)))
	failing := env.add(oneShot(now.Add(-2 * time.Minute)))
	env.add(oneShot(now.Add(-time.Minute)))
	env.gateway.fail[failing.ID] = true

	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("Sent = %d, Failed = %d, want 2/1", result.Sent, result.Failed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if got := env.emitter.countByType(EventNoticeError); got != 1 {
		t.Fatalf("%d NOTICE_ERROR events, want 1", got)
	}

	left, ok := env.repo.get(failing.ID)
	if !ok {
		t.Fatal("failed notice was removed; it must stay for the next sweep")
	}
	if !left.NextRunTime.Equal(failing.NextRunTime) {
		t.Fatalf("failed notice nextRunTime changed to %v", left.NextRunTime)
	}
}

func TestRunSwallowsEmitterFailures(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	env.emitter.err = errors.New("channel unavailable")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	env.add(oneShot(now.Add(-2 * time.Minute)))
	env.add(oneShot(now.Add(-time.Minute)))

	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Sent != 2 || result.Failed != 0 {
		t.Fatalf("Sent = %d, Failed = %d, want 2/0 despite emitter failure", result.Sent, result.Failed)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v, want none", result.Errors)
	}
	if got := len(env.repo.all()); got != 0 {
		t.Fatalf("%d notices remain, want 0", got)
	}
}

func TestRunReschedulesRecurringNoticeOnGrid(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	dueDate := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	firstRun := dueDate.Add(-48 * time.Hour)

	n := env.add(ScheduledNotice{
		ID:    uuid.New(),
		Owner: LoanOwner(uuid.New()),
		Event: EventDueDate,
		Config: Config{
			Timing: TimingBefore, Period: Duration(48 * time.Hour),
			Recurring: true, RecurrencePeriod: Duration(6 * time.Hour),
			TemplateID: uuid.New(), Format: FormatEmail, SendInRealTime: true,
		},
		NextRunTime: firstRun,
	})
	env.resolver.byNotice[n.ID] = &NoticeContext{RecipientID: uuid.New(), DueDate: dueDate}

	result := env.proc.Run(context.Background(), DueDateRealTime, firstRun.Add(time.Minute))

	if result.Sent != 1 || result.Rescheduled != 1 {
		t.Fatalf("Sent = %d, Rescheduled = %d, want 1/1", result.Sent, result.Rescheduled)
	}
	got, ok := env.repo.get(n.ID)
	if !ok {
		t.Fatal("recurring notice was deleted instead of rescheduled")
	}
	if want := firstRun.Add(6 * time.Hour); !got.NextRunTime.Equal(want) {
		t.Fatalf("nextRunTime = %v, want %v", got.NextRunTime, want)
	}
}

func TestRunStopsRecurringBeforeNoticeAtDueDate(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	dueDate := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	lastRun := dueDate.Add(-4 * time.Hour)

	n := env.add(ScheduledNotice{
		ID:    uuid.New(),
		Owner: LoanOwner(uuid.New()),
		Event: EventDueDate,
		Config: Config{
			Timing: TimingBefore, Period: Duration(48 * time.Hour),
			Recurring: true, RecurrencePeriod: Duration(6 * time.Hour),
			TemplateID: uuid.New(), Format: FormatEmail, SendInRealTime: true,
		},
		NextRunTime: lastRun,
	})
	env.resolver.byNotice[n.ID] = &NoticeContext{RecipientID: uuid.New(), DueDate: dueDate}

	result := env.proc.Run(context.Background(), DueDateRealTime, lastRun.Add(time.Minute))

	// The send happens, but the next run would land past the due date, so the
	// notice retires instead of rescheduling.
	if result.Sent != 1 || result.Deleted != 1 || result.Rescheduled != 0 {
		t.Fatalf("Sent = %d, Deleted = %d, Rescheduled = %d, want 1/1/0",
			result.Sent, result.Deleted, result.Rescheduled)
	}
	if _, ok := env.repo.get(n.ID); ok {
		t.Fatal("recurring Before notice survived past its due date")
	}
}

func TestRunDiscardsClosedOwnerSilently(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	n := env.add(oneShot(now.Add(-time.Minute)))
	env.resolver.byNotice[n.ID] = &NoticeContext{RecipientID: uuid.New(), OwnerClosed: true}

	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Discarded != 1 || result.Sent != 0 {
		t.Fatalf("Discarded = %d, Sent = %d, want 1/0", result.Discarded, result.Sent)
	}
	// A closed owner is a benign race with eager cancellation, not an error.
	if got := len(env.emitter.events); got != 0 {
		t.Fatalf("%d events emitted for a closed owner, want 0", got)
	}
	if _, ok := env.repo.get(n.ID); ok {
		t.Fatal("closed-owner notice was not deleted")
	}
}

func TestRunDiscardsBeforeNoticePastDueDate(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	dueDate := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)

	n := env.add(ScheduledNotice{
		ID:    uuid.New(),
		Owner: LoanOwner(uuid.New()),
		Event: EventDueDate,
		Config: Config{
			Timing: TimingBefore, Period: Duration(48 * time.Hour),
			TemplateID: uuid.New(), Format: FormatEmail, SendInRealTime: true,
		},
		NextRunTime: dueDate.Add(-48 * time.Hour),
	})
	env.resolver.byNotice[n.ID] = &NoticeContext{RecipientID: uuid.New(), DueDate: dueDate}

	// Swept only after the due date has already passed.
	result := env.proc.Run(context.Background(), DueDateRealTime, dueDate.Add(time.Hour))

	if result.Discarded != 1 || result.Sent != 0 {
		t.Fatalf("Discarded = %d, Sent = %d, want 1/0", result.Discarded, result.Sent)
	}
	if _, ok := env.repo.get(n.ID); ok {
		t.Fatal("lapsed Before notice was not deleted")
	}
}

func TestRunDayGateSelectsStrictlyBeforeToday(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	batch := func(next time.Time) ScheduledNotice {
		n := oneShot(next)
		n.Config.SendInRealTime = false
		return n
	}
	yesterday := env.add(batch(time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)))
	today := env.add(batch(time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)))

	result := env.proc.Run(context.Background(), DueDateNotRealTime, now)

	if result.Selected != 1 || result.Sent != 1 {
		t.Fatalf("Selected = %d, Sent = %d, want 1/1", result.Selected, result.Sent)
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC); !env.repo.lastClaimCutoff.Equal(want) {
		t.Fatalf("selection cutoff = %v, want local start of day %v", env.repo.lastClaimCutoff, want)
	}
	if _, ok := env.repo.get(yesterday.ID); ok {
		t.Fatal("yesterday's notice was not processed")
	}
	if _, ok := env.repo.get(today.ID); !ok {
		t.Fatal("today's notice was picked up before the next local midnight")
	}
}

func TestRunDayGateHoldsNoticeDueExactlyAtMidnight(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	n := oneShot(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	n.Config.SendInRealTime = false
	env.add(n)

	result := env.proc.Run(context.Background(), DueDateNotRealTime, now)

	// Due exactly at local midnight means due today; it must wait for the
	// next day's window rather than fire a day early.
	if result.Selected != 0 {
		t.Fatalf("Selected = %d, want 0", result.Selected)
	}
	if _, ok := env.repo.get(n.ID); !ok {
		t.Fatal("midnight notice was processed a day early")
	}
}

func TestRunFallsBackToDefaultLimit(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(0) // unset tenant limit
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	env.add(oneShot(now.Add(-time.Minute)))

	env.proc.Run(context.Background(), DueDateRealTime, now)

	if env.repo.lastClaimLimit != DefaultNoticesLimit {
		t.Fatalf("claim limit = %d, want %d", env.repo.lastClaimLimit, DefaultNoticesLimit)
	}
}

func TestRunReportsSelectionFailure(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	env.repo.claimErr = errors.New("connection refused")

	result := env.proc.Run(context.Background(), DueDateRealTime, time.Now())

	if result.Selected != 0 {
		t.Fatalf("Selected = %d, want 0", result.Selected)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
}

func TestRunRetriesOnResolverInfrastructureFailure(t *testing.T) {
	t.Parallel()
	env := newSweepEnv(50)
	env.resolver.err = errors.New("query timeout")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	n := env.add(oneShot(now.Add(-time.Minute)))

	result := env.proc.Run(context.Background(), DueDateRealTime, now)

	if result.Failed != 1 || result.Discarded != 0 {
		t.Fatalf("Failed = %d, Discarded = %d, want 1/0", result.Failed, result.Discarded)
	}
	if _, ok := env.repo.get(n.ID); !ok {
		t.Fatal("notice hit by an infrastructure failure must stay for retry")
	}
	if got := len(env.emitter.events); got != 0 {
		t.Fatalf("%d events emitted for an infrastructure failure, want 0", got)
	}
}
