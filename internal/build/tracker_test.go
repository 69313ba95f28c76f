package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chatbot/internal/bus"
	"chatbot/internal/repository"
)

type fakeCI struct {
	builds []Report
	err    error
	calls  int
}

func (c *fakeCI) ListBuilds(_ context.Context, _ string) ([]Report, error) {
	c.calls++
	return c.builds, c.err
}

type fakeStore struct {
	records map[repository.ID]Record
	saves   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[repository.ID]Record)}
}

func (s *fakeStore) LoadRecord(_ context.Context, id repository.ID) (*Record, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *fakeStore) SaveRecord(_ context.Context, record *Record) error {
	s.saves++
	s.records[record.RepositoryID] = *record
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRepository repository.ID = "SpineEventEngine/web"

func checkCommand() CheckBuild {
	return CheckBuild{
		RepositoryID:   testRepository,
		OrganizationID: "SpineEventEngine",
		ChatSpace:      "spaces/AAAA",
	}
}

func report(number, status string) Report {
	return Report{
		RepositorySlug: string(testRepository),
		ID:             1000,
		Number:         number,
		Status:         status,
		Commit:         Commit{SHA: "abc123", Author: "dev", Message: "Fix things"},
	}
}

func TestTracker_FirstFailure(t *testing.T) {
	ci := &fakeCI{builds: []Report{report("7", StatusFailed)}}
	store := newFakeStore()
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())
	if err != nil {
		t.Fatalf("CheckBuild() error = %v", err)
	}

	if outcome.Kind != BuildFailed {
		t.Errorf("Expected BuildFailed, got %s", outcome.Kind)
	}
	if outcome.Change.Previous != nil {
		t.Errorf("Expected no previous state, got %+v", outcome.Change.Previous)
	}

	record := store.records[testRepository]
	if record.LastState == nil || record.LastState.State != Failing || record.LastState.Build.Number != "7" {
		t.Errorf("Expected record to hold failing build #7, got %+v", record.LastState)
	}
}

func TestTracker_Recovery(t *testing.T) {
	store := newFakeStore()
	previous := StateOf(report("8", StatusFailed), "spaces/AAAA")
	store.records[testRepository] = Record{RepositoryID: testRepository, LastState: &previous}

	ci := &fakeCI{builds: []Report{report("9", StatusPassed)}}
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())
	if err != nil {
		t.Fatalf("CheckBuild() error = %v", err)
	}

	if outcome.Kind != BuildRecovered {
		t.Errorf("Expected BuildRecovered, got %s", outcome.Kind)
	}
	if diff := cmp.Diff(&previous, outcome.Change.Previous); diff != "" {
		t.Errorf("previous state mismatch (-want +got):\n%s", diff)
	}
	if store.records[testRepository].LastState.State != Passing {
		t.Error("Expected record to be updated to PASSING")
	}
}

func TestTracker_Stability(t *testing.T) {
	store := newFakeStore()
	previous := StateOf(report("42", StatusPassed), "spaces/AAAA")
	store.records[testRepository] = Record{RepositoryID: testRepository, LastState: &previous}

	ci := &fakeCI{builds: []Report{report("43", StatusPassed)}}
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())
	if err != nil {
		t.Fatalf("CheckBuild() error = %v", err)
	}

	if outcome.Kind != BuildStable {
		t.Errorf("Expected BuildStable, got %s", outcome.Kind)
	}
	if got := store.records[testRepository].LastState.Build.Number; got != "43" {
		t.Errorf("Expected record to hold build #43, got #%s", got)
	}
}

func TestTracker_NoChangeStillPersists(t *testing.T) {
	store := newFakeStore()
	previous := StateOf(report("10", StatusFailed), "spaces/AAAA")
	store.records[testRepository] = Record{RepositoryID: testRepository, LastState: &previous}

	ci := &fakeCI{builds: []Report{report("11", StatusErrored)}}
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())
	if err != nil {
		t.Fatalf("CheckBuild() error = %v", err)
	}

	if outcome.Kind != NoChange {
		t.Errorf("Expected NoChange, got %s", outcome.Kind)
	}
	if len(outcome.Events(testRepository)) != 0 {
		t.Error("Expected no events for NoChange")
	}
	if store.saves != 1 {
		t.Errorf("Expected the record to be saved once, got %d", store.saves)
	}
	if got := store.records[testRepository].LastState.Build.Number; got != "11" {
		t.Errorf("Expected record to hold build #11, got #%s", got)
	}
}

func TestTracker_NoBuildsFound(t *testing.T) {
	ci := &fakeCI{}
	store := newFakeStore()
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())

	var rejection *NoBuildsFoundError
	if !errors.As(err, &rejection) {
		t.Fatalf("Expected NoBuildsFoundError, got %v", err)
	}
	if rejection.RepositoryID != testRepository {
		t.Errorf("Expected rejection for %s, got %s", testRepository, rejection.RepositoryID)
	}
	if outcome.Kind != NoBuildsFound {
		t.Errorf("Expected NoBuildsFound outcome, got %s", outcome.Kind)
	}
	if store.saves != 0 {
		t.Errorf("Expected no state mutation, got %d saves", store.saves)
	}
}

func TestTracker_CIFailure(t *testing.T) {
	boom := errors.New("connection refused")
	ci := &fakeCI{err: boom}
	store := newFakeStore()
	tracker := NewTracker(ci, store, testLogger())

	_, err := tracker.CheckBuild(context.Background(), checkCommand())
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped CI error, got %v", err)
	}
	if store.saves != 0 {
		t.Errorf("Expected no state mutation, got %d saves", store.saves)
	}
}

func TestTracker_UsesMostRecentBuild(t *testing.T) {
	ci := &fakeCI{builds: []Report{report("21", StatusPassed), report("20", StatusFailed)}}
	store := newFakeStore()
	tracker := NewTracker(ci, store, testLogger())

	outcome, err := tracker.CheckBuild(context.Background(), checkCommand())
	if err != nil {
		t.Fatalf("CheckBuild() error = %v", err)
	}
	if outcome.Change.New.Build.Number != "21" {
		t.Errorf("Expected build #21, got #%s", outcome.Change.New.Build.Number)
	}
}

func TestTracker_ExecutePublishesTransition(t *testing.T) {
	ci := &fakeCI{builds: []Report{report("7", StatusFailed)}}
	tracker := NewTracker(ci, newFakeStore(), testLogger())
	b := bus.New(testLogger())

	var published []bus.Event
	for _, kind := range []Kind{BuildFailed, BuildRecovered, BuildStable} {
		b.Subscribe(string(kind), "observer", func(bus.Event) string { return "all" }, func(_ context.Context, e bus.Event) ([]bus.Event, error) {
			published = append(published, e)
			return nil, nil
		})
	}

	outcome, err := tracker.Execute(context.Background(), b, checkCommand())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != BuildFailed {
		t.Errorf("Expected BuildFailed, got %s", outcome.Kind)
	}

	if len(published) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(published))
	}
	event, ok := published[0].(BuildFailedEvent)
	if !ok {
		t.Fatalf("Expected BuildFailedEvent, got %T", published[0])
	}
	if event.RepositoryID != testRepository {
		t.Errorf("Expected repository %s, got %s", testRepository, event.RepositoryID)
	}
}

// sequencedCI returns one build per call, in order.
type sequencedCI struct {
	mu     sync.Mutex
	builds []Report
	calls  int
}

func (c *sequencedCI) ListBuilds(_ context.Context, _ string) ([]Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.builds[c.calls]
	c.calls++
	return []Report{next}, nil
}

func (c *sequencedCI) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestTracker_OverlappingChecksDeliverInOrder(t *testing.T) {
	ci := &sequencedCI{builds: []Report{report("7", StatusFailed), report("8", StatusPassed)}}
	store := newFakeStore()
	store.records[testRepository] = Record{
		RepositoryID: testRepository,
		LastState:    &BuildState{State: Passing, Build: report("6", StatusPassed)},
	}
	tracker := NewTracker(ci, store, testLogger())
	b := bus.New(testLogger())

	failedSeen := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var delivered []string
	for _, kind := range []Kind{BuildFailed, BuildRecovered} {
		b.Subscribe(string(kind), "observer", func(e bus.Event) string { return e.Kind() }, func(_ context.Context, e bus.Event) ([]bus.Event, error) {
			if e.Kind() == string(BuildFailed) {
				close(failedSeen)
				<-release
			}
			mu.Lock()
			delivered = append(delivered, e.Kind())
			mu.Unlock()
			return nil, nil
		})
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = tracker.Execute(ctx, b, checkCommand())
	}()
	<-failedSeen

	go func() {
		defer wg.Done()
		_, _ = tracker.Execute(ctx, b, checkCommand())
	}()

	time.Sleep(20 * time.Millisecond)
	if calls := ci.callCount(); calls != 1 {
		t.Errorf("Expected the second check to wait for the first one's delivery, CI was queried %d times", calls)
	}

	close(release)
	wg.Wait()

	if diff := cmp.Diff([]string{string(BuildFailed), string(BuildRecovered)}, delivered); diff != "" {
		t.Errorf("Delivery order mismatch (-want +got):\n%s", diff)
	}
	if state := store.records[testRepository].LastState.State; state != Passing {
		t.Errorf("Expected persisted state PASSING, got %s", state)
	}
}
