package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ktmr/autotrack/internal/db"
	"github.com/ktmr/autotrack/internal/detector"
	"github.com/ktmr/autotrack/internal/rules"
	"github.com/ktmr/autotrack/internal/sched"
	"github.com/ktmr/autotrack/pkg/models"
)

type fakeSamples struct {
	mu    sync.Mutex
	queue []models.WindowInfo
	idx   int
}

func (f *fakeSamples) push(app, title, url string) {
	f.mu.Lock()
	f.queue = append(f.queue, models.WindowInfo{AppName: app, WindowTitle: title, URL: url})
	f.mu.Unlock()
}

func (f *fakeSamples) ActiveWindow(context.Context) (models.WindowInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return models.WindowInfo{}, nil
	}
	if f.idx >= len(f.queue) {
		return f.queue[len(f.queue)-1], nil
	}
	info := f.queue[f.idx]
	f.idx++
	return info, nil
}

type recordingSink struct {
	mu            sync.Mutex
	created       []models.Entry
	ended         []models.Entry
	confirmations []models.ConfirmationRequest
}

func (s *recordingSink) EntryCreated(e models.Entry) {
	s.mu.Lock()
	s.created = append(s.created, e)
	s.mu.Unlock()
}

func (s *recordingSink) EntryEnded(e models.Entry) {
	s.mu.Lock()
	s.ended = append(s.ended, e)
	s.mu.Unlock()
}

func (s *recordingSink) ConfirmationRequested(req models.ConfirmationRequest) {
	s.mu.Lock()
	s.confirmations = append(s.confirmations, req)
	s.mu.Unlock()
}

type EngineSuite struct {
	suite.Suite
	store    *db.Store
	projects *db.ProjectStore
	entries  *db.EntryStore
	rules    *db.RuleStore
	samples  *fakeSamples
	sink     *recordingSink
	sched    *sched.Manual
	engine   *Engine
	clock    time.Time
	ctx      context.Context
}

func (s *EngineSuite) SetupTest() {
	store, err := db.NewMemoryStore()
	require.NoError(s.T(), err)
	s.store = store
	s.projects = db.NewProjectStore(store)
	s.entries = db.NewEntryStore(store)
	s.rules = db.NewRuleStore(store)
	s.samples = &fakeSamples{}
	s.sink = &recordingSink{}
	s.sched = sched.NewManual()
	s.clock = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	// structural layer only: deterministic without images or a credential
	det := detector.New(nil, nil, nil, detector.Options{})
	s.engine = New(Deps{
		Projects:  s.projects,
		Entries:   s.entries,
		Rules:     rules.NewMatcher(s.rules),
		Detector:  det,
		Samples:   s.samples,
		Sink:      s.sink,
		Scheduler: s.sched,
	}, DefaultConfig())
	s.engine.now = func() time.Time { return s.clock }
}

func (s *EngineSuite) TearDownTest() {
	s.store.Close()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *EngineSuite) allEntries() []models.Entry {
	entries, err := s.entries.FindByDateRange(s.ctx, s.clock.Add(-24*time.Hour), s.clock.Add(24*time.Hour), true)
	s.Require().NoError(err)
	return entries
}

func (s *EngineSuite) TestStartThenImmediateStopLeavesNoEntries() {
	s.samples.push("Code", "main.go", "")

	s.Require().NoError(s.engine.Start(s.ctx))
	s.Require().NoError(s.engine.Stop(s.ctx))

	s.Empty(s.allEntries())
	s.False(s.engine.Status().IsRunning)
}

func (s *EngineSuite) TestStartTwiceFails() {
	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	s.ErrorIs(s.engine.Start(s.ctx), ErrAlreadyRunning)
	s.Require().NoError(s.engine.Stop(s.ctx))
	s.ErrorIs(s.engine.Stop(s.ctx), ErrNotRunning)
}

func (s *EngineSuite) TestStartReturnsWithImmediateTick() {
	// the immediate capture tick runs on the caller's goroutine; Start
	// must not hold the state lock across it
	s.samples.push("Code", "main.go", "")
	done := make(chan error, 1)
	go func() { done <- s.engine.Start(s.ctx) }()
	select {
	case err := <-done:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("Start did not return")
	}
	s.Require().NoError(s.engine.Stop(s.ctx))
}

func (s *EngineSuite) TestPauseStateErrors() {
	s.ErrorIs(s.engine.Pause(), ErrNotRunning)
	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	s.Require().NoError(s.engine.Pause())
	s.ErrorIs(s.engine.Pause(), ErrAlreadyPaused)
	s.Require().NoError(s.engine.Resume())
	s.ErrorIs(s.engine.Resume(), ErrNotPaused)
}

func (s *EngineSuite) TestRuleMatchAssignsProjectOutright() {
	p := s.mustProject("Alpha")
	s.mustRule(p.ID, models.RuleTypeAppName, "Code", 1)
	s.samples.push("Code", "main.go", "")

	s.Require().NoError(s.engine.Start(s.ctx))

	status := s.engine.Status()
	s.Require().NotNil(status.CurrentProjectID)
	s.Equal(p.ID, *status.CurrentProjectID)
	s.Equal("Alpha", status.CurrentProjectName)
	s.Equal(100, status.Confidence)
	s.Nil(s.engine.PendingConfirmation())
}

func (s *EngineSuite) TestEndToEndContextSwitch() {
	p := s.mustProject("Alpha")
	s.mustRule(p.ID, models.RuleTypeAppName, "Code", 1)

	// tick 1: first observation, rule resolves the project
	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))

	status := s.engine.Status()
	s.Require().NotNil(status.CurrentProjectID)
	s.Equal(p.ID, *status.CurrentProjectID)
	alphaEntryID := *status.CurrentEntryID

	// tick 2: same context, nothing happens
	s.advance(2 * time.Minute)
	s.sched.Tick(0)
	s.Equal(alphaEntryID, *s.engine.Status().CurrentEntryID)

	// tick 3: app switch, no rule matches Chrome, work goes unassigned
	s.samples.push("Chrome", "github", "https://github.com/acme/api")
	s.advance(2 * time.Minute)
	s.sched.Tick(0)

	status = s.engine.Status()
	s.Nil(status.CurrentProjectID)
	s.Require().NotNil(status.CurrentEntryID)
	s.NotEqual(alphaEntryID, *status.CurrentEntryID)
	s.Equal(0, status.Confidence)

	// the Alpha entry was long enough to survive as a closed entry
	closed, err := s.entries.FindByID(s.ctx, alphaEntryID)
	s.Require().NoError(err)
	s.Require().NotNil(closed.EndTime)

	// unassigned work at confidence 0 raises a confirmation
	pending := s.engine.PendingConfirmation()
	s.Require().NotNil(pending)
	s.Equal(*status.CurrentEntryID, pending.EntryID)
	s.LessOrEqual(len(pending.Alternatives), 3)
	s.NotEmpty(s.sink.confirmations)
}

func (s *EngineSuite) TestMetadataLoopQuickChange() {
	p := s.mustProject("Alpha")
	s.mustRule(p.ID, models.RuleTypeAppName, "Figma", 1)

	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))

	// app switch picked up by the light loop without a capture tick
	s.samples.push("Figma", "mockups", "")
	s.advance(2 * time.Minute)
	s.sched.Tick(1)

	status := s.engine.Status()
	s.Require().NotNil(status.CurrentProjectID)
	s.Equal(p.ID, *status.CurrentProjectID)
}

func (s *EngineSuite) TestPauseStopsTicks() {
	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	before := len(s.allEntries())

	s.Require().NoError(s.engine.Pause())
	s.True(s.engine.Status().IsPaused)

	s.samples.push("Chrome", "news", "https://news.example.com")
	s.advance(2 * time.Minute)
	s.sched.TickAll()
	s.Equal(before, len(s.allEntries()))

	s.Require().NoError(s.engine.Resume())
	s.False(s.engine.Status().IsPaused)
}

func (s *EngineSuite) TestSameProjectRefreshesEntryInPlace() {
	p := s.mustProject("Alpha")
	s.mustRule(p.ID, models.RuleTypeAppName, "Code", 1)

	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	entryID := *s.engine.Status().CurrentEntryID

	// a different file in the same app: change detected, same project
	s.samples.push("Code", "handler.go", "")
	s.advance(2 * time.Minute)
	s.sched.Tick(0)

	s.Equal(entryID, *s.engine.Status().CurrentEntryID)
	entry, err := s.entries.FindByID(s.ctx, entryID)
	s.Require().NoError(err)
	s.Nil(entry.EndTime)
	s.Equal(100, entry.Confidence)
}

func (s *EngineSuite) TestHandleConfirmationConfirm() {
	s.samples.push("Chrome", "news", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	entryID := *s.engine.Status().CurrentEntryID

	s.Require().NoError(s.engine.HandleConfirmation(s.ctx, models.ConfirmationResponse{
		EntryID: entryID,
		Action:  models.ConfirmationConfirm,
	}))

	entry, err := s.entries.FindByID(s.ctx, entryID)
	s.Require().NoError(err)
	s.Equal(100, entry.Confidence)
	s.Equal(100, s.engine.Status().Confidence)
	s.Nil(s.engine.PendingConfirmation())
}

func (s *EngineSuite) TestHandleConfirmationChange() {
	p := s.mustProject("Alpha")
	s.samples.push("Chrome", "news", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	entryID := *s.engine.Status().CurrentEntryID

	s.Require().NoError(s.engine.HandleConfirmation(s.ctx, models.ConfirmationResponse{
		EntryID:      entryID,
		Action:       models.ConfirmationChange,
		NewProjectID: &p.ID,
	}))

	entry, err := s.entries.FindByID(s.ctx, entryID)
	s.Require().NoError(err)
	s.Require().NotNil(entry.ProjectID)
	s.Equal(p.ID, *entry.ProjectID)
	s.Equal(100, entry.Confidence)

	status := s.engine.Status()
	s.Require().NotNil(status.CurrentProjectID)
	s.Equal(p.ID, *status.CurrentProjectID)
	s.Equal("Alpha", status.CurrentProjectName)
}

func (s *EngineSuite) TestHandleConfirmationSplit() {
	s.samples.push("Code", "main.go", "")
	s.Require().NoError(s.engine.Start(s.ctx))
	entryID := *s.engine.Status().CurrentEntryID

	s.advance(10 * time.Minute)
	splitAt := s.clock.Add(-5 * time.Minute)
	s.Require().NoError(s.engine.HandleConfirmation(s.ctx, models.ConfirmationResponse{
		EntryID:   entryID,
		Action:    models.ConfirmationSplit,
		SplitTime: &splitAt,
	}))

	s.Len(s.allEntries(), 2)
}

func (s *EngineSuite) mustProject(name string) models.Project {
	p, err := s.projects.Create(s.ctx, name, "", "", 0)
	s.Require().NoError(err)
	return p
}

func (s *EngineSuite) mustRule(projectID int64, ruleType models.RuleType, pattern string, priority int) models.Rule {
	r, err := s.rules.Create(s.ctx, projectID, ruleType, pattern, priority)
	s.Require().NoError(err)
	return r
}
