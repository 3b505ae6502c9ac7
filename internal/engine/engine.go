// Package engine is the tracking orchestrator: it polls the desktop,
// funnels samples through the change-detection cascade, resolves the
// project for each stretch of work, and maintains the open time entry.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/internal/detector"
	"github.com/ktmr/autotrack/internal/sched"
	"github.com/ktmr/autotrack/pkg/models"
)

var (
	ErrAlreadyRunning = errors.New("tracking already running")
	ErrAlreadyPaused  = errors.New("tracking already paused")
	ErrNotRunning     = errors.New("tracking not running")
	ErrNotPaused      = errors.New("tracking not paused")
)

// Config are the engine's timing and confidence knobs.
type Config struct {
	CaptureInterval      time.Duration
	MetadataInterval     time.Duration
	AutoConfirmThreshold int
	MinEntryDuration     time.Duration
}

// DefaultConfig returns the stock engine timings.
func DefaultConfig() Config {
	return Config{
		CaptureInterval:      time.Minute,
		MetadataInterval:     5 * time.Second,
		AutoConfirmThreshold: 85,
		MinEntryDuration:     time.Minute,
	}
}

// ProjectSource lists and resolves projects.
type ProjectSource interface {
	FindAll(ctx context.Context, includeArchived bool) ([]models.Project, error)
	FindByID(ctx context.Context, id int64) (*models.Project, error)
}

// EntryStore persists work entries.
type EntryStore interface {
	Create(ctx context.Context, params models.NewEntryParams) (models.Entry, error)
	End(ctx context.Context, id int64, endTime time.Time) (models.Entry, error)
	Update(ctx context.Context, id int64, upd models.EntryUpdate) (models.Entry, error)
	Delete(ctx context.Context, id int64) error
	Split(ctx context.Context, id int64, splitTime time.Time) (before, after models.Entry, err error)
}

// SampleSource queries the foreground window.
type SampleSource interface {
	ActiveWindow(ctx context.Context) (models.WindowInfo, error)
}

// ScreenshotSource captures the screen. Optional; a nil source skips
// image-based detection layers.
type ScreenshotSource interface {
	Capture(ctx context.Context, entryID int64) ([]byte, error)
}

// RuleMatcher resolves a sample to a project by user rules.
type RuleMatcher interface {
	Match(ctx context.Context, sample models.ScreenSample, extraKeywords []string) (*models.MatchedRule, error)
}

// ProjectJudge is the AI fallback for project resolution.
type ProjectJudge interface {
	JudgeProject(ctx context.Context, sample models.ScreenSample, projects []models.Project) (models.ProjectJudgment, error)
	HasCredential() bool
}

// ChangeDetector runs the detection cascade.
type ChangeDetector interface {
	Detect(ctx context.Context, sample models.ScreenSample, imageData []byte) models.ChangeDetectionResult
	Reset()
}

// PasswordDetector flags credential screens.
type PasswordDetector interface {
	QuickCheck(sample models.ScreenSample) bool
}

// NetworkStatus reports reasoning-service reachability.
type NetworkStatus interface {
	IsOnline() bool
}

// Sink receives entry lifecycle and confirmation events.
type Sink interface {
	EntryCreated(entry models.Entry)
	EntryEnded(entry models.Entry)
	ConfirmationRequested(req models.ConfirmationRequest)
}

// Deps bundles the engine's collaborators. Samples, Entries, Projects,
// Detector and Scheduler are required; the rest may be nil.
type Deps struct {
	Projects   ProjectSource
	Entries    EntryStore
	Rules      RuleMatcher
	Judge      ProjectJudge
	Detector   ChangeDetector
	Samples    SampleSource
	Screenshot ScreenshotSource
	Password   PasswordDetector
	Network    NetworkStatus
	Sink       Sink
	Scheduler  sched.Scheduler
}

// Engine is the tracking state machine. All public methods are safe for
// concurrent use; tick handlers tolerate overlap with last-write-wins
// sample state.
type Engine struct {
	deps Deps
	now  func() time.Time

	mu             sync.Mutex
	cfg            Config
	running        bool
	paused         bool
	startedAt      time.Time
	currentEntry   *models.Entry
	currentProject *int64
	projectName    string
	lastSample     *models.ScreenSample
	pending        *models.ConfirmationRequest
	captureLoop    sched.Handle
	metadataLoop   sched.Handle
	ctx            context.Context
}

// New creates an engine. It does not start tracking.
func New(deps Deps, cfg Config) *Engine {
	if deps.Scheduler == nil {
		deps.Scheduler = sched.Ticker{}
	}
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = time.Minute
	}
	if cfg.MetadataInterval <= 0 {
		cfg.MetadataInterval = 5 * time.Second
	}
	if cfg.AutoConfirmThreshold <= 0 {
		cfg.AutoConfirmThreshold = 85
	}
	if cfg.MinEntryDuration <= 0 {
		cfg.MinEntryDuration = time.Minute
	}
	return &Engine{deps: deps, cfg: cfg, now: time.Now}
}

// Start begins tracking: it opens an unassigned seed entry and starts
// the capture and metadata loops. The capture loop fires immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.paused = false
	e.startedAt = e.now()
	e.ctx = ctx
	e.mu.Unlock()

	log.Info().Msg("Tracking started")

	entry, err := e.deps.Entries.Create(ctx, models.NewEntryParams{
		StartTime: e.now(),
		IsWork:    true,
	})
	if err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}
	e.mu.Lock()
	e.currentEntry = &entry
	e.currentProject = nil
	e.projectName = ""
	e.mu.Unlock()
	e.notifyCreated(entry)

	e.startLoops()
	return nil
}

// Stop halts both loops, resets the detector, and closes the current
// entry, deleting it instead when it is shorter than the minimum entry
// duration.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.running = false
	e.paused = false
	entry := e.currentEntry
	e.currentEntry = nil
	e.currentProject = nil
	e.projectName = ""
	e.lastSample = nil
	e.pending = nil
	e.startedAt = time.Time{}
	e.stopLoopsLocked()
	e.mu.Unlock()

	e.deps.Detector.Reset()

	if entry != nil {
		e.closeOrDrop(ctx, *entry)
	}
	log.Info().Msg("Tracking stopped")
	return nil
}

// Pause halts the loops without touching the current entry or the
// detector's remembered state.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	if e.paused {
		return ErrAlreadyPaused
	}
	e.paused = true
	e.stopLoopsLocked()
	log.Info().Msg("Tracking paused")
	return nil
}

// Resume restarts the loops after a pause.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if !e.running || !e.paused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	e.paused = false
	e.mu.Unlock()

	e.startLoops()
	log.Info().Msg("Tracking resumed")
	return nil
}

// Status snapshots the engine state.
func (e *Engine) Status() models.TrackingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := models.TrackingStatus{
		IsRunning:          e.running,
		IsPaused:           e.paused,
		CurrentProjectID:   e.currentProject,
		CurrentProjectName: e.projectName,
	}
	if !e.startedAt.IsZero() {
		t := e.startedAt
		status.StartedAt = &t
		status.ElapsedSeconds = int64(e.now().Sub(e.startedAt).Seconds())
	}
	if e.currentEntry != nil {
		id := e.currentEntry.ID
		status.CurrentEntryID = &id
		status.Confidence = e.currentEntry.Confidence
	}
	return status
}

// PendingConfirmation returns the outstanding confirmation request, if
// any.
func (e *Engine) PendingConfirmation() *models.ConfirmationRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// ApplyConfig swaps the timing knobs, restarting the loops when running.
func (e *Engine) ApplyConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	restart := e.running && !e.paused
	if restart {
		e.stopLoopsLocked()
	}
	e.mu.Unlock()

	if restart {
		e.startLoops()
	}
}

// startLoops registers both loops outside the lock: the immediate
// capture tick runs synchronously on this goroutine and takes e.mu
// itself.
func (e *Engine) startLoops() {
	e.mu.Lock()
	ctx := e.ctx
	cfg := e.cfg
	e.mu.Unlock()

	capture := e.deps.Scheduler.Every(cfg.CaptureInterval, true, func() { e.captureTick(ctx) })
	metadata := e.deps.Scheduler.Every(cfg.MetadataInterval, false, func() { e.metadataTick(ctx) })

	e.mu.Lock()
	if !e.running || e.paused {
		e.mu.Unlock()
		capture.Stop()
		metadata.Stop()
		return
	}
	e.captureLoop = capture
	e.metadataLoop = metadata
	e.mu.Unlock()
}

func (e *Engine) stopLoopsLocked() {
	if e.captureLoop != nil {
		e.captureLoop.Stop()
		e.captureLoop = nil
	}
	if e.metadataLoop != nil {
		e.metadataLoop.Stop()
		e.metadataLoop = nil
	}
}

// captureTick is the heavy loop: sample, optional screenshot, full
// cascade. Failures skip the tick, never stop the loop.
func (e *Engine) captureTick(ctx context.Context) {
	if e.skipTick() {
		return
	}

	info, err := e.deps.Samples.ActiveWindow(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Active window query failed, skipping tick")
		return
	}
	sample := info.Sample()

	if e.deps.Password != nil && e.deps.Password.QuickCheck(sample) {
		log.Debug().Msg("Password screen detected, suppressing screenshot")
		e.setLastSample(sample)
		return
	}

	var imageData []byte
	if e.deps.Screenshot != nil {
		entryID := int64(0)
		e.mu.Lock()
		if e.currentEntry != nil {
			entryID = e.currentEntry.ID
		}
		e.mu.Unlock()
		imageData, err = e.deps.Screenshot.Capture(ctx, entryID)
		if err != nil {
			log.Warn().Err(err).Msg("Screenshot capture failed, continuing without image")
			imageData = nil
		}
	}

	result := e.deps.Detector.Detect(ctx, sample, imageData)
	log.Debug().
		Bool("change", result.HasChange).
		Int("layer", result.Layer).
		Dur("took", result.ProcessingTime).
		Msg("Change detection pass")

	if result.HasChange {
		e.judgeAndUpdate(ctx, sample)
	}
	e.setLastSample(sample)
}

// metadataTick is the light loop: sample plus the structural quick
// check only.
func (e *Engine) metadataTick(ctx context.Context) {
	if e.skipTick() {
		return
	}

	info, err := e.deps.Samples.ActiveWindow(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Active window query failed, skipping tick")
		return
	}
	sample := info.Sample()

	e.mu.Lock()
	prev := e.lastSample
	e.mu.Unlock()

	if detector.QuickChange(prev, sample) {
		log.Debug().Str("app", sample.AppName).Msg("Quick change detected")
		e.judgeAndUpdate(ctx, sample)
	}
	e.setLastSample(sample)
}

func (e *Engine) skipTick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.running || e.paused
}

func (e *Engine) setLastSample(sample models.ScreenSample) {
	e.mu.Lock()
	s := sample
	e.lastSample = &s
	e.mu.Unlock()
}

func (e *Engine) notifyCreated(entry models.Entry) {
	if e.deps.Sink != nil {
		e.deps.Sink.EntryCreated(entry)
	}
}

func (e *Engine) notifyEnded(entry models.Entry) {
	if e.deps.Sink != nil {
		e.deps.Sink.EntryEnded(entry)
	}
}

// closeOrDrop ends the entry, or deletes it when it is too short to be
// a meaningful stretch of work.
func (e *Engine) closeOrDrop(ctx context.Context, entry models.Entry) {
	if e.now().Sub(entry.StartTime) < e.config().MinEntryDuration {
		if err := e.deps.Entries.Delete(ctx, entry.ID); err != nil {
			log.Warn().Err(err).Int64("entry_id", entry.ID).Msg("Failed to drop short entry")
		}
		return
	}
	ended, err := e.deps.Entries.End(ctx, entry.ID, e.now())
	if err != nil {
		log.Warn().Err(err).Int64("entry_id", entry.ID).Msg("Failed to end entry")
		return
	}
	e.notifyEnded(ended)
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}
