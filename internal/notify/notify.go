// Package notify delivers engine events to an external sink (tray UI,
// desktop notifications). Confirmation alerts are rate limited so an
// uncertain classifier cannot nag the user continuously.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/pkg/models"
)

// Sink receives engine events. Implementations must be safe for
// concurrent use; both engine loops may emit.
type Sink interface {
	EntryCreated(entry models.Entry)
	EntryEnded(entry models.Entry)
	ConfirmationRequested(req models.ConfirmationRequest)
}

// RateLimiter admits at most maxPerHour events in any sliding hour.
type RateLimiter struct {
	mu         sync.Mutex
	maxPerHour int
	sent       []time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter. maxPerHour <= 0 means unlimited.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	return &RateLimiter{maxPerHour: maxPerHour, now: time.Now}
}

// Allow reports whether one more event fits in the window, recording it
// if so.
func (r *RateLimiter) Allow() bool {
	if r.maxPerHour <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Hour)
	kept := r.sent[:0]
	for _, t := range r.sent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.sent = kept

	if len(r.sent) >= r.maxPerHour {
		return false
	}
	r.sent = append(r.sent, now)
	return true
}

// Notifier forwards events to a sink, dropping confirmation alerts that
// exceed the hourly limit. Entry lifecycle events always pass through.
type Notifier struct {
	sink    Sink
	limiter *RateLimiter
}

// New creates a notifier. A nil sink silently drops everything.
func New(sink Sink, maxAlertsPerHour int) *Notifier {
	return &Notifier{sink: sink, limiter: NewRateLimiter(maxAlertsPerHour)}
}

func (n *Notifier) EntryCreated(entry models.Entry) {
	if n.sink != nil {
		n.sink.EntryCreated(entry)
	}
}

func (n *Notifier) EntryEnded(entry models.Entry) {
	if n.sink != nil {
		n.sink.EntryEnded(entry)
	}
}

func (n *Notifier) ConfirmationRequested(req models.ConfirmationRequest) {
	if n.sink == nil {
		return
	}
	if !n.limiter.Allow() {
		log.Debug().Str("request_id", req.RequestID).Msg("Confirmation alert suppressed by rate limit")
		return
	}
	n.sink.ConfirmationRequested(req)
}

// LogSink writes events to the log. It is the default sink for headless
// runs.
type LogSink struct{}

func (LogSink) EntryCreated(entry models.Entry) {
	log.Info().Int64("entry_id", entry.ID).Int("confidence", entry.Confidence).Msg("Entry started")
}

func (LogSink) EntryEnded(entry models.Entry) {
	evt := log.Info().Int64("entry_id", entry.ID)
	if entry.EndTime != nil {
		evt = evt.Dur("duration", entry.Duration(*entry.EndTime))
	}
	evt.Msg("Entry ended")
}

func (LogSink) ConfirmationRequested(req models.ConfirmationRequest) {
	log.Info().
		Str("request_id", req.RequestID).
		Int64("entry_id", req.EntryID).
		Int("confidence", req.Confidence).
		Msg("Confirmation requested")
}
