package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ktmr/autotrack/pkg/models"
)

type recordingSink struct {
	created       int
	ended         int
	confirmations int
}

func (s *recordingSink) EntryCreated(models.Entry) { s.created++ }
func (s *recordingSink) EntryEnded(models.Entry)   { s.ended++ }
func (s *recordingSink) ConfirmationRequested(models.ConfirmationRequest) {
	s.confirmations++
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	r := NewRateLimiter(3)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	assert.True(t, r.Allow()) // 09:00
	now = now.Add(10 * time.Minute)
	assert.True(t, r.Allow()) // 09:10
	now = now.Add(10 * time.Minute)
	assert.True(t, r.Allow()) // 09:20
	assert.False(t, r.Allow())

	// 09:50: the window is still full
	now = now.Add(30 * time.Minute)
	assert.False(t, r.Allow())

	// 10:05: the 09:00 event has aged out, one slot frees up
	now = now.Add(15 * time.Minute)
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())
}

func TestRateLimiterUnlimited(t *testing.T) {
	r := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow())
	}
}

func TestNotifierLimitsConfirmationsOnly(t *testing.T) {
	sink := &recordingSink{}
	n := New(sink, 2)

	for i := 0; i < 5; i++ {
		n.EntryCreated(models.Entry{ID: int64(i)})
		n.EntryEnded(models.Entry{ID: int64(i)})
		n.ConfirmationRequested(models.ConfirmationRequest{EntryID: int64(i)})
	}

	assert.Equal(t, 5, sink.created)
	assert.Equal(t, 5, sink.ended)
	assert.Equal(t, 2, sink.confirmations)
}

func TestNotifierNilSink(t *testing.T) {
	n := New(nil, 3)
	n.EntryCreated(models.Entry{})
	n.EntryEnded(models.Entry{})
	n.ConfirmationRequested(models.ConfirmationRequest{})
}
