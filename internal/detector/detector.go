// Package detector decides whether the user's work context changed
// between polling samples. Detection is a layered cascade ordered by
// cost: free string comparison first, then OCR and image fingerprints,
// then rules, and an external AI verdict only as the last resort.
package detector

import (
	"context"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ktmr/autotrack/pkg/models"
	"github.com/ktmr/autotrack/pkg/textsim"
)

const (
	// defaultOCRThreshold is the Jaccard similarity below which OCR
	// text counts as changed.
	defaultOCRThreshold = 0.8
	// defaultHashThreshold is the Hamming distance above which image
	// fingerprints count as changed.
	defaultHashThreshold = 5
)

// Recognizer extracts text from a screenshot. Implementations wrap an
// OCR engine; a nil Recognizer disables the OCR layer.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// RuleMatcher is the rule layer's view of the rule engine.
type RuleMatcher interface {
	Match(ctx context.Context, sample models.ScreenSample, extraKeywords []string) (*models.MatchedRule, error)
}

// ChangeJudge is the AI layer's view of the judgment service.
type ChangeJudge interface {
	DetectChange(ctx context.Context, current models.ScreenSample, previous *models.ScreenSample) (models.ChangeJudgment, error)
	HasCredential() bool
}

// Options toggles individual cascade layers. All toggles may be flipped
// at runtime.
type Options struct {
	EnableOCR          bool
	EnableImageHash    bool
	EnableRuleMatching bool
	EnableAIJudgment   bool
	OCRThreshold       float64
	HashThreshold      int
}

// DefaultOptions enables every layer with the stock thresholds.
func DefaultOptions() Options {
	return Options{
		EnableOCR:          true,
		EnableImageHash:    true,
		EnableRuleMatching: true,
		EnableAIJudgment:   true,
		OCRThreshold:       defaultOCRThreshold,
		HashThreshold:      defaultHashThreshold,
	}
}

// Detector runs the change-detection cascade. It remembers the previous
// sample, OCR text, and image fingerprint between invocations; both the
// capture loop and the metadata loop feed it, so state is mutex-guarded.
type Detector struct {
	ocr   Recognizer
	rules RuleMatcher
	judge ChangeJudge

	mu         sync.Mutex
	opts       Options
	prevSample *models.ScreenSample
	prevOCR    string
	prevHash   *uint64
}

// New creates a detector. Any collaborator may be nil, which disables
// the corresponding layer regardless of Options.
func New(ocr Recognizer, rules RuleMatcher, judge ChangeJudge, opts Options) *Detector {
	if opts.OCRThreshold <= 0 {
		opts.OCRThreshold = defaultOCRThreshold
	}
	if opts.HashThreshold <= 0 {
		opts.HashThreshold = defaultHashThreshold
	}
	return &Detector{ocr: ocr, rules: rules, judge: judge, opts: opts}
}

// SetOptions replaces the layer toggles without resetting remembered
// state.
func (d *Detector) SetOptions(opts Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if opts.OCRThreshold <= 0 {
		opts.OCRThreshold = d.opts.OCRThreshold
	}
	if opts.HashThreshold <= 0 {
		opts.HashThreshold = d.opts.HashThreshold
	}
	d.opts = opts
}

// Options returns the current layer toggles.
func (d *Detector) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// Reset clears all remembered state. Called when tracking stops.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevSample = nil
	d.prevOCR = ""
	d.prevHash = nil
}

// Detect runs the cascade against the sample. The first layer with a
// decisive verdict wins; remembered state is updated on every call.
// Layer failures are logged and treated as "no signal", never returned.
func (d *Detector) Detect(ctx context.Context, sample models.ScreenSample, imageData []byte) models.ChangeDetectionResult {
	start := time.Now()

	d.mu.Lock()
	opts := d.opts
	prev := d.prevSample
	prevOCR := d.prevOCR
	prevHash := d.prevHash
	d.mu.Unlock()

	result := d.detect(ctx, sample, imageData, opts, prev, prevOCR, prevHash)
	result.ProcessingTime = time.Since(start)
	return result
}

func (d *Detector) detect(ctx context.Context, sample models.ScreenSample, imageData []byte, opts Options, prev *models.ScreenSample, prevOCR string, prevHash *uint64) models.ChangeDetectionResult {
	// layer 1: structural diff
	if prev == nil {
		d.remember(sample, nil, nil)
		return models.ChangeDetectionResult{
			HasChange:  true,
			ChangeType: models.ChangeTitle,
			Layer:      1,
			Confidence: 100,
			Reasoning:  "first observation",
		}
	}
	if changeType := structuralChange(*prev, sample); changeType != models.ChangeNone {
		d.remember(sample, nil, nil)
		return models.ChangeDetectionResult{
			HasChange:  true,
			ChangeType: changeType,
			Layer:      1,
			Confidence: 100,
		}
	}

	// layer 2: OCR text diff
	var newOCR *string
	if opts.EnableOCR && d.ocr != nil && imageData != nil {
		text, err := d.ocr.Recognize(ctx, imageData)
		if err != nil {
			log.Warn().Err(err).Msg("OCR failed, skipping text layer")
		} else {
			newOCR = &text
			if prevOCR != "" {
				similarity := textsim.Similarity(prevOCR, text)
				if similarity < opts.OCRThreshold {
					d.remember(sample, newOCR, nil)
					return models.ChangeDetectionResult{
						HasChange:  true,
						ChangeType: models.ChangeOCR,
						Layer:      2,
						Confidence: int(math.Round((1 - similarity) * 100)),
						OCRText:    text,
					}
				}
			}
		}
	}

	// layer 3: perceptual image hash
	var newHash *uint64
	if opts.EnableImageHash && imageData != nil {
		hash, err := computeHash(imageData)
		if err != nil {
			log.Warn().Err(err).Msg("Image hashing failed, skipping fingerprint layer")
		} else {
			newHash = &hash
			if prevHash != nil {
				distance := hammingDistance(*prevHash, hash)
				if distance > opts.HashThreshold {
					d.remember(sample, newOCR, newHash)
					return models.ChangeDetectionResult{
						HasChange:  true,
						ChangeType: models.ChangeImage,
						Layer:      3,
						Confidence: int(math.Round(float64(distance) / maxHashDistance * 100)),
						ImageHash:  formatHash(hash),
					}
				}
			}
		}
	}

	// layer 4: rule match
	if opts.EnableRuleMatching && d.rules != nil {
		matched, err := d.rules.Match(ctx, sample, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Rule matching failed, skipping rule layer")
		} else if matched != nil {
			d.remember(sample, newOCR, newHash)
			return models.ChangeDetectionResult{
				HasChange:   true,
				ChangeType:  models.ChangeRule,
				Layer:       4,
				Confidence:  100,
				MatchedRule: matched,
			}
		}
	}

	// layer 5: AI judgment
	if opts.EnableAIJudgment && d.judge != nil && d.judge.HasCredential() {
		judgment, err := d.judge.DetectChange(ctx, sample, prev)
		if err != nil {
			log.Warn().Err(err).Msg("AI change detection failed, skipping AI layer")
		} else if judgment.HasChange {
			d.remember(sample, newOCR, newHash)
			return models.ChangeDetectionResult{
				HasChange:  true,
				ChangeType: models.ChangeAI,
				Layer:      5,
				Confidence: judgment.Confidence,
				Reasoning:  judgment.Reasoning,
			}
		}
	}

	d.remember(sample, newOCR, newHash)
	return models.ChangeDetectionResult{ChangeType: models.ChangeNone, Confidence: 100}
}

// remember updates the previous state. OCR text and fingerprint are
// only replaced when their layers actually produced a value this pass.
func (d *Detector) remember(sample models.ScreenSample, ocrText *string, hash *uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := sample
	d.prevSample = &s
	if ocrText != nil {
		d.prevOCR = *ocrText
	}
	if hash != nil {
		d.prevHash = hash
	}
}

var (
	digitRuns    = regexp.MustCompile(`\d+`)
	trailingPage = regexp.MustCompile(`/\d+$`)
)

// structuralChange compares the free metadata of two samples. Title
// changes that only differ in digit runs (timestamps, counters) and URL
// paths that only differ in a trailing numeric segment (pagination) do
// not count.
func structuralChange(prev, cur models.ScreenSample) models.ChangeType {
	if prev.AppName != cur.AppName {
		return models.ChangeTitle
	}
	if prev.WindowTitle != cur.WindowTitle && !minorTitleChange(prev.WindowTitle, cur.WindowTitle) {
		return models.ChangeTitle
	}
	if prev.URL != "" && cur.URL != "" {
		if prev.Hostname() != cur.Hostname() {
			return models.ChangeURL
		}
		prevPath, curPath := prev.Path(), cur.Path()
		if prevPath != curPath && !minorPathChange(prevPath, curPath) {
			return models.ChangeURL
		}
	} else if prev.URL != cur.URL {
		return models.ChangeURL
	}
	return models.ChangeNone
}

// QuickChange is the metadata loop's reduced check: app name or URL
// hostname changes only, never titles or paths.
func QuickChange(prev *models.ScreenSample, cur models.ScreenSample) bool {
	if prev == nil {
		return true
	}
	if prev.AppName != cur.AppName {
		return true
	}
	if prev.URL != "" && cur.URL != "" && prev.Hostname() != cur.Hostname() {
		return true
	}
	return false
}

func minorTitleChange(prev, cur string) bool {
	if prev == "" || cur == "" {
		return false
	}
	return digitRuns.ReplaceAllString(prev, "#") == digitRuns.ReplaceAllString(cur, "#")
}

func minorPathChange(prev, cur string) bool {
	return trailingPage.ReplaceAllString(prev, "/#") == trailingPage.ReplaceAllString(cur, "/#")
}
