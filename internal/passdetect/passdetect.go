// Package passdetect flags screens that likely show a credential prompt,
// so the engine can suppress screenshots of them. Detection is weighted
// pattern matching over the window title, URL, and recognized text; no
// screen content leaves the machine.
package passdetect

import (
	"regexp"
	"strings"
	"sync"

	"github.com/ktmr/autotrack/pkg/models"
)

// MatchType names which signal flagged the screen.
type MatchType string

const (
	MatchTitle   MatchType = "title"
	MatchURL     MatchType = "url"
	MatchKeyword MatchType = "keyword"
	MatchOCR     MatchType = "ocr"
)

// Result is the detection verdict. Confidence is 0..1.
type Result struct {
	IsPasswordScreen bool
	MatchedPattern   string
	MatchType        MatchType
	Confidence       float64
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

var titlePatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)\bpassword\b`), 0.9},
	{regexp.MustCompile(`(?i)\blogin\b`), 0.8},
	{regexp.MustCompile(`(?i)\bsign\s*in\b`), 0.8},
	{regexp.MustCompile(`(?i)\bsign\s*up\b`), 0.7},
	{regexp.MustCompile(`(?i)\bauthenticat(e|ion)\b`), 0.9},
	{regexp.MustCompile(`(?i)\b2fa\b`), 0.9},
	{regexp.MustCompile(`(?i)\btwo.?factor\b`), 0.9},
	{regexp.MustCompile(`(?i)\bverification\s*code\b`), 0.85},
	{regexp.MustCompile(`(?i)\bverify\s*(your\s*)?(identity|account)\b`), 0.85},
	{regexp.MustCompile(`(?i)\bsecurity\s*question\b`), 0.9},
	{regexp.MustCompile(`(?i)\benter\s*(your\s*)?pin\b`), 0.9},
	{regexp.MustCompile(`(?i)\bunlock\b`), 0.6},
	{regexp.MustCompile(`(?i)\bcredentials\b`), 0.85},
}

var urlPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)/login\b`), 0.85},
	{regexp.MustCompile(`(?i)/sign-?in\b`), 0.85},
	{regexp.MustCompile(`(?i)/auth\b`), 0.8},
	{regexp.MustCompile(`(?i)/authenticate\b`), 0.85},
	{regexp.MustCompile(`(?i)/password\b`), 0.9},
	{regexp.MustCompile(`(?i)/2fa\b`), 0.95},
	{regexp.MustCompile(`(?i)/mfa\b`), 0.95},
	{regexp.MustCompile(`(?i)/verify\b`), 0.7},
	{regexp.MustCompile(`(?i)/security\b`), 0.6},
	{regexp.MustCompile(`(?i)/oauth\b`), 0.75},
	{regexp.MustCompile(`(?i)/sso\b`), 0.8},
	{regexp.MustCompile(`(?i)accounts\.google\.com`), 0.85},
	{regexp.MustCompile(`(?i)login\.microsoft(online)?\.com`), 0.85},
	{regexp.MustCompile(`(?i)appleid\.apple\.com`), 0.85},
	{regexp.MustCompile(`(?i)signin\.aws\.amazon\.com`), 0.9},
	{regexp.MustCompile(`(?i)github\.com/login`), 0.85},
	{regexp.MustCompile(`(?i)gitlab\.com/users/sign_in`), 0.85},
}

// ocrPatterns catch credential prompts visible in screen text, including
// runs of mask characters.
var ocrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)type\s*=\s*["']password["']`),
	regexp.MustCompile(`[●•]{4,}`),
	regexp.MustCompile(`\*{4,}`),
	regexp.MustCompile(`(?i)enter\s*(your\s*)?password`),
	regexp.MustCompile(`(?i)forgot\s*(your\s*)?password`),
	regexp.MustCompile(`(?i)remember\s*me`),
	regexp.MustCompile(`(?i)stay\s*signed\s*in`),
}

const ocrConfidence = 0.85

// Detector flags credential screens. User-supplied exclude keywords are
// treated as certain matches.
type Detector struct {
	mu       sync.RWMutex
	enabled  bool
	keywords []string
}

// New creates a detector with the given user exclude keywords.
func New(enabled bool, keywords []string) *Detector {
	return &Detector{enabled: enabled, keywords: keywords}
}

// SetEnabled toggles detection at runtime.
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// SetKeywords replaces the user exclude keywords.
func (d *Detector) SetKeywords(keywords []string) {
	d.mu.Lock()
	d.keywords = keywords
	d.mu.Unlock()
}

// Detect inspects the sample and optional OCR text. When several signals
// fire, the strongest wins and agreement raises its confidence.
func (d *Detector) Detect(sample models.ScreenSample, ocrText string) Result {
	d.mu.RLock()
	enabled := d.enabled
	keywords := d.keywords
	d.mu.RUnlock()

	if !enabled {
		return Result{}
	}

	var hits []Result

	if r, ok := matchKeywords(keywords, sample, ocrText); ok {
		hits = append(hits, r)
	}
	if sample.WindowTitle != "" {
		if r, ok := matchWeighted(titlePatterns, sample.WindowTitle, MatchTitle); ok {
			hits = append(hits, r)
		}
	}
	if sample.URL != "" {
		if r, ok := matchWeighted(urlPatterns, sample.URL, MatchURL); ok {
			hits = append(hits, r)
		}
	}
	if ocrText != "" {
		for _, re := range ocrPatterns {
			if re.MatchString(ocrText) {
				hits = append(hits, Result{
					IsPasswordScreen: true,
					MatchedPattern:   re.String(),
					MatchType:        MatchOCR,
					Confidence:       ocrConfidence,
				})
				break
			}
		}
	}

	if len(hits) == 0 {
		return Result{}
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h.Confidence > best.Confidence {
			best = h
		}
	}
	if len(hits) > 1 {
		best.Confidence += 0.1 * float64(len(hits)-1)
		if best.Confidence > 1 {
			best.Confidence = 1
		}
	}
	return best
}

// QuickCheck is Detect without OCR text, for ticks where no screenshot
// was taken yet.
func (d *Detector) QuickCheck(sample models.ScreenSample) bool {
	return d.Detect(sample, "").IsPasswordScreen
}

func matchKeywords(keywords []string, sample models.ScreenSample, ocrText string) (Result, bool) {
	title := strings.ToLower(sample.WindowTitle)
	url := strings.ToLower(sample.URL)
	ocr := strings.ToLower(ocrText)

	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(title, k) || strings.Contains(url, k) || strings.Contains(ocr, k) {
			return Result{
				IsPasswordScreen: true,
				MatchedPattern:   kw,
				MatchType:        MatchKeyword,
				Confidence:       1.0,
			}, true
		}
	}
	return Result{}, false
}

// matchWeighted returns the highest-weight matching pattern; a generic
// pattern must not shadow a more specific one that also matches.
func matchWeighted(patterns []weightedPattern, text string, matchType MatchType) (Result, bool) {
	var best Result
	for _, p := range patterns {
		if p.re.MatchString(text) && p.weight > best.Confidence {
			best = Result{
				IsPasswordScreen: true,
				MatchedPattern:   p.re.String(),
				MatchType:        matchType,
				Confidence:       p.weight,
			}
		}
	}
	return best, best.IsPasswordScreen
}
