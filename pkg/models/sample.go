// Package models contains domain models for autotrack.
package models

import (
	"net/url"
	"time"
)

// ScreenSample is an immutable snapshot of the foreground desktop context
// taken on one polling tick. Empty strings mean the field was unavailable.
type ScreenSample struct {
	WindowTitle string    `json:"window_title,omitempty"`
	AppName     string    `json:"app_name,omitempty"`
	URL         string    `json:"url,omitempty"`
	OCRText     string    `json:"ocr_text,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hostname returns the hostname of the sample URL, or "" if the URL is
// absent or unparseable.
func (s ScreenSample) Hostname() string {
	if s.URL == "" {
		return ""
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Path returns the path of the sample URL, or "" if the URL is absent or
// unparseable.
func (s ScreenSample) Path() string {
	if s.URL == "" {
		return ""
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// Identical reports whether title, app, and URL are byte-identical between
// the two samples. OCR text and timestamps are not compared.
func (s ScreenSample) Identical(other ScreenSample) bool {
	return s.WindowTitle == other.WindowTitle &&
		s.AppName == other.AppName &&
		s.URL == other.URL
}

// WindowInfo is the raw result of an active-window query, before it is
// folded into a ScreenSample. URL is populated only for recognized browser
// processes.
type WindowInfo struct {
	WindowTitle string
	AppName     string
	URL         string
	ProcessID   int
	Timestamp   time.Time
}

// Sample converts the window info into a ScreenSample.
func (w WindowInfo) Sample() ScreenSample {
	ts := w.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ScreenSample{
		WindowTitle: w.WindowTitle,
		AppName:     w.AppName,
		URL:         w.URL,
		Timestamp:   ts,
	}
}
