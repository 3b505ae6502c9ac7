package aijudge

import (
	"fmt"
	"strings"

	"github.com/ktmr/autotrack/pkg/models"
)

// maxOCRExcerpt caps how much recognized screen text goes into a prompt.
const maxOCRExcerpt = 500

const changeSystemPrompt = `You judge whether a freelancer's work context meaningfully changed between two screen samples. Switching tabs within the same task is not a change; switching to a different project, client or activity is. Respond with only a JSON object: {"hasChange": boolean, "confidence": 0-100, "reasoning": "short explanation"}.`

const judgmentSystemPrompt = `You classify a freelancer's current screen activity against their known projects. Pick the best matching project, or null if none fit. Respond with only a JSON object: {"projectId": number or null, "confidence": 0-100, "reasoning": "short explanation", "isWork": boolean, "alternatives": [{"projectId": number, "score": 0-100}]}.`

func changeUserPrompt(previous, current models.ScreenSample) string {
	var b strings.Builder
	b.WriteString("Previous sample:\n")
	writeSample(&b, previous)
	b.WriteString("\nCurrent sample:\n")
	writeSample(&b, current)
	b.WriteString("\nDid the work context meaningfully change?")
	return b.String()
}

func judgmentUserPrompt(sample models.ScreenSample, projects []models.Project) string {
	var b strings.Builder
	b.WriteString("Known projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "- id=%d name=%q", p.ID, p.Name)
		if p.ClientName != "" {
			fmt.Fprintf(&b, " client=%q", p.ClientName)
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nCurrent screen:\n")
	writeSample(&b, sample)
	if sample.OCRText != "" {
		fmt.Fprintf(&b, "Visible text: %s\n", excerpt(sample.OCRText, maxOCRExcerpt))
	}
	b.WriteString("\nWhich project is this activity for?")
	return b.String()
}

func writeSample(b *strings.Builder, s models.ScreenSample) {
	fmt.Fprintf(b, "App: %s\nTitle: %s\n", s.AppName, s.WindowTitle)
	if s.URL != "" {
		fmt.Fprintf(b, "URL: %s\n", s.URL)
	}
}

// excerpt truncates to max runes, never mid-rune.
func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	count := 0
	for i := range text {
		if count == max {
			return text[:i]
		}
		count++
	}
	return text
}
