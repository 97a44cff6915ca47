// Package prompts loads the system prompt and injects runtime context.
//
// The system prompt is user-authored (a plain text file referenced from
// config.yaml); this package appends the date/time/timezone/language
// context block that the model needs for relative-time reasoning. The
// summarization prompt for the web_search tool is program logic and
// lives in internal/websearch.
package prompts

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// defaultPrompt is used when no prompt file is configured. It keeps the
// agent usable out of the box.
const defaultPrompt = `You are CAAL, a helpful voice assistant. Answer concisely and conversationally. Use the available tools when they help answer the question. Do not include URLs, markdown, or bullet points in responses.`

// contextTemplate is appended to the system prompt. Verbs: weekday+date,
// time, timezone display name, IANA zone, language.
const contextTemplate = `

Current date: %s
Current time: %s (%s, %s)
Respond in language: %s`

// Load reads the system prompt from path, or returns the built-in
// default when path is empty. A missing file is an error so that a
// misconfigured path does not silently fall back.
func Load(path string) (string, error) {
	if path == "" {
		return defaultPrompt, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return defaultPrompt, nil
	}
	return prompt, nil
}

// Render appends the date/time context block to a system prompt.
// timezoneID must be an IANA zone name; an unknown zone falls back to
// UTC rather than failing the turn.
func Render(prompt, timezoneID, timezoneDisplay, language string) string {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	return prompt + fmt.Sprintf(contextTemplate,
		now.Format("Monday, January 2, 2006"),
		now.Format("3:04 PM"),
		timezoneDisplay,
		timezoneID,
		language,
	)
}
