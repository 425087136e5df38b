package llm

import (
	"regexp"
	"strings"
)

// ThinkingExtractor is one heuristic for splitting a raw local-model reply
// into a reasoning segment and the user-facing text. Extractors run in
// priority order; the first match wins. New heuristics slot in here without
// touching dispatch.
type ThinkingExtractor interface {
	Extract(raw string) (thinking, text string, ok bool)
}

var (
	thinkTagPattern    = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
	thinkingTagPattern = regexp.MustCompile(`(?s)<thinking>(.*?)</thinking>`)
)

// reasoningOpeners are sentence starts that small local models use to narrate
// their reasoning before the answer when no explicit tags are emitted.
var reasoningOpeners = []string{
	"Okay, so",
	"Let me think",
	"Let's think",
	"First, I need to",
	"Hmm,",
}

var defaultExtractors = []ThinkingExtractor{
	tagExtractor{pattern: thinkTagPattern},
	tagExtractor{pattern: thinkingTagPattern},
	preambleExtractor{},
}

// ExtractThinking runs the heuristic pipeline over a raw reply. When nothing
// matches, Text is the raw input verbatim and Thinking is absent.
func ExtractThinking(raw string) Result {
	for _, extractor := range defaultExtractors {
		if thinking, text, ok := extractor.Extract(raw); ok {
			return Result{Text: text, Thinking: thinking}
		}
	}
	return Result{Text: raw}
}

// tagExtractor handles delimiter-tag reasoning blocks: the tag contents become
// Thinking and are stripped from the reply.
type tagExtractor struct {
	pattern *regexp.Regexp
}

func (e tagExtractor) Extract(raw string) (string, string, bool) {
	matches := e.pattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", "", false
	}

	segments := make([]string, 0, len(matches))
	for _, match := range matches {
		if segment := strings.TrimSpace(match[1]); segment != "" {
			segments = append(segments, segment)
		}
	}

	thinking := strings.Join(segments, "\n")
	text := strings.TrimSpace(e.pattern.ReplaceAllString(raw, ""))
	if thinking == "" {
		return "", "", false
	}
	return thinking, text, true
}

// preambleExtractor peels a reasoning-signaling first sentence off the front
// of the reply. It only fires when a known opener starts the text and a
// sentence boundary leaves something behind as the answer.
type preambleExtractor struct{}

func (preambleExtractor) Extract(raw string) (string, string, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, opener := range reasoningOpeners {
		if !strings.HasPrefix(trimmed, opener) {
			continue
		}

		boundary := strings.Index(trimmed, ". ")
		if boundary < 0 {
			boundary = strings.Index(trimmed, ".\n")
		}
		if boundary < 0 {
			return "", "", false
		}

		thinking := strings.TrimSpace(trimmed[:boundary+1])
		text := strings.TrimSpace(trimmed[boundary+1:])
		if text == "" {
			return "", "", false
		}
		return thinking, text, true
	}
	return "", "", false
}
