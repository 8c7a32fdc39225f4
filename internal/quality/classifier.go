// Package quality inspects successful completions for signals that the
// response is unreliable. The checks are heuristics that raise flags, not
// ground truth; a flag escalates the record's status after the fact but
// never blocks or undoes the call.
package quality

import (
	"fmt"
	"regexp"
	"strings"
)

// Config tunes the classification heuristics.
type Config struct {
	// LengthRatio flags responses more than this many times longer than
	// the prompt, measured in words.
	LengthRatio float64

	// FabricatedSpecifics is the count of suspiciously specific facts
	// (dates, prices, phone-like numbers) above which a response is
	// flagged.
	FabricatedSpecifics int

	// RepetitionCount flags a response when any normalized sentence
	// repeats at least this many times.
	RepetitionCount int

	// DisallowedPatterns are operator-supplied regular expressions
	// matched against the response.
	DisallowedPatterns []string
}

// DefaultConfig returns the default heuristic thresholds
func DefaultConfig() Config {
	return Config{
		LengthRatio:         5,
		FabricatedSpecifics: 3,
		RepetitionCount:     3,
	}
}

// Report carries the raised flags. An empty report means the response
// passed every check.
type Report struct {
	Flags map[string]any
}

// Escalates reports whether any flag was raised
func (r Report) Escalates() bool {
	return len(r.Flags) > 0
}

// Classifier runs the quality heuristics.
type Classifier struct {
	cfg        Config
	disallowed []*regexp.Regexp
}

// NewClassifier compiles the configured patterns. Invalid patterns are
// rejected here so a bad rule cannot break classification at request time.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.LengthRatio <= 0 {
		cfg.LengthRatio = DefaultConfig().LengthRatio
	}
	if cfg.FabricatedSpecifics <= 0 {
		cfg.FabricatedSpecifics = DefaultConfig().FabricatedSpecifics
	}
	if cfg.RepetitionCount <= 0 {
		cfg.RepetitionCount = DefaultConfig().RepetitionCount
	}

	c := &Classifier{cfg: cfg}
	for _, pattern := range cfg.DisallowedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid disallowed pattern %q: %w", pattern, err)
		}
		c.disallowed = append(c.disallowed, re)
	}
	return c, nil
}

// Fact-shaped patterns a fabricating model tends to produce.
var (
	datePattern  = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)
	pricePattern = regexp.MustCompile(`[$€£]\s?\d+(?:[.,]\d+)?`)
	phonePattern = regexp.MustCompile(`\b(?:\+?\d{1,3}[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)
)

// Honest-disclaimer phrases. A long response that hedges is not treated
// as a hallucination signal.
var disclaimerPhrases = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"i do not know",
	"i cannot",
	"i can't",
	"as an ai",
	"may not be accurate",
	"might not be accurate",
	"i do not have access",
	"i don't have access",
}

// Classify inspects a prompt/response pair and returns the raised flags.
// finishReason is the provider's termination signal for the completion.
func (c *Classifier) Classify(prompt, response, finishReason string) Report {
	report := Report{}
	raise := func(key string, value any) {
		if report.Flags == nil {
			report.Flags = make(map[string]any)
		}
		report.Flags[key] = value
	}

	hedged := containsDisclaimer(response)

	promptWords := countWords(prompt)
	responseWords := countWords(response)
	if promptWords > 0 && responseWords > 0 {
		ratio := float64(responseWords) / float64(promptWords)
		if ratio > c.cfg.LengthRatio && !hedged {
			raise("length_ratio", ratio)
		}
	}

	specifics := len(datePattern.FindAllString(response, -1)) +
		len(pricePattern.FindAllString(response, -1)) +
		len(phonePattern.FindAllString(response, -1))
	if specifics >= c.cfg.FabricatedSpecifics && !hedged {
		raise("fabricated_specifics", specifics)
	}

	if count := maxSentenceRepetition(response); count >= c.cfg.RepetitionCount {
		raise("repetition", count)
	}

	if truncated(response, finishReason) {
		raise("truncated", true)
	}

	for _, re := range c.disallowed {
		if re.MatchString(response) {
			raise("disallowed_pattern", re.String())
			break
		}
	}

	return report
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func containsDisclaimer(response string) bool {
	lower := strings.ToLower(response)
	for _, phrase := range disclaimerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)

// maxSentenceRepetition returns the highest occurrence count among
// normalized sentences. Short fragments are ignored so list markers and
// interjections do not trip the check.
func maxSentenceRepetition(response string) int {
	sentences := sentenceSplit.Split(response, -1)
	counts := make(map[string]int)
	max := 0
	for _, sentence := range sentences {
		normalized := strings.ToLower(strings.TrimSpace(sentence))
		if len(normalized) < 20 {
			continue
		}
		counts[normalized]++
		if counts[normalized] > max {
			max = counts[normalized]
		}
	}
	return max
}

// truncated reports whether the response looks cut off: the provider hit
// its token ceiling, or the text stops without terminal punctuation.
func truncated(response, finishReason string) bool {
	if finishReason == "length" {
		return true
	}
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return false
	}
	// Short replies routinely omit punctuation; only flag substantial
	// text that just stops.
	if countWords(trimmed) < 20 {
		return false
	}
	return !strings.ContainsAny(trimmed[len(trimmed)-1:], `.!?"')]`+"`")
}
