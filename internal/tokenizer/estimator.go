// Package tokenizer estimates token counts for billing and policy
// decisions. True provider tokenizers need the provider's vocabulary, so
// the estimates here are a deterministic, monotonic-in-length heuristic:
// stable enough for cost projection, never exact.
package tokenizer

import (
	"math"
	"regexp"
	"strings"

	"github.com/vasudvy/billfrog/internal/models"
)

// Per-word scaling factors observed per provider family.
const (
	factorOpenAI    = 1.3
	factorAnthropic = 1.2
	factorGoogle    = 1.1
	factorDefault   = 1.25
)

var (
	urlPattern     = regexp.MustCompile(`^https?://\S+$`)
	emailPattern   = regexp.MustCompile(`^[\w.+-]+@[\w-]+\.[\w.]+$`)
	decimalPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
	punctRunWithin = regexp.MustCompile(`[[:punct:]]{2,}`)
	contraction    = regexp.MustCompile(`\w'\w`)
)

// Estimate returns the estimated token count of text for the given
// provider. Empty text is zero tokens. The result is non-negative, pure,
// and deterministic.
func Estimate(text string, provider models.Provider) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len(words)) * providerFactor(provider)))
}

// EstimateDetailed refines Estimate by weighting token classes that
// real tokenizers split aggressively: URLs, email addresses, decimal
// numbers, punctuation runs, contractions, and long words. It shares
// Estimate's contract (pure, deterministic, >= 0, empty -> 0).
func EstimateDetailed(text string, provider models.Provider) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}

	var weight float64
	for _, w := range words {
		weight += wordWeight(w)
	}
	return int(math.Ceil(weight * providerFactor(provider)))
}

func providerFactor(provider models.Provider) float64 {
	switch provider {
	case models.ProviderOpenAI:
		return factorOpenAI
	case models.ProviderAnthropic:
		return factorAnthropic
	case models.ProviderGoogle:
		return factorGoogle
	}
	return factorDefault
}

func wordWeight(w string) float64 {
	switch {
	case urlPattern.MatchString(w):
		// URLs tokenize roughly per path segment.
		return math.Max(2, float64(strings.Count(w, "/")+strings.Count(w, ".")))
	case emailPattern.MatchString(w):
		return 3
	case decimalPattern.MatchString(w):
		return 2
	}

	weight := 1.0
	if contraction.MatchString(w) {
		weight++
	}
	if punctRunWithin.MatchString(w) {
		weight++
	}
	// Long words are split into multiple subword tokens.
	if n := len([]rune(w)); n > 8 {
		weight += float64(n-8) / 4.0
	}
	return weight
}
