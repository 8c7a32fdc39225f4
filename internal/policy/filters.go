package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vasudvy/billfrog/internal/models"
)

// PII detection patterns. These are heuristics for flagging, not
// validators; a Luhn check or full E.164 parse is out of scope.
var piiPatterns = map[string]*regexp.Regexp{
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	"phone":       regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
}

func (e *Engine) evaluateContent(req Request, rules *models.ContentRules) filterResult {
	var result filterResult

	lowerPrompt := strings.ToLower(req.Prompt)
	for _, keyword := range rules.BlockedKeywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowerPrompt, strings.ToLower(keyword)) {
			result.flag("blocked_keyword", keyword)
			result.deny(fmt.Sprintf("prompt contains blocked keyword %q", keyword))
			break
		}
	}

	if promptLen := utf8.RuneCountInString(req.Prompt); rules.MaxPromptLength > 0 && promptLen > rules.MaxPromptLength {
		result.flag("prompt_too_long", promptLen)
		result.deny(fmt.Sprintf("prompt length %d exceeds limit %d", promptLen, rules.MaxPromptLength))
	}

	if rules.FlagPII || rules.BlockPII {
		var detected []string
		for kind, pattern := range piiPatterns {
			if pattern.MatchString(req.Prompt) {
				detected = append(detected, kind)
			}
		}
		if len(detected) > 0 {
			result.flag("pii_detected", detected)
			if rules.BlockPII {
				result.deny(fmt.Sprintf("prompt contains suspected PII: %s", strings.Join(detected, ", ")))
			}
		}
	}

	return result
}

func (e *Engine) evaluateCost(ctx context.Context, req Request, rules *models.CostRules) filterResult {
	var result filterResult

	if rules.MaxCostPerCall > 0 && req.ProjectedCost > rules.MaxCostPerCall {
		result.flag("cost_limit_exceeded", req.ProjectedCost)
		result.deny(fmt.Sprintf("projected cost %.6f exceeds per-call ceiling %.6f", req.ProjectedCost, rules.MaxCostPerCall))
	}

	if rules.MaxCostPerDay > 0 {
		spent, err := e.usage.CostSince(ctx, req.Identity, e.startOfDay())
		if err != nil {
			e.logger.Error("cost filter query failed", "identity", req.Identity.Key(), "error", err)
			result.flag("engine_error", err.Error())
			return result
		}
		if spent+req.ProjectedCost > rules.MaxCostPerDay {
			result.flag("daily_cost_limit_exceeded", spent+req.ProjectedCost)
			result.deny(fmt.Sprintf("daily cost %.6f plus projected %.6f exceeds ceiling %.6f", spent, req.ProjectedCost, rules.MaxCostPerDay))
		}
	}

	return result
}

func (e *Engine) evaluateRate(ctx context.Context, req Request, rules *models.RateRules) filterResult {
	var result filterResult

	windows := []struct {
		name  string
		limit int
		since time.Time
	}{
		{"minute", rules.MaxCallsPerMinute, e.now().Add(-time.Minute)},
		{"hour", rules.MaxCallsPerHour, e.now().Add(-time.Hour)},
		{"day", rules.MaxCallsPerDay, e.startOfDay()},
	}

	for _, window := range windows {
		if window.limit <= 0 {
			continue
		}
		count, err := e.usage.CountSince(ctx, req.Identity, window.since)
		if err != nil {
			e.logger.Error("rate filter query failed", "identity", req.Identity.Key(), "error", err)
			result.flag("engine_error", err.Error())
			return result
		}
		if count >= window.limit {
			result.flag("rate_limit_exceeded", window.name)
			result.deny(fmt.Sprintf("identity made %d calls in the last %s, limit is %d", count, window.name, window.limit))
		}
	}

	return result
}

func (e *Engine) evaluateModel(req Request, rules *models.ModelRules) filterResult {
	var result filterResult
	key := fmt.Sprintf("%s/%s", req.Provider, req.Model)

	for _, blocked := range rules.BlockedModels {
		if strings.EqualFold(blocked, key) {
			result.flag("model_blocked", key)
			result.deny(fmt.Sprintf("model %s is block-listed", key))
			return result
		}
	}

	if len(rules.AllowedModels) > 0 {
		for _, allowed := range rules.AllowedModels {
			if strings.EqualFold(allowed, key) {
				return result
			}
		}
		result.flag("model_not_allowed", key)
		result.deny(fmt.Sprintf("model %s is not on the allow-list", key))
	}

	return result
}
