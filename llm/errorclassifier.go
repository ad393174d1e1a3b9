package llm

import "strings"

// ErrorClass is the outcome of classify(): one of the four buckets §4.1
// defines. Unmatched errors default to nonRetryable.
type ErrorClass int

const (
	ClassNonRetryable ErrorClass = iota
	ClassRetryable
	ClassExcluded
	ClassCritical
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassExcluded:
		return "excluded"
	case ClassCritical:
		return "critical"
	default:
		return "non-retryable"
	}
}

// Classification is classify(err)'s result: the bucket plus, when matched,
// which pattern triggered it (useful for logging/debugging a misclassification).
type Classification struct {
	Class          ErrorClass
	MatchedPattern string
}

// ShouldRecordFailure reports whether this classification should count
// against the sub-provider's health/consecutive-error counters.
// excluded-classified failures never count (§4.1, §3 invariant).
func (c Classification) ShouldRecordFailure() bool {
	return c.Class != ClassExcluded
}

// IsRetryable reports whether the RetryDispatcher should attempt another
// provider. Only retryable (and, per §4.7's pseudocode, nothing else)
// triggers a fresh attempt.
func (c Classification) IsRetryable() bool {
	return c.Class == ClassRetryable
}

// criticalPatterns, excludedPatterns, nonRetryablePatterns, and
// retryablePatterns are the four ordered lists §4.1 scans in order —
// first match wins. All matching is substring, on the lowercased message.
var (
	criticalPatterns = []string{
		"401", "402", "invalid api key", "invalid_api_key",
		"authentication failed", "balance is too low", "insufficient balance",
		"billing", "account suspended", "account disabled",
	}

	excludedPatterns = []string{
		"unsupported_country", "unsupported country", "content policy",
		"content_policy", "region_not_supported", "country, region",
	}

	nonRetryablePatterns = []string{
		"400", "404", "422", "quota exceeded", "quota_exceeded",
		"invalid request", "invalid_request", "model not found",
		"model_not_found", "context_length_exceeded", "context too long",
	}

	retryablePatterns = []string{
		"timeout", "timed out", "500", "502", "503", "504",
		"429", "rate limit", "rate_limit", "too many requests",
		"connection reset", "connection refused", "eof",
		"temporarily unavailable", "overloaded", "network",
	}
)

// ErrorClassifierConfig carries the two tunables §4.1 names. The circuit
// breaker does not read it: circuitbreaker.DefaultConfig sets its own
// Threshold of 10 and applies no error window.
type ErrorClassifierConfig struct {
	MaxConsecutiveErrors int
	ErrorWindowSeconds   int
}

// DefaultErrorClassifierConfig returns §4.1's defaults (10 errors / 300s).
func DefaultErrorClassifierConfig() ErrorClassifierConfig {
	return ErrorClassifierConfig{MaxConsecutiveErrors: 10, ErrorWindowSeconds: 300}
}

// Classify implements §4.1's classify(err): scans the lowercased message
// against critical, excluded, non-retryable, then retryable pattern lists
// in that fixed order; the first match wins. An unmatched error defaults
// to non-retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassNonRetryable}
	}
	msg := strings.ToLower(err.Error())

	if p, ok := firstMatch(msg, criticalPatterns); ok {
		return Classification{Class: ClassCritical, MatchedPattern: p}
	}
	if p, ok := firstMatch(msg, excludedPatterns); ok {
		return Classification{Class: ClassExcluded, MatchedPattern: p}
	}
	if p, ok := firstMatch(msg, nonRetryablePatterns); ok {
		return Classification{Class: ClassNonRetryable, MatchedPattern: p}
	}
	if p, ok := firstMatch(msg, retryablePatterns); ok {
		return Classification{Class: ClassRetryable, MatchedPattern: p}
	}
	return Classification{Class: ClassNonRetryable}
}

func firstMatch(msg string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return p, true
		}
	}
	return "", false
}
