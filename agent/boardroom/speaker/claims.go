package speaker

import (
	"regexp"
	"strings"
)

// ClaimDetector reports whether a message body contains a factual or
// quantitative claim worth fact-checking.
type ClaimDetector interface {
	HasClaim(content string) bool
}

// ClaimDetectorFunc adapts a plain function to ClaimDetector.
type ClaimDetectorFunc func(content string) bool

// HasClaim implements ClaimDetector.
func (f ClaimDetectorFunc) HasClaim(content string) bool {
	return f(content)
}

var (
	quantitativePattern = regexp.MustCompile(`\d+(\.\d+)?\s*%|[$€£¥]\s*\d|\b\d{2,}(,\d{3})*(\.\d+)?\b`)
	claimPhrases        = []string{
		"according to",
		"studies show",
		"study shows",
		"research shows",
		"data shows",
		"data suggests",
		"statistics",
		"survey",
		"percent",
		"million",
		"billion",
	}
)

// HeuristicClaimDetector flags numbers, percentages, currency amounts and
// citation phrases. It is best-effort and never parses meaning.
type HeuristicClaimDetector struct{}

// HasClaim implements ClaimDetector.
func (HeuristicClaimDetector) HasClaim(content string) bool {
	if content == "" {
		return false
	}
	if quantitativePattern.MatchString(content) {
		return true
	}
	lower := strings.ToLower(content)
	for _, phrase := range claimPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// NoClaims never reports a claim; useful to disable the moderator bias.
var NoClaims = ClaimDetectorFunc(func(string) bool { return false })
