// Package escalation implements the pure decision function that decides
// whether an inbound message should escalate its conversation to staff, and
// at what priority (spec §4.2). There is no teacher equivalent to adapt —
// the teacher's turn routing is LLM-turn dispatch, not human escalation
// scoring — so this package follows only the general shape other usecase
// packages in this tree use (narrow inputs, no repository dependency).
package escalation

import (
	"strings"

	"github.com/arashkay/JackTheButler-sub003/internal/domain"
)

// Config holds the tunable thresholds spec §4.2 calls out by default value.
type Config struct {
	ConfidenceThreshold float64  // default 0.6
	SentimentThreshold  float64  // default -0.5
	RepetitionThreshold float64  // default 0.7
	HistoryWindow       int      // default 5
	ExplicitPatterns    []string // case-insensitive substrings
}

// DefaultConfig returns the spec's literal default thresholds and explicit
// human-request patterns.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		SentimentThreshold:  -0.5,
		RepetitionThreshold: 0.7,
		HistoryWindow:       5,
		ExplicitPatterns: []string{
			"talk to a person",
			"talk to a human",
			"speak with a human",
			"speak to a manager",
			"manager please",
			"real person",
			"human agent",
			"customer service representative",
		},
	}
}

// Input is everything the decision function needs, gathered by the caller
// (the pipeline) so this package stays a pure function of its arguments.
type Input struct {
	ConversationState domain.ConversationState
	RecentMessages    []domain.Message // oldest first, already capped to HistoryWindow+1
	InboundContent    string
	Confidence        float64
	Guest             *domain.Guest
	Reservation       *domain.Reservation
}

// Decision is the outcome of evaluating Input against Config.
type Decision struct {
	Escalate   bool
	Priority   domain.Priority
	Reasons    []string
	Confidence float64 // internal confidence of the decision itself
}

var negativePhrases = []string{
	"terrible", "awful", "horrible", "disgusting", "unacceptable", "furious",
	"angry", "worst", "never again", "ridiculous", "disappointed", "disappointing",
	"broken", "filthy", "rude", "scam", "refund", "complain", "complaint", "hate",
}

var positivePhrases = []string{
	"thank you", "thanks", "great", "wonderful", "amazing", "excellent",
	"perfect", "love", "appreciate", "fantastic", "awesome", "helpful",
}

// Decide evaluates every signal independently, then maps the reason count
// and guest/reservation flags onto spec's priority table.
func Decide(cfg Config, in Input) Decision {
	var reasons []string

	if in.Confidence < cfg.ConfidenceThreshold {
		reasons = append(reasons, "low_confidence")
	}
	if matchesExplicitRequest(in.InboundContent, cfg.ExplicitPatterns) {
		reasons = append(reasons, "explicit_request")
	}
	if sentimentScore(in.InboundContent) < cfg.SentimentThreshold {
		reasons = append(reasons, "negative_sentiment")
	}
	if hasRepetition(in.InboundContent, in.RecentMessages, cfg.RepetitionThreshold) {
		reasons = append(reasons, "repetition")
	}
	if in.Guest.IsVIP() {
		reasons = append(reasons, "vip")
	}
	if in.Reservation != nil && in.Reservation.Status == domain.ReservationInHouse {
		reasons = append(reasons, "in_house")
	}

	decision := Decision{
		Escalate: len(reasons) > 0,
		Reasons:  reasons,
		Priority: domain.PriorityStandard,
	}
	if !decision.Escalate {
		return decision
	}

	isVIP := contains(reasons, "vip")
	hasExplicitOrRepetition := contains(reasons, "explicit_request") || contains(reasons, "repetition")

	switch {
	case isVIP && len(reasons) >= 2:
		decision.Priority = domain.PriorityUrgent
	case isVIP:
		decision.Priority = domain.PriorityHigh
	case len(reasons) >= 3:
		decision.Priority = domain.PriorityUrgent
	case len(reasons) >= 2:
		decision.Priority = domain.PriorityHigh
	case hasExplicitOrRepetition:
		decision.Priority = domain.PriorityHigh
	default:
		decision.Priority = domain.PriorityStandard
	}

	decision.Confidence = minFloat(float64(len(reasons))*0.3, 0.95)
	return decision
}

func matchesExplicitRequest(content string, patterns []string) bool {
	lower := strings.ToLower(content)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// sentimentScore is a lexicon-based score in roughly [-1, 1]: the
// normalized difference between negative and positive phrase hits, with an
// all-caps "shouting" message treated as an extra negative hit.
func sentimentScore(content string) float64 {
	lower := strings.ToLower(content)
	var neg, pos int
	for _, p := range negativePhrases {
		if strings.Contains(lower, p) {
			neg++
		}
	}
	for _, p := range positivePhrases {
		if strings.Contains(lower, p) {
			pos++
		}
	}
	if isShouting(content) {
		neg++
	}
	total := neg + pos
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

// isShouting reports whether content is long enough to judge and is
// substantially all uppercase letters.
func isShouting(content string) bool {
	letters := 0
	upper := 0
	for _, r := range content {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	return letters >= 6 && upper == letters
}

// hasRepetition reports whether content's normalized word set has Jaccard
// similarity above threshold with any prior message, excluding the
// immediately previous one (spec's Open Question resolution).
func hasRepetition(content string, recent []domain.Message, threshold float64) bool {
	if len(recent) < 2 {
		return false
	}
	candidateWords := wordSet(content)
	if len(candidateWords) == 0 {
		return false
	}
	// recent is oldest-first; exclude the last element (the immediately
	// previous exchange) and compare against everything before it.
	for _, m := range recent[:len(recent)-1] {
		if jaccard(candidateWords, wordSet(m.Content)) > threshold {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()")] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
