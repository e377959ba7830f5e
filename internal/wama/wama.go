// Package wama implements the weighted autonomous memory algorithm:
// the admission filter that decides whether a piece of content is
// worth persisting to the semantic knowledge store.
//
// Scoring is a pure function of the content text. A fixed list of
// weighted criteria is matched against the lower-cased content; the
// matched weights are averaged over the MATCHED count, not the total
// count, so a single strong match is not diluted by unmatched weak
// criteria. Context boosts then apply additively, but only when at
// least one criterion matched — content matching nothing scores
// exactly zero and is never boosted into relevance.
package wama

import (
	"log/slog"
	"strings"
)

// Decision is the admission band for a scored piece of content.
// Bands are ordered: higher decisions admit with more urgency.
type Decision int

const (
	// LetFade rejects the content; no embedding or storage happens.
	LetFade Decision = iota
	// Consider is borderline: stored, but logged as a warning.
	Consider
	// BatchQueue admits the content at normal priority.
	BatchQueue
	// PrioritySave admits the content at elevated priority.
	PrioritySave
	// ImmediateCascade admits immediately with full priority.
	ImmediateCascade
)

func (d Decision) String() string {
	switch d {
	case ImmediateCascade:
		return "IMMEDIATE_CASCADE"
	case PrioritySave:
		return "PRIORITY_SAVE"
	case BatchQueue:
		return "BATCH_QUEUE"
	case Consider:
		return "CONSIDER"
	default:
		return "LET_FADE"
	}
}

// Criterion is one weighted predicate over lower-cased content.
type Criterion struct {
	Name   string
	Weight float64
	Match  func(lower string) bool
}

// Boost is an additive score modifier applied after normalization.
type Boost struct {
	Name  string
	Value float64
	Match func(content, lower string) bool
}

// Thresholds are the lower bounds of the four admitting bands.
// Anything below Consider is LetFade.
type Thresholds struct {
	ImmediateCascade float64
	PrioritySave     float64
	BatchQueue       float64
	Consider         float64
}

// Config holds the criteria, boosts, and band thresholds. The numeric
// choices are empirical, not derived; they are configuration, not
// invariants.
type Config struct {
	Criteria   []Criterion
	Boosts     []Boost
	Thresholds Thresholds
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DefaultConfig returns the stock criteria and thresholds.
func DefaultConfig() Config {
	return Config{
		Criteria: []Criterion{
			{
				Name:   "Learning & Growth",
				Weight: 0.95,
				Match: func(t string) bool {
					return containsAny(t, "learning", "studying", "practicing", "trying to")
				},
			},
			{
				Name:   "Reminders & Deadlines",
				Weight: 0.95,
				Match: func(t string) bool {
					return containsAny(t, "remind me", "don't forget", "remember to",
						"todo", "deadline", "by ", "before ", "need to")
				},
			},
			{
				Name:   "Personal Preference",
				Weight: 0.9,
				Match: func(t string) bool {
					return containsAny(t, "prefer", "like", "use ", "love")
				},
			},
			{
				Name:   "Goals & Objectives",
				Weight: 0.85,
				Match: func(t string) bool {
					return containsAny(t, "goal", "plan", "want to", "need to")
				},
			},
			{
				Name:   "Important Facts",
				Weight: 0.85,
				Match: func(t string) bool {
					return containsAny(t, "important", "key", "critical", "vital")
				},
			},
			{
				Name:   "Technical Details",
				Weight: 0.8,
				Match: func(t string) bool {
					return containsAny(t, "command", "code", "setup", "config", "install")
				},
			},
			{
				Name:   "Names & Specifics",
				Weight: 0.8,
				Match: func(t string) bool {
					return containsAny(t, "'", `"`)
				},
			},
			{
				Name:   "Context-Rich Content",
				Weight: 0.7,
				Match: func(t string) bool {
					return len(t) > 50 && containsAny(t, "because", "since", "however")
				},
			},
		},
		Boosts: []Boost{
			{
				Name:  "possessive language",
				Value: 0.1,
				Match: func(_, lower string) bool {
					return containsAny(lower, "user", "my")
				},
			},
			{
				Name:  "emphasis marker",
				Value: 0.15,
				Match: func(_, lower string) bool {
					return containsAny(lower, "!", "important")
				},
			},
			{
				Name:  "substantial length",
				Value: 0.1,
				Match: func(content, _ string) bool {
					return len(content) > 100
				},
			},
		},
		Thresholds: Thresholds{
			ImmediateCascade: 0.9,
			PrioritySave:     0.7,
			BatchQueue:       0.5,
			Consider:         0.3,
		},
	}
}

// Scorer evaluates content for memory admission.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a scorer. A zero-value Config falls back to DefaultConfig.
func New(cfg Config, logger *slog.Logger) *Scorer {
	if len(cfg.Criteria) == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score evaluates content and returns the admission decision with its
// score in [0, 1]. Deterministic and side-effect free apart from logging.
func (s *Scorer) Score(content string) (Decision, float64) {
	lower := strings.ToLower(content)

	var total float64
	var matched []string
	for _, c := range s.cfg.Criteria {
		if c.Match(lower) {
			total += c.Weight
			matched = append(matched, c.Name)
		}
	}

	if len(matched) == 0 {
		// No base signal: boosts never apply to a zero score.
		return LetFade, 0.0
	}

	// Average over matched criteria only.
	score := total / float64(len(matched))
	if score > 1.0 {
		score = 1.0
	}

	for _, b := range s.cfg.Boosts {
		if b.Match(content, lower) {
			score += b.Value
		}
	}
	if score > 1.0 {
		score = 1.0
	}

	decision := s.band(score)
	s.logger.Debug("wama scored content",
		"decision", decision.String(),
		"score", score,
		"matched", strings.Join(matched, ", "),
	)

	return decision, score
}

func (s *Scorer) band(score float64) Decision {
	t := s.cfg.Thresholds
	switch {
	case score >= t.ImmediateCascade:
		return ImmediateCascade
	case score >= t.PrioritySave:
		return PrioritySave
	case score >= t.BatchQueue:
		return BatchQueue
	case score >= t.Consider:
		return Consider
	default:
		return LetFade
	}
}
