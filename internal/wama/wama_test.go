package wama

import (
	"math"
	"strings"
	"testing"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	return New(Config{}, nil)
}

func TestZeroMatchScoresExactlyZero(t *testing.T) {
	s := newScorer(t)

	// No criterion matches; the emphasis boost alone must not rescue it.
	inputs := []string{
		"zzz qqq xxx!",
		"ok",
		"",
	}
	for _, in := range inputs {
		decision, score := s.Score(in)
		if score != 0.0 {
			t.Errorf("Score(%q) = %v, want exactly 0.0", in, score)
		}
		if decision != LetFade {
			t.Errorf("Score(%q) decision = %v, want LetFade", in, decision)
		}
	}
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	s := newScorer(t)

	// Matches every high-weight criterion and stacks all three boosts.
	content := "Important! Remind me to keep learning: my goal is to practice the " +
		"setup command because I prefer 'hands-on' work over reading, however long it takes."
	if len(content) <= 100 {
		t.Fatal("test content must exceed the length-boost threshold")
	}

	decision, score := s.Score(content)
	if score < 0 || score > 1 {
		t.Errorf("score = %v, want within [0, 1]", score)
	}
	if decision != ImmediateCascade {
		t.Errorf("decision = %v, want ImmediateCascade", decision)
	}
}

func TestSingleStrongMatchNotDiluted(t *testing.T) {
	s := newScorer(t)

	// Matches only the reminder criterion (weight 0.95). Normalizing by
	// the matched count keeps the base at 0.95, not 0.95/8.
	_, score := s.Score("remind me")
	if score < 0.9 {
		t.Errorf("score = %v, want >= 0.9 for a single strong match", score)
	}
}

func TestBoostsApplyOnNonzeroBase(t *testing.T) {
	s := newScorer(t)

	_, plain := s.Score("studying go")
	_, boosted := s.Score("studying go for my exam")
	if boosted <= plain {
		t.Errorf("possessive boost missing: plain=%v boosted=%v", plain, boosted)
	}
}

func TestDecisionBands(t *testing.T) {
	// Pin scores precisely with a single criterion and no boosts.
	mk := func(weight float64) *Scorer {
		return New(Config{
			Criteria: []Criterion{{
				Name:   "always",
				Weight: weight,
				Match:  func(string) bool { return true },
			}},
			Thresholds: DefaultConfig().Thresholds,
		}, nil)
	}

	cases := []struct {
		weight float64
		want   Decision
	}{
		{0.95, ImmediateCascade},
		{0.9, ImmediateCascade},
		{0.89, PrioritySave},
		{0.7, PrioritySave},
		{0.69, BatchQueue},
		{0.5, BatchQueue},
		{0.49, Consider},
		{0.3, Consider},
		{0.29, LetFade},
	}
	for _, tc := range cases {
		decision, score := mk(tc.weight).Score("x")
		if decision != tc.want {
			t.Errorf("weight %v (score %v): decision = %v, want %v", tc.weight, score, decision, tc.want)
		}
	}
}

func TestNormalizationAveragesMatchedOnly(t *testing.T) {
	s := New(Config{
		Criteria: []Criterion{
			{Name: "a", Weight: 0.8, Match: func(t string) bool { return strings.Contains(t, "aaa") }},
			{Name: "b", Weight: 0.4, Match: func(t string) bool { return strings.Contains(t, "bbb") }},
			{Name: "never", Weight: 0.1, Match: func(string) bool { return false }},
		},
		Thresholds: DefaultConfig().Thresholds,
	}, nil)

	_, score := s.Score("aaa bbb")
	want := (0.8 + 0.4) / 2
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("score = %v, want %v (average of matched weights)", score, want)
	}
}

func TestDecisionString(t *testing.T) {
	cases := map[Decision]string{
		ImmediateCascade: "IMMEDIATE_CASCADE",
		PrioritySave:     "PRIORITY_SAVE",
		BatchQueue:       "BATCH_QUEUE",
		Consider:         "CONSIDER",
		LetFade:          "LET_FADE",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}
