package review

import "testing"

func TestClassify(t *testing.T) {
	th := DefaultThresholds

	tests := []struct {
		name         string
		playedEval   float64
		bestEval     float64
		playedIsBest bool
		want         Verdict
	}{
		{"engine top choice", 0.3, 0.3, true, VerdictBest},
		{"nearly best", 0.2, 0.3, false, VerdictGood},
		{"half pawn behind", -0.2, 0.3, false, VerdictInaccuracy},
		{"full pawn behind", -0.7, 0.3, false, VerdictMistake},
		{"two pawns behind", -1.7, 0.3, false, VerdictBlunder},
		{"hung the game", -99.7, 0.3, false, VerdictBlunder},
		{"exact inaccuracy boundary", -0.2, 0.3, false, VerdictInaccuracy},
		{"negative best still graded", -1.0, -0.4, false, VerdictInaccuracy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := th.Classify(tt.playedEval, tt.bestEval, tt.playedIsBest)
			if got != tt.want {
				t.Errorf("Classify(%v, %v, %v) = %q, want %q",
					tt.playedEval, tt.bestEval, tt.playedIsBest, got, tt.want)
			}
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	strict := Thresholds{Inaccuracy: 0.1, Mistake: 0.3, Blunder: 0.6}

	if got := strict.Classify(0.1, 0.3, false); got != VerdictInaccuracy {
		t.Errorf("got %q, want inaccuracy under strict thresholds", got)
	}
	if got := strict.Classify(-0.4, 0.3, false); got != VerdictBlunder {
		t.Errorf("got %q, want blunder under strict thresholds", got)
	}
}
