package review

// Classify grades a played move against the best candidate. Both scores are
// in pawns from the side to move's perspective; gap is how much worse the
// played move is than the best move.
func (t Thresholds) Classify(playedEval, bestEval float64, playedIsBest bool) Verdict {
	if playedIsBest {
		return VerdictBest
	}
	gap := bestEval - playedEval
	switch {
	case gap >= t.Blunder:
		return VerdictBlunder
	case gap >= t.Mistake:
		return VerdictMistake
	case gap >= t.Inaccuracy:
		return VerdictInaccuracy
	default:
		return VerdictGood
	}
}
