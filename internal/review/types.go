// Package review holds the analysis data model and assembles engine
// evaluations into per-game and per-user reports.
package review

// CandidateMove is one engine candidate for a position, in SAN, with its
// evaluation in pawns from the side to move's perspective.
type CandidateMove struct {
	Move string  `json:"move"`
	Eval float64 `json:"eval"`
}

// Evaluation is the engine's view of a single position. Immutable once
// produced. Candidates are ordered best to worst; the list is empty only
// for terminal positions (checkmate or stalemate).
type Evaluation struct {
	Score      float64         `json:"score"`
	Depth      int             `json:"depth"`
	Candidates []CandidateMove `json:"candidates"`
}

// Best returns the top candidate, or false for a terminal position.
func (e Evaluation) Best() (CandidateMove, bool) {
	if len(e.Candidates) == 0 {
		return CandidateMove{}, false
	}
	return e.Candidates[0], true
}

// Verdict is the qualitative grade of a played move against the engine's
// best candidate.
type Verdict string

const (
	VerdictBest       Verdict = "best"
	VerdictGood       Verdict = "good"
	VerdictInaccuracy Verdict = "inaccuracy"
	VerdictMistake    Verdict = "mistake"
	VerdictBlunder    Verdict = "blunder"
	// VerdictUnknown marks plies with no usable evaluation (malformed
	// position, or played move outside the candidate list).
	VerdictUnknown Verdict = "unknown"
)

// Thresholds are the score gaps (in pawns) separating verdict categories.
// The exact cutoffs are a policy choice, so they are configurable rather
// than hard-coded at use sites.
type Thresholds struct {
	Inaccuracy float64
	Mistake    float64
	Blunder    float64
}

// DefaultThresholds matches common annotation practice.
var DefaultThresholds = Thresholds{
	Inaccuracy: 0.5,
	Mistake:    1.0,
	Blunder:    2.0,
}

// MoveRecord is one ply of an analyzed game: the position before the move,
// the move played, and the engine's candidates for that position. The
// verdict is derivable from the other fields and stays off the wire.
type MoveRecord struct {
	FEN            string          `json:"fen"`
	MoveNumber     int             `json:"move_number"`
	PlayedMove     string          `json:"played_move"`
	PlayedMoveEval float64         `json:"played_move_eval"`
	BestMoves      []CandidateMove `json:"best_moves"`
	Verdict        Verdict         `json:"-"`
}

// GameReport is an analyzed game. Moves are in play order and are never
// reordered downstream.
type GameReport struct {
	GameID      string       `json:"game_id"`
	TimeControl string       `json:"time_control"`
	Moves       []MoveRecord `json:"moves"`
}

// AnalysisReport is the final per-user report. Immutable after completion.
// The username is carried for cache identity but is not part of the wire
// payload.
type AnalysisReport struct {
	Username     string       `json:"-"`
	Games        []GameReport `json:"games"`
	AnalysisTime float64      `json:"analysis_time"`
}

// Ply is one half-move of an upstream game: the position before the move
// and the move actually played.
type Ply struct {
	FEN        string
	MoveNumber int
	PlayedSAN  string
	PlayedUCI  string
}

// Game is one upstream game record with positions already extracted.
type Game struct {
	ID          string
	TimeControl string
	Plies       []Ply
}
