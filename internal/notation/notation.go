// Package notation converts between the move representations the service
// touches: pgn.Mv from game replay, UCI strings from the engine, and SAN
// strings in reports.
package notation

import (
	"errors"
	"fmt"

	"github.com/freeeve/pgn/v3"
)

// ErrMalformed marks position strings that cannot be parsed.
var ErrMalformed = errors.New("malformed position")

// ParseFEN parses a FEN string into a replayable game state plus the packed
// normalized key used for cache identity. Two FENs describing the same
// position yield the same key.
func ParseFEN(fen string) (*pgn.GameState, string, error) {
	keyStr, err := pgn.PackedPositionFromFEN(fen)
	if err != nil {
		return nil, "", fmt.Errorf("%w: parse FEN: %v", ErrMalformed, err)
	}
	packed, err := pgn.ParsePackedPosition(keyStr)
	if err != nil {
		return nil, "", fmt.Errorf("%w: parse position key: %v", ErrMalformed, err)
	}
	pos := packed.Unpack()
	if pos == nil {
		return nil, "", fmt.Errorf("%w: unpack position for FEN %q", ErrMalformed, fen)
	}
	return pos, keyStr, nil
}

// ToUCI converts a move to UCI notation (e.g., "e2e4", "e7e8q").
func ToUCI(mv pgn.Mv) string {
	files := "abcdefgh"
	ranks := "12345678"

	from := string(files[mv.From%8]) + string(ranks[mv.From/8])
	to := string(files[mv.To%8]) + string(ranks[mv.To/8])

	uci := from + to

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}

	return uci
}

// FindLegal returns the legal move in pos whose UCI spelling matches uci.
func FindLegal(pos *pgn.GameState, uci string) (pgn.Mv, bool) {
	for _, mv := range pgn.GenerateLegalMoves(pos) {
		if ToUCI(mv) == uci {
			return mv, true
		}
	}
	return pgn.Mv{}, false
}

// ToSAN converts a move to SAN notation given the position it is played in.
func ToSAN(pos *pgn.GameState, mv pgn.Mv) string {
	// Castling
	if mv.Flags == 4 {
		if mv.To > mv.From {
			return "O-O"
		}
		return "O-O-O"
	}

	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile := fromSq % 8
	toFile := toSq % 8
	toRank := toSq / 8

	files := "abcdefgh"
	ranks := "12345678"

	// PieceAt returns 'P', 'N', 'B', 'R', 'Q', 'K' for white, lowercase for black
	piece := pos.PieceAt(mv.From)
	isPawn := piece == 'P' || piece == 'p'
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == 2) // en passant

	var san string

	if isPawn {
		if isCapture {
			san = string(files[fromFile]) + "x" + string(files[toFile]) + string(ranks[toRank])
		} else {
			san = string(files[toFile]) + string(ranks[toRank])
		}
		switch mv.Promo {
		case pgn.PromoQueen:
			san += "=Q"
		case pgn.PromoRook:
			san += "=R"
		case pgn.PromoBishop:
			san += "=B"
		case pgn.PromoKnight:
			san += "=N"
		}
	} else {
		pieceChar := piece
		if piece >= 'a' && piece <= 'z' {
			pieceChar = piece - 32 // convert to uppercase
		}
		san = string(pieceChar)

		// Disambiguation: another piece of the same type reaching the same square
		disambig := ""
		moves := pgn.GenerateLegalMoves(pos)
		for _, other := range moves {
			if other.To == mv.To && other.From != mv.From {
				otherPiece := pos.PieceAt(other.From)
				otherUpper := otherPiece
				if otherPiece >= 'a' && otherPiece <= 'z' {
					otherUpper = otherPiece - 32
				}
				if otherUpper == pieceChar {
					otherFromFile := int(other.From) % 8
					otherFromRank := int(other.From) / 8
					if fromFile != otherFromFile {
						disambig = string(files[fromFile])
					} else if fromSq/8 != otherFromRank {
						disambig = string(ranks[fromSq/8])
					} else {
						disambig = string(files[fromFile]) + string(ranks[fromSq/8])
					}
					break
				}
			}
		}
		san += disambig

		if isCapture {
			san += "x"
		}
		san += string(files[toFile]) + string(ranks[toRank])
	}

	// Check and checkmate suffixes
	posCopy := pos.Pack().Unpack()
	if posCopy != nil {
		_ = pgn.ApplyMove(posCopy, mv)
		if posCopy.IsInCheck() {
			moves := pgn.GenerateLegalMoves(posCopy)
			if len(moves) == 0 {
				san += "#"
			} else {
				san += "+"
			}
		}
	}

	return san
}
