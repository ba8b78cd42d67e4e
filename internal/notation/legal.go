package notation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

var ErrIllegalMove = errors.New("illegal move")

// fenDefaults completes a FEN that stops after the board or side to move.
var fenDefaults = []string{"w", "-", "-", "0", "1"}

// kingTakesRook maps castling written as king-takes-rook to the king's
// two-square move expected outside Chess960 mode.
var kingTakesRook = map[Uci]Uci{"e1h1": "e1g1", "e1a1": "e1c1", "e8h8": "e8g8", "e8a8": "e8c8"}

// NormalizeMoves verifies moves against the root position of a lichess
// variant; fen is empty for the initial position. Standard and fromposition
// games are replayed with full legality and castling is rewritten to the
// two-square form. Other lichess variants are held to the 8x8 board, with
// drops only in crazyhouse. Fairy variants are not checked here, their
// engine decides what it can play.
func NormalizeMoves(v Variant, fen string, moves []Uci) ([]Uci, error) {
	if !v.Lichess {
		return moves, nil
	}
	for i, m := range moves {
		if !onBoard(m, v) {
			return nil, fmt.Errorf("%w: %s at ply %d", ErrIllegalMove, m, i+1)
		}
	}
	if v.Key != "standard" && v.Key != "fromposition" {
		return moves, nil
	}
	return replay(fen, moves)
}

func replay(fen string, moves []Uci) ([]Uci, error) {
	opts := []func(*chess.Game){chess.UseNotation(chess.UCINotation{})}
	if fen != "" {
		pos, err := chess.FEN(completeFen(fen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFen, err)
		}
		opts = append(opts, pos)
	}
	g := chess.NewGame(opts...)
	out := make([]Uci, 0, len(moves))
	for i, m := range moves {
		err := g.MoveStr(string(m))
		if alt, ok := kingTakesRook[m]; err != nil && ok {
			if err = g.MoveStr(string(alt)); err == nil {
				m = alt
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s at ply %d", ErrIllegalMove, m, i+1)
		}
		out = append(out, m)
	}
	return out, nil
}

func completeFen(fen string) string {
	fields := strings.Fields(fen)
	for i := len(fields) - 1; i < len(fenDefaults); i++ {
		fields = append(fields, fenDefaults[i])
	}
	return strings.Join(fields, " ")
}

// onBoard accepts a8-h1 squares, lichess promotions and crazyhouse drops.
func onBoard(m Uci, v Variant) bool {
	b := []byte(m)
	if len(b) >= 2 && b[1] == '@' {
		return v.Key == "crazyhouse" && len(b) == 4 && strings.IndexByte("PNBRQ", b[0]) >= 0 && square8(b[2:])
	}
	if len(b) != 4 && len(b) != 5 {
		return false
	}
	if !square8(b[:2]) || !square8(b[2:4]) {
		return false
	}
	if len(b) == 5 {
		promo := "qrbn"
		if v.Key == "antichess" {
			promo += "k"
		}
		return strings.IndexByte(promo, b[4]) >= 0
	}
	return true
}

func square8(sq []byte) bool {
	return sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}
