package notation

import (
	"errors"
	"strings"
	"unicode"
)

var ErrInvalidFen = errors.New("invalid fen")

// maxBoardSize bounds fairy boards (10x10 and 9x10 are the largest in use).
const maxBoardSize = 12

// Fen is a syntactically checked FEN. Lichess positions also need their
// kings; anything deeper is left to move replay or the engine.
type Fen struct {
	raw   string
	Ranks int
	Files int
}

func (f Fen) String() string { return f.raw }

// ParseFen checks the board and side-to-move fields of s. Lichess variants
// must use an 8x8 board; crazyhouse may carry its pocket either in brackets
// or as a ninth rank.
func ParseFen(s string, v Variant) (Fen, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Fen{}, ErrInvalidFen
	}
	if len(fields) > 1 && fields[1] != "w" && fields[1] != "b" {
		return Fen{}, ErrInvalidFen
	}
	board := fields[0]
	if i := strings.IndexByte(board, '['); i >= 0 {
		if !strings.HasSuffix(board, "]") || !isPocket(board[i+1:len(board)-1]) {
			return Fen{}, ErrInvalidFen
		}
		board = board[:i]
	}
	ranks := strings.Split(board, "/")
	if v.Lichess && v.Key == "crazyhouse" && len(ranks) == 9 && isPocket(ranks[8]) {
		ranks = ranks[:8]
	}
	files := -1
	for _, r := range ranks {
		w, ok := rankWidth(r)
		if !ok {
			return Fen{}, ErrInvalidFen
		}
		if files >= 0 && w != files {
			return Fen{}, ErrInvalidFen
		}
		files = w
	}
	if v.Lichess {
		if len(ranks) != 8 || files != 8 || !kingsPlaced(ranks, v) {
			return Fen{}, ErrInvalidFen
		}
	} else if len(ranks) > maxBoardSize || files < 1 || files > maxBoardSize {
		return Fen{}, ErrInvalidFen
	}
	return Fen{raw: strings.Join(fields, " "), Ranks: len(ranks), Files: files}, nil
}

// rankWidth counts squares in one rank; digit runs are empty squares and may
// exceed 9 on large boards.
func rankWidth(r string) (int, bool) {
	if r == "" {
		return 0, false
	}
	width, run := 0, 0
	for _, c := range r {
		switch {
		case c >= '0' && c <= '9':
			run = run*10 + int(c-'0')
		case unicode.IsLetter(c) && c < unicode.MaxASCII:
			width += run + 1
			run = 0
		case c == '~' || c == '+' || c == '*':
			// promoted marker, shogi prefix, or wall square annotation
		default:
			return 0, false
		}
	}
	width += run
	return width, width > 0
}

func isPocket(s string) bool {
	for _, c := range s {
		if !unicode.IsLetter(c) || c >= unicode.MaxASCII {
			return false
		}
	}
	return true
}

// kingsPlaced requires one king per side. Antichess has no royal pieces and
// horde gives white none.
func kingsPlaced(ranks []string, v Variant) bool {
	white, black := 0, 0
	for _, r := range ranks {
		white += strings.Count(r, "K")
		black += strings.Count(r, "k")
	}
	switch v.Key {
	case "antichess":
		return true
	case "horde":
		return black == 1 && white <= 1
	}
	return white == 1 && black == 1
}
