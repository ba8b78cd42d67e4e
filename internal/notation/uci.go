package notation

import "errors"

var ErrInvalidUci = errors.New("invalid uci")

// Uci is a move in UCI notation. Squares may use files a-j and ranks 0-10 so
// that 10x10 boards are representable; drops are written as P@e4.
type Uci string

// NullMove is the UCI null move.
const NullMove Uci = "0000"

// ParseUci checks the shape of a UCI move without a position.
func ParseUci(s string) (Uci, error) {
	b := []byte(s)
	if len(b) < 4 || len(b) > 6 {
		return "", ErrInvalidUci
	}
	if s == string(NullMove) {
		return NullMove, nil
	}
	var ok bool
	if b[1] == '@' {
		ok = isRole(b[0]) && validSquare(b[2:])
	} else {
		ok = validNormal(b)
	}
	if !ok {
		return "", ErrInvalidUci
	}
	return Uci(s), nil
}

// ParseMoves parses every move, failing on the first invalid one.
func ParseMoves(moves []string) ([]Uci, error) {
	out := make([]Uci, 0, len(moves))
	for _, m := range moves {
		u, err := ParseUci(m)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// validNormal accepts from-square, to-square and an optional promotion suffix,
// with either square taking two or three bytes.
func validNormal(b []byte) bool {
	for _, from := range []int{2, 3} {
		for _, to := range []int{2, 3} {
			rest := len(b) - from - to
			if rest < 0 || rest > 1 {
				continue
			}
			if !validSquare(b[:from]) || !validSquare(b[from:from+to]) {
				continue
			}
			if rest == 0 || isPromotion(b[len(b)-1]) {
				return true
			}
		}
	}
	return false
}

func validFile(c byte) bool { return c >= 'a' && c <= 'j' }

func validRank(r []byte) bool {
	switch len(r) {
	case 1:
		return r[0] >= '0' && r[0] <= '9'
	case 2:
		return r[0] == '1' && r[1] == '0'
	}
	return false
}

func validSquare(sq []byte) bool {
	return len(sq) >= 2 && len(sq) <= 3 && validFile(sq[0]) && validRank(sq[1:])
}

func isRole(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isPromotion(c byte) bool {
	switch c {
	case 'q', 'r', 'b', 'n', 'k', '+':
		return true
	}
	return false
}
