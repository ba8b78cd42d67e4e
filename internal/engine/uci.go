package engine

import (
	"strconv"
	"strings"

	"fishnet/pkg/types"
)

// Info is one parsed "info" line of a running search.
type Info struct {
	Depth    int
	SelDepth int
	MultiPV  int
	Score    *types.Score
	Nodes    int64
	NPS      int64
	TimeMs   int64
	PV       []string
}

// ParseInfo decodes a UCI info line. It returns false for lines that carry
// neither a depth nor a score, such as "info string" or "info currmove".
func ParseInfo(line string) (Info, bool) {
	f := strings.Fields(line)
	if len(f) == 0 || f[0] != "info" {
		return Info{}, false
	}
	in := Info{MultiPV: 1}
	i := 1
	next := func() string {
		i++
		if i < len(f) {
			return f[i]
		}
		return ""
	}
	for ; i < len(f); i++ {
		switch f[i] {
		case "string":
			i = len(f)
		case "depth":
			in.Depth = atoi(next())
		case "seldepth":
			in.SelDepth = atoi(next())
		case "multipv":
			in.MultiPV = atoi(next())
		case "nodes":
			in.Nodes = atoi64(next())
		case "nps":
			in.NPS = atoi64(next())
		case "time":
			in.TimeMs = atoi64(next())
		case "score":
			kind := next()
			v, err := strconv.Atoi(next())
			if err != nil {
				continue
			}
			s := &types.Score{}
			switch kind {
			case "cp":
				s.Cp = &v
			case "mate":
				s.Mate = &v
			default:
				continue
			}
			if i+1 < len(f) && (f[i+1] == "lowerbound" || f[i+1] == "upperbound") {
				s.Bound = strings.TrimSuffix(next(), "bound")
			}
			in.Score = s
		case "pv":
			in.PV = append([]string(nil), f[i+1:]...)
			i = len(f)
		}
	}
	return in, in.Depth > 0 || in.Score != nil
}

// ParseBestMove decodes "bestmove <move> [ponder <move>]". A best move of
// "(none)" is returned as the empty string.
func ParseBestMove(line string) (best, ponder string) {
	f := strings.Fields(line)
	if len(f) < 2 || f[0] != "bestmove" {
		return "", ""
	}
	best = f[1]
	if best == "(none)" {
		best = ""
	}
	if len(f) >= 4 && f[2] == "ponder" {
		ponder = f[3]
	}
	return best, ponder
}

// option is an "option name ... type ..." advertisement.
type option struct {
	Name string
	Type string
	Vars []string
}

func parseOption(line string) (option, bool) {
	f := strings.Fields(line)
	if len(f) < 3 || f[0] != "option" || f[1] != "name" {
		return option{}, false
	}
	var o option
	var name []string
	i := 2
	for ; i < len(f) && f[i] != "type"; i++ {
		name = append(name, f[i])
	}
	o.Name = strings.Join(name, " ")
	if i+1 < len(f) {
		o.Type = f[i+1]
	}
	for ; i < len(f); i++ {
		if f[i] == "var" && i+1 < len(f) {
			o.Vars = append(o.Vars, f[i+1])
		}
	}
	return o, o.Name != ""
}

// FormatPosition renders the position command. An empty fen means the
// variant's start position.
func FormatPosition(fen string, moves []string) string {
	var b strings.Builder
	if fen == "" {
		b.WriteString("position startpos")
	} else {
		b.WriteString("position fen ")
		b.WriteString(fen)
	}
	if len(moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(moves, " "))
	}
	return b.String()
}

// FormatGo renders the go command for lim. Callers reject jobs without any limit.
func FormatGo(lim types.Limits) string {
	parts := []string{"go"}
	if lim.Depth > 0 {
		parts = append(parts, "depth", strconv.Itoa(lim.Depth))
	}
	if lim.Nodes > 0 {
		parts = append(parts, "nodes", strconv.FormatInt(lim.Nodes, 10))
	}
	if lim.MoveTimeMs > 0 {
		parts = append(parts, "movetime", strconv.Itoa(lim.MoveTimeMs))
	}
	return strings.Join(parts, " ")
}

func setOption(name, value string) string {
	return "setoption name " + name + " value " + value
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
