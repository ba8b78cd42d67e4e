// Package notation validates the chess notation carried by jobs before they
// reach an engine: variant keys, FEN strings and UCI moves.
package notation

import (
	"errors"
	"strings"

	"github.com/samber/lo"
)

var ErrInvalidVariant = errors.New("invalid variant")

// Flavor selects which engine build handles a variant.
type Flavor string

const (
	FlavorOfficial     Flavor = "official"
	FlavorMultiVariant Flavor = "multi-variant"
)

// Variant is either one of the lichess variants or a variant only known to a
// multi-variant engine (reported through its UCI_Variant option).
type Variant struct {
	Key     string
	Lichess bool
}

// Standard is the default variant used when a job does not name one.
var Standard = Variant{Key: "standard", Lichess: true}

// lichessUCI maps lichess variant keys to UCI_Variant values.
var lichessUCI = map[string]string{
	"standard":      "chess",
	"chess960":      "chess",
	"fromposition":  "chess",
	"antichess":     "antichess",
	"atomic":        "atomic",
	"crazyhouse":    "crazyhouse",
	"horde":         "horde",
	"kingofthehill": "kingofthehill",
	"racingkings":   "racingkings",
	"threecheck":    "3check",
}

// ParseVariant resolves a variant key. extra lists the variants advertised by
// the multi-variant engine; it may be nil.
func ParseVariant(key string, extra []string) (Variant, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return Standard, nil
	}
	if _, ok := lichessUCI[k]; ok {
		return Variant{Key: k, Lichess: true}, nil
	}
	if lo.Contains(extra, k) {
		return Variant{Key: k}, nil
	}
	return Variant{}, ErrInvalidVariant
}

// UCI returns the UCI_Variant option value for v.
func (v Variant) UCI() string {
	if v.Lichess {
		return lichessUCI[v.Key]
	}
	return v.Key
}

// Chess960 reports whether castling must be sent in king-takes-rook form.
func (v Variant) Chess960() bool {
	return v.Key == "chess960"
}

// Flavor returns the engine build required for v.
func (v Variant) Flavor() Flavor {
	if v.Lichess && v.UCI() == "chess" {
		return FlavorOfficial
	}
	return FlavorMultiVariant
}

func (v Variant) String() string { return v.Key }

