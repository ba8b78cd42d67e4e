package types

// Limits bounds the search for every position of a job. Zero fields are unset;
// a job with no limit at all is rejected by the worker.
type Limits struct {
	// Search depth in plies.
	// example: 18
	Depth int `json:"depth,omitempty" example:"18"`
	// Node budget per position.
	// example: 1500000
	Nodes int64 `json:"nodes,omitempty" example:"1500000"`
	// Wall time per position in milliseconds.
	// example: 2000
	MoveTimeMs int `json:"movetime_ms,omitempty" example:"2000"`
	// Number of principal variations to report.
	// example: 1
	MultiPV int `json:"multipv,omitempty" example:"1"`
}

// Job is one unit of analysis work issued by the coordination server.
type Job struct {
	// Opaque job token.
	// example: Xa7Hq2Lm
	ID string `json:"id" example:"Xa7Hq2Lm"`
	// Job class used for backlog isolation.
	// example: user
	Class JobClass `json:"class" example:"user"`
	// Variant key (standard, chess960, crazyhouse, ...).
	// example: standard
	Variant string `json:"variant,omitempty" example:"standard"`
	// Root position in FEN. Empty means the variant start position.
	Position string `json:"position,omitempty"`
	// Moves played from the root, in UCI notation.
	// example: ["e2e4","e7e5"]
	Moves []string `json:"moves,omitempty"`
	// Position indices (0 = root) the server does not need analysed.
	SkipPositions []int `json:"skip_positions,omitempty"`
	// Search limits applied to each position.
	Limits Limits `json:"limits"`
	// Optional link to the game, used for progress output.
	URL string `json:"url,omitempty"`
}

// Score is an engine evaluation from the side to move. Exactly one of Cp and
// Mate is set.
type Score struct {
	Cp   *int `json:"cp,omitempty"`
	Mate *int `json:"mate,omitempty"`
	// Bound is "lower" or "upper" when the engine reported a bound only.
	Bound string `json:"bound,omitempty"`
}

// PositionAnalysis is the engine output for one position of a job.
type PositionAnalysis struct {
	Index    int      `json:"index"`
	Skipped  bool     `json:"skipped,omitempty"`
	Score    *Score   `json:"score,omitempty"`
	Depth    int      `json:"depth,omitempty"`
	SelDepth int      `json:"seldepth,omitempty"`
	Nodes    int64    `json:"nodes,omitempty"`
	NPS      int64    `json:"nps,omitempty"`
	TimeMs   int64    `json:"time_ms,omitempty"`
	BestMove string   `json:"best_move,omitempty"`
	PV       []string `json:"pv,omitempty"`
}

// EngineInfo identifies the engine build that produced an analysis.
type EngineInfo struct {
	Name   string `json:"name"`
	Flavor string `json:"flavor"`
}
