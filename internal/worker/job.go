package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"

	"fishnet/internal/engine"
	"fishnet/internal/logger"
	"fishnet/internal/notation"
	"fishnet/pkg/types"
)

// validate checks a job payload before it reaches an engine. Variants unknown
// to lichess are looked up in the multi-variant engine of slot, if any. The
// moves of a valid job are replaced by their normalized form.
func (d *Dispatcher) validate(ctx context.Context, slot Slot, job *types.Job) (notation.Variant, error) {
	if strings.TrimSpace(job.ID) == "" {
		return notation.Variant{}, invalidJob("id", "empty")
	}
	if !job.Class.Valid() {
		return notation.Variant{}, invalidJob("class", "unknown class %q", job.Class)
	}
	lim := job.Limits
	if lim.Depth < 0 || lim.Nodes < 0 || lim.MoveTimeMs < 0 || lim.MultiPV < 0 {
		return notation.Variant{}, invalidJob("limits", "negative limit")
	}
	if lim.Depth == 0 && lim.Nodes == 0 && lim.MoveTimeMs == 0 {
		return notation.Variant{}, invalidJob("limits", "no depth, nodes or movetime")
	}
	v, err := notation.ParseVariant(job.Variant, nil)
	if errors.Is(err, notation.ErrInvalidVariant) && d.opts.MultiVariant {
		vars, verr := slot.Variants(ctx, notation.FlavorMultiVariant)
		if verr != nil {
			return notation.Variant{}, verr
		}
		v, err = notation.ParseVariant(job.Variant, vars)
	}
	if err != nil {
		return notation.Variant{}, invalidJob("variant", "%q: %v", job.Variant, err)
	}
	if job.Position != "" {
		if _, err := notation.ParseFen(job.Position, v); err != nil {
			return notation.Variant{}, invalidJob("position", "%v", err)
		}
	}
	moves, err := notation.ParseMoves(job.Moves)
	if err != nil {
		return notation.Variant{}, invalidJob("moves", "%v", err)
	}
	moves, err = notation.NormalizeMoves(v, job.Position, moves)
	switch {
	case errors.Is(err, notation.ErrInvalidFen):
		return notation.Variant{}, invalidJob("position", "%v", err)
	case err != nil:
		return notation.Variant{}, invalidJob("moves", "%v", err)
	}
	for _, i := range job.SkipPositions {
		if i < 0 || i > len(job.Moves) {
			return notation.Variant{}, invalidJob("skip_positions", "index %d out of range", i)
		}
	}
	// the engine receives moves in the normalized form
	job.Moves = lo.Map(moves, func(m notation.Uci, _ int) string { return string(m) })
	return v, nil
}

// analyse searches the root and every position after a move prefix. The
// positions analysed so far are returned with any error.
func (d *Dispatcher) analyse(ctx context.Context, slot Slot, job *types.Job, v notation.Variant) ([]types.PositionAnalysis, error) {
	skip := lo.SliceToMap(job.SkipPositions, func(i int) (int, bool) { return i, true })
	out := make([]types.PositionAnalysis, 0, len(job.Moves)+1)
	for i := 0; i <= len(job.Moves); i++ {
		if skip[i] {
			out = append(out, types.PositionAnalysis{Index: i, Skipped: true})
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		pos := engine.Position{Variant: v.UCI(), Chess960: v.Chess960(), Fen: job.Position, Moves: job.Moves[:i]}
		pa, err := searchPosition(ctx, slot, v.Flavor(), pos, job.Limits)
		if err != nil {
			return out, err
		}
		pa.Index = i
		out = append(out, pa)
		d.progress(job, i)
	}
	return out, nil
}

// searchPosition drains one search and keeps the last primary line with a score.
func searchPosition(ctx context.Context, slot Slot, f notation.Flavor, pos engine.Position, lim types.Limits) (types.PositionAnalysis, error) {
	ch, err := slot.Search(ctx, f, pos, lim)
	if err != nil {
		return types.PositionAnalysis{}, err
	}
	var last *engine.Info
	var final engine.SearchEvent
	for ev := range ch {
		if ev.Info != nil {
			if ev.Info.MultiPV <= 1 && ev.Info.Score != nil {
				last = ev.Info
			}
			continue
		}
		final = ev
	}
	if final.Err != nil {
		return types.PositionAnalysis{}, final.Err
	}
	if err := ctx.Err(); err != nil {
		return types.PositionAnalysis{}, err
	}
	if last == nil {
		return types.PositionAnalysis{}, errNoEvaluation
	}
	return types.PositionAnalysis{
		Score:    last.Score,
		Depth:    last.Depth,
		SelDepth: last.SelDepth,
		Nodes:    last.Nodes,
		NPS:      last.NPS,
		TimeMs:   last.TimeMs,
		BestMove: final.BestMove,
		PV:       last.PV,
	}, nil
}

func (d *Dispatcher) progress(job *types.Job, pos int) {
	bar := logger.QueueStatusBar{Pending: int(d.state.InFlight() + d.state.Queued()), Cores: d.pool.Cores()}
	d.log.Progress(bar, logger.ProgressAt{JobID: job.ID, URL: job.URL, Position: pos})
}
