/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"
)

// AnchorFunc returns the replay anchor for the n-th clip of a run (0-based).
type AnchorFunc func(n int) time.Time

// ReplayFrom anchors clip n at base + (n+1)*interval, so a backfilled window
// is delivered as if it had just been recorded.
func ReplayFrom(base time.Time, interval time.Duration) AnchorFunc {
	return func(n int) time.Time {
		return base.Add(time.Duration(n+1) * interval)
	}
}

// RunOptions tunes Run.
type RunOptions struct {
	// Anchor, when set, turns on replay labelling.
	Anchor AnchorFunc
}

// Summary totals a run.
type Summary struct {
	Clips   int
	Retries int
	// Skipped counts segment downloads that failed inside otherwise produced clips.
	Skipped int
	// Dropped counts clips abandoned because none of their segments downloaded.
	Dropped int
}

// Run advances s until the window is exhausted, handing every clip to fn.
// It stops early when fn fails, when an iteration fails for a reason other
// than missing segments, or when ctx is done between iterations.
func Run(ctx context.Context, s *Scheduler, opts RunOptions, fn func(context.Context, Clip) error) (Summary, error) {
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		var res Result
		if opts.Anchor != nil {
			res = s.AdvanceReplay(ctx, opts.Anchor(sum.Clips+sum.Dropped))
		} else {
			res = s.Advance(ctx)
		}

		switch res.Outcome {
		case ClipReady:
			sum.Clips++
			sum.Skipped += res.Skipped()
			if fn != nil {
				if err := fn(ctx, *res.Clip); err != nil {
					return sum, fmt.Errorf("handle clip %s: %w", res.Clip.Label, err)
				}
			}
		case Retry:
			sum.Retries++
		case EndOfStream:
			return sum, nil
		case Failed:
			if IsKind(res.Err, KindNoSegments) {
				sum.Dropped++
				sum.Skipped += res.Skipped()
				continue
			}
			return sum, res.Err
		}
	}
}
