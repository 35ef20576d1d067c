package checkpoint

import "mailsift/internal/index"

// Remaining filters entries down to those not present in any of the
// done sets, preserving original order. The sets are typically the
// journal's own processed ids plus an optional externally supplied
// already-materialized set (e.g. from a downstream store that keeps
// results elsewhere).
//
// Filtering happens before dispatch, which is what makes the pipeline
// idempotent: a record processed in an earlier run is never handed to a
// worker again, rather than being reprocessed and skipped after the
// fact.
func Remaining(entries []index.Span, done ...map[uint32]struct{}) []index.Span {
	remaining := make([]index.Span, 0, len(entries))
outer:
	for _, e := range entries {
		for _, set := range done {
			if _, ok := set[e.ID]; ok {
				continue outer
			}
		}
		remaining = append(remaining, e)
	}
	return remaining
}
