// Package dedup finds records with identical payloads.
//
// The index quick hash only narrows candidates: it covers a bounded
// payload prefix, so two different records can share a hash and two
// copies of one message always do. Equality is therefore always
// confirmed by comparing full payload bytes through the shared mapping
// before a group is reported. Envelope lines are excluded from the
// comparison since they differ between deliveries of the same message.
package dedup

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"mailsift/internal/index"
	"mailsift/internal/mbox"
)

// Group is a set of records with byte-identical payloads, ids ascending.
type Group struct {
	IDs  []uint32
	Size uint32 // payload-bearing record length of the first member
}

// Find returns all duplicate groups (two or more identical records) in
// id order of their first member.
func Find(f *mbox.File, entries []index.Span) ([]Group, error) {
	candidates := make(map[uint64][]index.Span)
	for _, e := range entries {
		candidates[e.QuickHash] = append(candidates[e.QuickHash], e)
	}

	var groups []Group
	for _, bucket := range candidates {
		if len(bucket) < 2 {
			continue
		}
		confirmed, err := confirm(f, bucket)
		if err != nil {
			return nil, err
		}
		groups = append(groups, confirmed...)
	}

	// Bucket iteration order is random; restore id order.
	slices.SortFunc(groups, func(a, b Group) int {
		return cmp.Compare(a.IDs[0], b.IDs[0])
	})
	return groups, nil
}

// confirm splits one quick-hash bucket into groups of records whose
// full payloads compare equal.
func confirm(f *mbox.File, bucket []index.Span) ([]Group, error) {
	var groups []Group
	claimed := make([]bool, len(bucket))

	for i := range bucket {
		if claimed[i] {
			continue
		}
		base, err := f.Record(int64(bucket[i].Offset), int64(bucket[i].Length))
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", bucket[i].ID, err)
		}

		g := Group{IDs: []uint32{bucket[i].ID}, Size: bucket[i].Length}
		for k := i + 1; k < len(bucket); k++ {
			if claimed[k] {
				continue
			}
			other, err := f.Record(int64(bucket[k].Offset), int64(bucket[k].Length))
			if err != nil {
				return nil, fmt.Errorf("read record %d: %w", bucket[k].ID, err)
			}
			if bytes.Equal(base, other) {
				g.IDs = append(g.IDs, bucket[k].ID)
				claimed[k] = true
			}
		}
		if len(g.IDs) > 1 {
			groups = append(groups, g)
		}
	}
	return groups, nil
}
