// Package mot holds the MOT test-history merge shared by the live lookup
// path and the bulk ingestion job.
package mot

import (
	"sort"

	"github.com/regspy/regspy/internal/core"
)

// MergeTestHistory overlays incoming MOT tests onto an existing history.
// Tests are keyed by completed date; an incoming test replaces an existing
// one with the same date outright. The result is sorted newest first and
// contains at most one test per date. Neither input is modified.
func MergeTestHistory(existing, incoming []core.MotTest) []core.MotTest {
	byDate := make(map[string]core.MotTest, len(existing)+len(incoming))
	for _, test := range existing {
		byDate[test.CompletedDate] = test
	}
	for _, test := range incoming {
		byDate[test.CompletedDate] = test
	}

	merged := make([]core.MotTest, 0, len(byDate))
	for _, test := range byDate {
		merged = append(merged, test)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CompletedDate > merged[j].CompletedDate
	})

	return merged
}
