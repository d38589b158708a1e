package ranking

import (
	"sort"
	"strings"
	"time"
)

const (
	// PlaylistRetentionCap bounds the flattened observation count kept per
	// playlist; the oldest observations are dropped first.
	PlaylistRetentionCap = 1000

	// HistoryLogCap bounds the append-only per-(keyword, territory) log.
	HistoryLogCap = 100
)

// PlaylistRecord is the canonical store blob for one playlist. Keywords is
// the flattened union of every (keyword, territory) canonical series, kept
// timestamp-ascending.
type PlaylistRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Image       string        `json:"image,omitempty"`
	Keywords    []Observation `json:"keywords"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NewPlaylistRecord returns an empty canonical record for a playlist.
func NewPlaylistRecord(id string) *PlaylistRecord {
	return &PlaylistRecord{
		ID:       strings.TrimSpace(id),
		Keywords: []Observation{},
	}
}

// BatchMeta carries playlist display metadata supplied alongside a batch.
type BatchMeta struct {
	Name  string
	Image string
}

// MergeOutcome reports what a merge changed.
type MergeOutcome struct {
	Added      int
	Duplicates int
	Truncated  int
}

// Merge integrates an already-deduplicated batch into the record. Inclusion
// is keyed on exact identity, so re-ingesting the same batch is a no-op and
// disjoint batches commute. The record never rescans its own history beyond
// one pass to build the exact-key set. Display name and image are filled only
// when absent; a present value is never overwritten by an absent one.
func (r *PlaylistRecord) Merge(batch []Observation, meta BatchMeta, now time.Time) MergeOutcome {
	outcome := MergeOutcome{}

	existing := make(map[string]struct{}, len(r.Keywords))
	for _, o := range r.Keywords {
		existing[ExactKey(o)] = struct{}{}
	}

	for _, o := range batch {
		key := ExactKey(o)
		if _, dup := existing[key]; dup {
			outcome.Duplicates++
			continue
		}
		existing[key] = struct{}{}
		r.Keywords = append(r.Keywords, o)
		outcome.Added++
	}

	if outcome.Added > 0 {
		sortObservations(r.Keywords)
	}

	if over := len(r.Keywords) - PlaylistRetentionCap; over > 0 {
		outcome.Truncated = over
		r.Keywords = append([]Observation(nil), r.Keywords[over:]...)
	}

	if name := strings.TrimSpace(meta.Name); name != "" && strings.TrimSpace(r.Name) == "" {
		r.Name = name
	}
	if image := strings.TrimSpace(meta.Image); image != "" && strings.TrimSpace(r.Image) == "" {
		r.Image = image
	}
	r.LastUpdated = now.UTC()

	return outcome
}

// RemoveKeyword drops every observation for a keyword, optionally limited to
// one territory, and returns how many were removed. Territory must already be
// normalized; an empty territory removes the keyword across all territories.
func (r *PlaylistRecord) RemoveKeyword(keyword, territoryCode string, now time.Time) int {
	target := strings.ToLower(strings.TrimSpace(keyword))
	if target == "" {
		return 0
	}

	kept := r.Keywords[:0]
	removed := 0
	for _, o := range r.Keywords {
		sameKeyword := strings.ToLower(strings.TrimSpace(o.Keyword)) == target
		sameTerritory := territoryCode == "" || o.Territory == territoryCode
		if sameKeyword && sameTerritory {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	r.Keywords = kept
	if removed > 0 {
		r.LastUpdated = now.UTC()
	}
	return removed
}

// GroupSeries splits the flattened record back into per-(keyword, territory)
// series, each timestamp-ascending, ordered by group key.
func (r *PlaylistRecord) GroupSeries() []Series {
	grouped := map[string]*Series{}
	order := []string{}
	for _, o := range r.Keywords {
		group := GroupKey(o)
		series, exists := grouped[group]
		if !exists {
			series = &Series{Keyword: strings.TrimSpace(o.Keyword), Territory: o.Territory}
			grouped[group] = series
			order = append(order, group)
		}
		series.Observations = append(series.Observations, o)
	}
	sort.Strings(order)

	out := make([]Series, 0, len(order))
	for _, group := range order {
		series := grouped[group]
		sort.Slice(series.Observations, func(i, j int) bool {
			return series.Observations[i].Timestamp.Before(series.Observations[j].Timestamp)
		})
		out = append(out, *series)
	}
	return out
}

func sortObservations(observations []Observation) {
	sort.Slice(observations, func(i, j int) bool {
		left, right := observations[i], observations[j]
		if !left.Timestamp.Equal(right.Timestamp) {
			return left.Timestamp.Before(right.Timestamp)
		}
		if lg, rg := GroupKey(left), GroupKey(right); lg != rg {
			return lg < rg
		}
		return left.Position < right.Position
	})
}
