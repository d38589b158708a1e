package ranking

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"horse.fit/rankwatch/internal/territory"
)

// Rejection reasons reported by Deduplicate and the ingestion service.
const (
	ReasonInvalidTerritory = "invalid_territory"
	ReasonInvalidPosition  = "invalid_position"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonEmptyKeyword     = "empty_keyword"
	ReasonMalformed        = "malformed_observation"
)

// PolicyKind selects the bucket key that decides which observations count as
// "the same" measurement.
type PolicyKind string

const (
	PolicyExact  PolicyKind = "exact"
	PolicyMinute PolicyKind = "minute"
	PolicyWindow PolicyKind = "window"
)

const DefaultWindow = 5 * time.Minute

// Policy parameterizes the deduplication engine. The window policy collapses
// by time window regardless of position and prefers the best rank within the
// bucket; exact and minute policies keep the latest observation.
type Policy struct {
	Kind           PolicyKind
	Window         time.Duration
	PreferBestRank bool
}

func ExactPolicy() Policy {
	return Policy{Kind: PolicyExact}
}

// MinutePolicy is the recommended default for canonical ingestion: exact
// matching is too narrow to absorb scraper jitter, window matching can merge
// genuinely distinct ranking events.
func MinutePolicy() Policy {
	return Policy{Kind: PolicyMinute}
}

func WindowPolicy(window time.Duration) Policy {
	if window <= 0 {
		window = DefaultWindow
	}
	return Policy{Kind: PolicyWindow, Window: window, PreferBestRank: true}
}

// ParsePolicy resolves a policy name from CLI flags or API parameters.
func ParsePolicy(name string, window time.Duration) (Policy, error) {
	switch PolicyKind(strings.ToLower(strings.TrimSpace(name))) {
	case PolicyExact:
		return ExactPolicy(), nil
	case PolicyMinute, "":
		return MinutePolicy(), nil
	case PolicyWindow:
		return WindowPolicy(window), nil
	default:
		return Policy{}, fmt.Errorf("unknown dedup policy %q (want exact, minute, or window)", name)
	}
}

// BucketKey computes the dedup bucket for an observation under the policy.
func BucketKey(o Observation, policy Policy) string {
	switch policy.Kind {
	case PolicyExact:
		return ExactKey(o)
	case PolicyWindow:
		return WindowKey(o, policy.Window)
	default:
		return MinuteKey(o)
	}
}

// Series is the deduplicated, timestamp-ascending history for one
// (keyword, territory) pair.
type Series struct {
	Keyword      string
	Territory    string
	Observations []Observation
}

// DedupResult carries the canonical series plus skip-and-count bookkeeping
// for observations that were rejected or collapsed.
type DedupResult struct {
	Series          []Series
	Accepted        int
	Duplicates      int
	Rejected        int
	RejectedReasons map[string]int
}

// Deduplicate partitions observations by (keyword, territory), collapses each
// dedup bucket to a single representative, and returns one canonical series
// per partition. Invalid observations are dropped and counted individually;
// they never abort the batch and are never assigned a default territory.
func Deduplicate(observations []Observation, policy Policy) DedupResult {
	result := DedupResult{
		RejectedReasons: map[string]int{},
	}

	type bucketChampion struct {
		observation Observation
		order       int
	}

	// group key -> bucket key -> champion
	partitions := map[string]map[string]bucketChampion{}
	displayKeyword := map[string]string{}
	groupTerritory := map[string]string{}

	for i, raw := range observations {
		keyword := strings.TrimSpace(raw.Keyword)
		if keyword == "" {
			result.reject(ReasonEmptyKeyword)
			continue
		}
		if raw.Position < 1 {
			result.reject(ReasonInvalidPosition)
			continue
		}
		if raw.Timestamp.IsZero() {
			result.reject(ReasonInvalidTimestamp)
			continue
		}
		code, ok := territory.Normalize(raw.Territory)
		if !ok {
			result.reject(ReasonInvalidTerritory)
			continue
		}

		o := raw
		o.Keyword = keyword
		o.Territory = code
		o.Timestamp = o.Timestamp.UTC()

		group := GroupKey(o)
		if _, exists := partitions[group]; !exists {
			partitions[group] = map[string]bucketChampion{}
			displayKeyword[group] = keyword
			groupTerritory[group] = code
		}

		bucket := BucketKey(o, policy)
		champion, exists := partitions[group][bucket]
		if !exists {
			partitions[group][bucket] = bucketChampion{observation: o, order: i}
			continue
		}

		result.Duplicates++
		if replacesChampion(o, champion.observation, policy) {
			partitions[group][bucket] = bucketChampion{observation: o, order: i}
		}
	}

	groups := make([]string, 0, len(partitions))
	for group := range partitions {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	result.Series = make([]Series, 0, len(groups))
	for _, group := range groups {
		buckets := partitions[group]
		series := Series{
			Keyword:      displayKeyword[group],
			Territory:    groupTerritory[group],
			Observations: make([]Observation, 0, len(buckets)),
		}
		for _, champion := range buckets {
			series.Observations = append(series.Observations, champion.observation)
		}
		sort.Slice(series.Observations, func(i, j int) bool {
			left, right := series.Observations[i], series.Observations[j]
			if !left.Timestamp.Equal(right.Timestamp) {
				return left.Timestamp.Before(right.Timestamp)
			}
			return left.Position < right.Position
		})
		result.Accepted += len(series.Observations)
		result.Series = append(result.Series, series)
	}

	return result
}

// replacesChampion reports whether the candidate wins the bucket. Ties in
// both rank and timestamp keep the earlier-arriving champion, so selection is
// reproducible for a fixed input order.
func replacesChampion(candidate, champion Observation, policy Policy) bool {
	if policy.PreferBestRank {
		if candidate.Position != champion.Position {
			return candidate.Position < champion.Position
		}
	}
	return candidate.Timestamp.After(champion.Timestamp)
}

func (r *DedupResult) reject(reason string) {
	r.Rejected++
	r.RejectedReasons[reason]++
}

// Flatten returns all observations across the series, timestamp-ascending.
func Flatten(series []Series) []Observation {
	total := 0
	for _, s := range series {
		total += len(s.Observations)
	}
	flat := make([]Observation, 0, total)
	for _, s := range series {
		flat = append(flat, s.Observations...)
	}
	sortObservations(flat)
	return flat
}
