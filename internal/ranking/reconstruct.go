package ranking

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is one append-only log record for a (playlist, keyword,
// territory) tuple. The log stores only position and timestamp; identity
// lives in the log key.
type HistoryEntry struct {
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// KeywordLog re-attaches the key-scoped identity to a slice of log entries.
type KeywordLog struct {
	Keyword   string
	Territory string
	Entries   []HistoryEntry
}

// ReconstructResult reports a rebuilt canonical record plus skip-and-count
// bookkeeping for entries that could not be recovered.
type ReconstructResult struct {
	Record          *PlaylistRecord
	Accepted        int
	Duplicates      int
	Rejected        int
	RejectedReasons map[string]int
}

// Reconstruct rebuilds a playlist's canonical record from its append-only
// keyword history logs, used when the primary record is missing or corrupted.
// Entries flow through the same dedup and merge path as live ingestion, so
// the rebuilt record satisfies the same bucket invariants. Unusable entries
// are skipped and counted, never aborting the rebuild. Existing display
// metadata is preserved; otherwise a placeholder name is synthesized.
func Reconstruct(playlistID, existingName, existingImage string, logs []KeywordLog, policy Policy, now time.Time) ReconstructResult {
	observations := make([]Observation, 0, len(logs)*HistoryLogCap/4)
	for _, log := range logs {
		for _, entry := range log.Entries {
			observations = append(observations, Observation{
				Keyword:   log.Keyword,
				Territory: log.Territory,
				Position:  entry.Position,
				Timestamp: entry.Timestamp,
			})
		}
	}

	deduped := Deduplicate(observations, policy)

	record := NewPlaylistRecord(playlistID)
	record.Name = strings.TrimSpace(existingName)
	record.Image = strings.TrimSpace(existingImage)
	if record.Name == "" {
		record.Name = fmt.Sprintf("Playlist %s", record.ID)
	}

	outcome := record.Merge(Flatten(deduped.Series), BatchMeta{}, now)

	return ReconstructResult{
		Record:          record,
		Accepted:        outcome.Added,
		Duplicates:      deduped.Duplicates + outcome.Duplicates,
		Rejected:        deduped.Rejected,
		RejectedReasons: deduped.RejectedReasons,
	}
}
