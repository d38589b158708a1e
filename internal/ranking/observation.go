package ranking

import (
	"fmt"
	"strings"
	"time"
)

// Observation is a single ranking measurement scraped from a playlist search
// results page. Position 1 is the best rank. Timestamp is the measurement
// time, not the ingestion time. UserID and SessionID are provenance only and
// play no role in identity.
type Observation struct {
	Keyword   string    `json:"keyword"`
	Territory string    `json:"territory"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// GroupKey identifies the (keyword, territory) series an observation belongs
// to, case-insensitive on the keyword.
func GroupKey(o Observation) string {
	return strings.ToLower(strings.TrimSpace(o.Keyword)) + "\x00" + strings.ToLower(strings.TrimSpace(o.Territory))
}

// ExactKey identifies byte-identical repeats of the same measurement.
func ExactKey(o Observation) string {
	return fmt.Sprintf("%s\x00%d\x00%d", GroupKey(o), o.Position, o.Timestamp.UTC().UnixNano())
}

// MinuteKey identifies re-observations of the same position within the same
// wall-clock minute, absorbing sub-minute scraper jitter.
func MinuteKey(o Observation) string {
	return fmt.Sprintf("%s\x00%d\x00%s", GroupKey(o), o.Position, o.Timestamp.UTC().Format("2006-01-02T15:04"))
}

// WindowKey identifies re-observations within a coarser floor-aligned time
// window, independent of position, catching rank-flicker duplicates.
func WindowKey(o Observation, window time.Duration) string {
	if window <= 0 {
		window = 5 * time.Minute
	}
	bucket := o.Timestamp.UTC().UnixNano() / int64(window)
	return fmt.Sprintf("%s\x00%d", GroupKey(o), bucket)
}
