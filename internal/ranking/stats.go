package ranking

// Trend classifies the most recent position change. A lower position is a
// better rank, so a decrease reports TrendUp.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
	TrendNew    Trend = "new"
)

// trendSpan is how far back the multi-point delta looks.
const trendSpan = 5

// Stats is derived at read time from a canonical series and never stored.
type Stats struct {
	Keyword          string `json:"keyword"`
	Territory        string `json:"territory"`
	CurrentPosition  int    `json:"current_position"`
	PreviousPosition int    `json:"previous_position,omitempty"`
	Trend            Trend  `json:"trend"`
	BestPosition     int    `json:"best_position"`
	WorstPosition    int    `json:"worst_position"`
	// Delta compares the current position against the one trendSpan
	// observations earlier (or the earliest available). Positive means the
	// rank improved by that many places.
	Delta        int `json:"delta"`
	Observations int `json:"observations"`
}

// ComputeStats derives current/best/worst positions and the trend
// classification from a series. The series must be timestamp-ascending, as
// produced by Deduplicate and GroupSeries. Returns false for an empty series.
func ComputeStats(series Series) (Stats, bool) {
	if len(series.Observations) == 0 {
		return Stats{}, false
	}

	stats := Stats{
		Keyword:      series.Keyword,
		Territory:    series.Territory,
		Observations: len(series.Observations),
	}

	last := series.Observations[len(series.Observations)-1]
	stats.CurrentPosition = last.Position
	stats.BestPosition = last.Position
	stats.WorstPosition = last.Position
	for _, o := range series.Observations {
		if o.Position < stats.BestPosition {
			stats.BestPosition = o.Position
		}
		if o.Position > stats.WorstPosition {
			stats.WorstPosition = o.Position
		}
	}

	if len(series.Observations) < 2 {
		stats.Trend = TrendNew
		return stats, true
	}

	previous := series.Observations[len(series.Observations)-2]
	stats.PreviousPosition = previous.Position
	switch {
	case last.Position < previous.Position:
		stats.Trend = TrendUp
	case last.Position > previous.Position:
		stats.Trend = TrendDown
	default:
		stats.Trend = TrendStable
	}

	anchor := len(series.Observations) - 1 - trendSpan
	if anchor < 0 {
		anchor = 0
	}
	stats.Delta = series.Observations[anchor].Position - last.Position

	return stats, true
}

// ComputeAllStats derives stats for every (keyword, territory) series in a
// record, ordered by group key.
func ComputeAllStats(record *PlaylistRecord) []Stats {
	if record == nil {
		return nil
	}
	grouped := record.GroupSeries()
	out := make([]Stats, 0, len(grouped))
	for _, series := range grouped {
		if stats, ok := ComputeStats(series); ok {
			out = append(out, stats)
		}
	}
	return out
}
