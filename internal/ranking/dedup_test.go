package ranking

import (
	"testing"
	"time"
)

func TestDeduplicateMinuteKeepsLatest(t *testing.T) {
	t.Parallel()

	result := Deduplicate([]Observation{
		obs("chill", "de", 12, "2024-01-01T10:00:05Z"),
		obs("chill", "de", 12, "2024-01-01T10:00:42Z"),
	}, MinutePolicy())

	if result.Rejected != 0 {
		t.Fatalf("unexpected rejections: %d", result.Rejected)
	}
	if len(result.Series) != 1 || len(result.Series[0].Observations) != 1 {
		t.Fatalf("expected one series with one observation, got %+v", result.Series)
	}
	kept := result.Series[0].Observations[0]
	if !kept.Timestamp.Equal(ts("2024-01-01T10:00:42Z")) {
		t.Fatalf("expected the later observation to win, got %v", kept.Timestamp)
	}
	if result.Duplicates != 1 {
		t.Fatalf("expected one duplicate counted, got %d", result.Duplicates)
	}
}

func TestDeduplicateWindowPrefersBestRank(t *testing.T) {
	t.Parallel()

	result := Deduplicate([]Observation{
		obs("chill", "de", 8, "2024-01-01T10:00:00Z"),
		obs("chill", "de", 3, "2024-01-01T10:02:00Z"),
		obs("chill", "de", 8, "2024-01-01T10:04:00Z"),
	}, WindowPolicy(5*time.Minute))

	if len(result.Series) != 1 || len(result.Series[0].Observations) != 1 {
		t.Fatalf("expected a single representative, got %+v", result.Series)
	}
	if got := result.Series[0].Observations[0].Position; got != 3 {
		t.Fatalf("expected best rank 3 to win the window, got %d", got)
	}
}

func TestDeduplicateRejectsInvalidObservations(t *testing.T) {
	t.Parallel()

	result := Deduplicate([]Observation{
		obs("chill", "Unknown", 4, "2024-01-01T10:00:00Z"),
		obs("chill", "", 4, "2024-01-01T10:01:00Z"),
		obs("chill", "deu", 4, "2024-01-01T10:02:00Z"),
		obs("", "de", 4, "2024-01-01T10:03:00Z"),
		obs("chill", "de", 0, "2024-01-01T10:04:00Z"),
		{Keyword: "chill", Territory: "de", Position: 4},
		obs("chill", "DE", 4, "2024-01-01T10:05:00Z"),
	}, MinutePolicy())

	if result.Rejected != 6 {
		t.Fatalf("expected 6 rejections, got %d (%v)", result.Rejected, result.RejectedReasons)
	}
	if result.RejectedReasons[ReasonInvalidTerritory] != 3 {
		t.Fatalf("expected 3 invalid territories, got %v", result.RejectedReasons)
	}
	if result.RejectedReasons[ReasonEmptyKeyword] != 1 ||
		result.RejectedReasons[ReasonInvalidPosition] != 1 ||
		result.RejectedReasons[ReasonInvalidTimestamp] != 1 {
		t.Fatalf("unexpected reason counts: %v", result.RejectedReasons)
	}

	if len(result.Series) != 1 || len(result.Series[0].Observations) != 1 {
		t.Fatalf("expected the one valid observation to survive, got %+v", result.Series)
	}
	if got := result.Series[0].Territory; got != "de" {
		t.Fatalf("expected normalized territory de, got %q", got)
	}
}

func TestDeduplicatePartitionsByKeywordAndTerritory(t *testing.T) {
	t.Parallel()

	result := Deduplicate([]Observation{
		obs("chill", "de", 5, "2024-01-01T10:00:00Z"),
		obs("chill", "us", 7, "2024-01-01T10:00:00Z"),
		obs("Focus", "de", 2, "2024-01-01T10:00:00Z"),
	}, MinutePolicy())

	if len(result.Series) != 3 {
		t.Fatalf("expected 3 series, got %d", len(result.Series))
	}
	if result.Accepted != 3 {
		t.Fatalf("expected 3 accepted observations, got %d", result.Accepted)
	}
}

func TestDeduplicateTieBreakIsInputOrderStable(t *testing.T) {
	t.Parallel()

	first := obs("chill", "de", 4, "2024-01-01T10:00:30Z")
	first.SessionID = "session-a"
	second := obs("chill", "de", 4, "2024-01-01T10:00:30Z")
	second.SessionID = "session-b"

	for run := 0; run < 5; run++ {
		result := Deduplicate([]Observation{first, second}, MinutePolicy())
		if len(result.Series) != 1 || len(result.Series[0].Observations) != 1 {
			t.Fatalf("expected one representative, got %+v", result.Series)
		}
		if got := result.Series[0].Observations[0].SessionID; got != "session-a" {
			t.Fatalf("expected the earlier input to win the full tie, got %q", got)
		}
	}
}

func TestDeduplicateBucketInvariant(t *testing.T) {
	t.Parallel()

	input := []Observation{
		obs("chill", "de", 12, "2024-01-01T10:00:05Z"),
		obs("chill", "de", 12, "2024-01-01T10:00:42Z"),
		obs("chill", "de", 11, "2024-01-01T10:00:50Z"),
		obs("chill", "de", 12, "2024-01-01T10:01:10Z"),
		obs("beats", "de", 2, "2024-01-01T10:00:05Z"),
		obs("beats", "de", 2, "2024-01-01T11:00:05Z"),
	}

	for _, policy := range []Policy{ExactPolicy(), MinutePolicy(), WindowPolicy(DefaultWindow)} {
		result := Deduplicate(input, policy)
		for _, series := range result.Series {
			seen := map[string]bool{}
			for _, o := range series.Observations {
				key := BucketKey(o, policy)
				if seen[key] {
					t.Fatalf("policy %s: duplicate bucket %q in series %s/%s", policy.Kind, key, series.Keyword, series.Territory)
				}
				seen[key] = true
			}
		}
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	policy, err := ParsePolicy("window", 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy.Kind != PolicyWindow || policy.Window != 10*time.Minute || !policy.PreferBestRank {
		t.Fatalf("unexpected window policy: %+v", policy)
	}

	policy, err = ParsePolicy("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if policy.Kind != PolicyMinute {
		t.Fatalf("expected minute default, got %+v", policy)
	}

	if _, err := ParsePolicy("nuclear", 0); err == nil {
		t.Fatalf("expected unknown policy to fail")
	}
}
