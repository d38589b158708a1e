package ranking

import (
	"fmt"
	"testing"
	"time"
)

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	batch := []Observation{
		obs("chill", "de", 12, "2024-01-01T10:00:42Z"),
		obs("chill", "de", 11, "2024-01-01T11:00:00Z"),
	}

	record := NewPlaylistRecord("pl-1")
	first := record.Merge(batch, BatchMeta{Name: "Chill Mix"}, now)
	if first.Added != 2 || first.Duplicates != 0 {
		t.Fatalf("unexpected first merge outcome: %+v", first)
	}

	second := record.Merge(batch, BatchMeta{Name: "Chill Mix"}, now.Add(time.Hour))
	if second.Added != 0 || second.Duplicates != 2 {
		t.Fatalf("expected re-ingest to be a no-op, got %+v", second)
	}
	if len(record.Keywords) != 2 {
		t.Fatalf("expected 2 observations after double merge, got %d", len(record.Keywords))
	}
}

func TestMergeCommutesForDisjointBatches(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	batchA := []Observation{
		obs("chill", "de", 12, "2024-01-01T10:00:00Z"),
		obs("chill", "de", 10, "2024-01-02T10:00:00Z"),
	}
	batchB := []Observation{
		obs("focus", "us", 3, "2024-01-01T12:00:00Z"),
	}

	left := NewPlaylistRecord("pl-1")
	left.Merge(batchA, BatchMeta{}, now)
	left.Merge(batchB, BatchMeta{}, now)

	right := NewPlaylistRecord("pl-1")
	right.Merge(batchB, BatchMeta{}, now)
	right.Merge(batchA, BatchMeta{}, now)

	if len(left.Keywords) != len(right.Keywords) {
		t.Fatalf("merge order changed cardinality: %d vs %d", len(left.Keywords), len(right.Keywords))
	}
	for i := range left.Keywords {
		if ExactKey(left.Keywords[i]) != ExactKey(right.Keywords[i]) {
			t.Fatalf("merge order changed element %d: %+v vs %+v", i, left.Keywords[i], right.Keywords[i])
		}
	}
}

func TestMergeRetentionCapDropsOldest(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	base := ts("2024-01-01T00:00:00Z")

	record := NewPlaylistRecord("pl-1")
	batch := make([]Observation, 0, PlaylistRetentionCap+50)
	for i := 0; i < PlaylistRetentionCap+50; i++ {
		batch = append(batch, Observation{
			Keyword:   fmt.Sprintf("kw-%d", i),
			Territory: "de",
			Position:  i%40 + 1,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}

	outcome := record.Merge(batch, BatchMeta{}, now)
	if outcome.Truncated != 50 {
		t.Fatalf("expected 50 truncated, got %d", outcome.Truncated)
	}
	if len(record.Keywords) != PlaylistRetentionCap {
		t.Fatalf("expected exactly %d retained, got %d", PlaylistRetentionCap, len(record.Keywords))
	}

	oldestKept := record.Keywords[0].Timestamp
	if oldestKept.Before(base.Add(50 * time.Hour)) {
		t.Fatalf("expected the 50 oldest observations to be dropped, oldest kept %v", oldestKept)
	}
}

func TestMergeMetadataNeverOverwritesPresentValues(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	record := NewPlaylistRecord("pl-1")

	record.Merge(nil, BatchMeta{Name: "Chill Mix", Image: "https://img.example/1.jpg"}, now)
	if record.Name != "Chill Mix" || record.Image != "https://img.example/1.jpg" {
		t.Fatalf("expected metadata to be filled when absent, got %+v", record)
	}

	record.Merge(nil, BatchMeta{Name: "Renamed", Image: ""}, now)
	if record.Name != "Chill Mix" {
		t.Fatalf("expected present name to be kept, got %q", record.Name)
	}
	if record.Image != "https://img.example/1.jpg" {
		t.Fatalf("expected absent incoming image to keep existing, got %q", record.Image)
	}
	if !record.LastUpdated.Equal(now) {
		t.Fatalf("expected last_updated to track the ingestion instant, got %v", record.LastUpdated)
	}
}

func TestRemoveKeyword(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	record := NewPlaylistRecord("pl-1")
	record.Merge([]Observation{
		obs("chill", "de", 12, "2024-01-01T10:00:00Z"),
		obs("chill", "us", 4, "2024-01-01T10:00:00Z"),
		obs("focus", "de", 2, "2024-01-01T10:00:00Z"),
	}, BatchMeta{}, now)

	if removed := record.RemoveKeyword("CHILL", "de", now); removed != 1 {
		t.Fatalf("expected 1 removed for chill/de, got %d", removed)
	}
	if removed := record.RemoveKeyword("chill", "", now); removed != 1 {
		t.Fatalf("expected remaining chill territories removed, got %d", removed)
	}
	if len(record.Keywords) != 1 || record.Keywords[0].Keyword != "focus" {
		t.Fatalf("unexpected survivors: %+v", record.Keywords)
	}
}

func TestGroupSeriesSplitsFlattenedRecord(t *testing.T) {
	t.Parallel()

	now := ts("2024-02-01T00:00:00Z")
	record := NewPlaylistRecord("pl-1")
	record.Merge([]Observation{
		obs("chill", "de", 12, "2024-01-02T10:00:00Z"),
		obs("chill", "de", 10, "2024-01-01T10:00:00Z"),
		obs("focus", "us", 3, "2024-01-01T10:00:00Z"),
	}, BatchMeta{}, now)

	series := record.GroupSeries()
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(series))
	}
	chill := series[0]
	if chill.Keyword != "chill" || chill.Territory != "de" {
		t.Fatalf("unexpected first series: %+v", chill)
	}
	if len(chill.Observations) != 2 || !chill.Observations[0].Timestamp.Before(chill.Observations[1].Timestamp) {
		t.Fatalf("expected timestamp-ascending series, got %+v", chill.Observations)
	}
}
