package payloadschema

import (
	"encoding/json"
	"testing"
)

func TestValidateObservationBatch_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"playlist_id":"37i9dQZF1DX4WYpdgoIcn6",
		"playlist_name":"Chill Hits",
		"playlist_image":"https://i.scdn.co/image/abc123",
		"observations":[
			{"keyword":"chill","position":12,"territory":"de","timestamp":"2024-01-01T10:00:05Z"},
			{"keyword":"chill","position":11,"territory":"de","timestamp":"2024-01-01T11:00:05Z","session_id":"s-1"}
		]
	}`)

	batch, err := ValidateObservationBatch(payload)
	if err != nil {
		t.Fatalf("expected batch to be valid, got error: %v", err)
	}
	if batch.PlaylistID != "37i9dQZF1DX4WYpdgoIcn6" {
		t.Fatalf("unexpected playlist_id: %q", batch.PlaylistID)
	}
	if len(batch.Observations) != 2 {
		t.Fatalf("expected 2 raw observations, got %d", len(batch.Observations))
	}
}

func TestValidateObservationBatch_MissingPlaylistID(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"observations":[]
	}`)

	if _, err := ValidateObservationBatch(payload); err == nil {
		t.Fatalf("expected validation to fail for missing playlist_id")
	}
}

func TestValidateObservationBatch_WrongVersion(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v2",
		"playlist_id":"pl-1",
		"observations":[]
	}`)

	if _, err := ValidateObservationBatch(payload); err == nil {
		t.Fatalf("expected validation to fail for unsupported payload_version")
	}
}

func TestValidateObservationBatch_MalformedEnvelope(t *testing.T) {
	if _, err := ValidateObservationBatch(json.RawMessage(`{"payload_version":"v1"`)); err == nil {
		t.Fatalf("expected truncated JSON to fail")
	}
	if _, err := ValidateObservationBatch(json.RawMessage(`{} trailing`)); err == nil {
		t.Fatalf("expected trailing content to fail")
	}
}

func TestValidateObservationBatch_MalformedObservationDoesNotFailEnvelope(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"playlist_id":"pl-1",
		"observations":[
			{"keyword":"chill","position":"not-a-number","territory":"de","timestamp":"nope"}
		]
	}`)

	batch, err := ValidateObservationBatch(payload)
	if err != nil {
		t.Fatalf("expected envelope to remain valid, got error: %v", err)
	}
	if _, err := ParseObservation(batch.Observations[0]); err == nil {
		t.Fatalf("expected per-observation parse to fail")
	}
}

func TestParseObservation(t *testing.T) {
	o, err := ParseObservation(json.RawMessage(`{
		"keyword":" Chill ",
		"position":12,
		"territory":"DE",
		"timestamp":"2024-01-01T10:00:05Z",
		"user_id":"u-1",
		"session_id":"s-1"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Keyword != "Chill" {
		t.Fatalf("expected trimmed keyword with original casing, got %q", o.Keyword)
	}
	if o.Territory != "DE" {
		t.Fatalf("expected territory passed through raw, got %q", o.Territory)
	}
	if o.Position != 12 {
		t.Fatalf("unexpected position: %d", o.Position)
	}

	if _, err := ParseObservation(json.RawMessage(`{"keyword":"chill","position":0,"territory":"de","timestamp":"2024-01-01T10:00:05Z"}`)); err == nil {
		t.Fatalf("expected position 0 to fail")
	}
	if _, err := ParseObservation(json.RawMessage(`{"keyword":"","position":3,"territory":"de","timestamp":"2024-01-01T10:00:05Z"}`)); err == nil {
		t.Fatalf("expected empty keyword to fail")
	}
	if _, err := ParseObservation(json.RawMessage(`{"keyword":"chill","position":3,"territory":"de","timestamp":"January 1st"}`)); err == nil {
		t.Fatalf("expected invalid timestamp to fail")
	}
}
