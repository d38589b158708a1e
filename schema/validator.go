package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/rankwatch/internal/ranking"
)

//go:embed observation_batch.schema.json
var observationBatchSchemaJSON string

// ErrInvalidPayload marks envelope-level validation failures, so callers can
// tell a bad request apart from infrastructure errors.
var ErrInvalidPayload = errors.New("invalid batch payload")

// Batch is a validated ingestion envelope. Observations are kept raw on
// purpose: one malformed observation must not fail the whole batch, so each
// element is parsed individually with ParseObservation.
type Batch struct {
	PayloadVersion string            `json:"payload_version"`
	PlaylistID     string            `json:"playlist_id"`
	PlaylistName   *string           `json:"playlist_name,omitempty"`
	PlaylistImage  *string           `json:"playlist_image,omitempty"`
	Observations   []json.RawMessage `json:"observations"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateObservationBatch validates the batch envelope. Envelope problems
// are hard failures; per-observation validity is checked later, element by
// element.
func ValidateObservationBatch(payload json.RawMessage) (*Batch, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode batch JSON: %v", ErrInvalidPayload, err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize batch JSON: %w", err)
	}

	var batch Batch
	if err := json.Unmarshal(normalized, &batch); err != nil {
		return nil, fmt.Errorf("%w: unmarshal batch: %v", ErrInvalidPayload, err)
	}

	if strings.TrimSpace(batch.PlaylistID) == "" {
		return nil, fmt.Errorf("%w: playlist_id must not be empty", ErrInvalidPayload)
	}

	return &batch, nil
}

type rawObservation struct {
	Keyword   string      `json:"keyword"`
	Position  json.Number `json:"position"`
	Territory string      `json:"territory"`
	Timestamp string      `json:"timestamp"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
}

// ParseObservation converts one raw batch element into a typed observation.
// The territory is passed through untouched; normalization (and rejection of
// invalid codes) belongs to the deduplication engine.
func ParseObservation(raw json.RawMessage) (ranking.Observation, error) {
	var o rawObservation
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&o); err != nil {
		return ranking.Observation{}, fmt.Errorf("decode observation: %w", err)
	}

	keyword := strings.TrimSpace(o.Keyword)
	if keyword == "" {
		return ranking.Observation{}, fmt.Errorf("keyword must not be empty")
	}

	position, err := o.Position.Int64()
	if err != nil {
		return ranking.Observation{}, fmt.Errorf("position must be an integer: %w", err)
	}
	if position < 1 {
		return ranking.Observation{}, fmt.Errorf("position must be >= 1, got %d", position)
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(o.Timestamp))
	if err != nil {
		return ranking.Observation{}, fmt.Errorf("timestamp must be RFC3339: %w", err)
	}

	return ranking.Observation{
		Keyword:   keyword,
		Territory: o.Territory,
		Position:  int(position),
		Timestamp: ts.UTC(),
		UserID:    strings.TrimSpace(o.UserID),
		SessionID: strings.TrimSpace(o.SessionID),
	}, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("observation_batch.schema.json", strings.NewReader(observationBatchSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("observation_batch.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
