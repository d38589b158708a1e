package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/rankwatch/internal/globaltime"
	"horse.fit/rankwatch/internal/metrics"
	"horse.fit/rankwatch/internal/ranking"
	"horse.fit/rankwatch/internal/store"
	"horse.fit/rankwatch/internal/territory"
	payloadschema "horse.fit/rankwatch/schema"
)

// recoverConcurrency bounds parallel playlist rebuilds during RecoverAll.
const recoverConcurrency = 4

// ErrInvalidTerritory marks a territory filter that does not normalize to a
// two-letter code. Filters are never silently widened.
var ErrInvalidTerritory = errors.New("invalid territory filter")

// Storage is the store surface the service needs. *store.Store satisfies it;
// tests substitute an in-memory implementation.
type Storage interface {
	GetPlaylist(ctx context.Context, playlistID string) (*ranking.PlaylistRecord, error)
	PutPlaylist(ctx context.Context, record *ranking.PlaylistRecord) error
	DeletePlaylist(ctx context.Context, playlistID string) error
	ListPlaylistIDs(ctx context.Context) ([]string, error)
	AppendHistory(ctx context.Context, playlistID, keyword, territory string, entries []ranking.HistoryEntry) error
	GetHistory(ctx context.Context, playlistID, keyword, territory string) ([]ranking.HistoryEntry, int, error)
	ListHistoryKeys(ctx context.Context, playlistID string) ([]store.HistoryKeyRef, error)
	DeleteHistory(ctx context.Context, playlistID, keyword, territory string) error
	AcquireLock(ctx context.Context, playlistID string) (func(context.Context) error, error)
}

// Service runs ranking ingestion: per-observation validation, deduplication,
// canonical merge, history log appends, and record reconstruction.
type Service struct {
	storage Storage
	logger  zerolog.Logger
	policy  ranking.Policy
}

func NewService(storage Storage, logger zerolog.Logger, policy ranking.Policy) *Service {
	return &Service{
		storage: storage,
		logger:  logger.With().Str("component", "ingest").Logger(),
		policy:  policy,
	}
}

// Result summarizes one ingestion run.
type Result struct {
	RunUUID         string         `json:"run_uuid"`
	PlaylistID      string         `json:"playlist_id"`
	Received        int            `json:"received"`
	Accepted        int            `json:"accepted"`
	Duplicates      int            `json:"duplicates"`
	Rejected        int            `json:"rejected"`
	RejectedReasons map[string]int `json:"rejected_reasons,omitempty"`
	Truncated       int            `json:"truncated"`
}

// IngestBatch merges a validated batch into its playlist's canonical record.
// Per-observation failures are skipped and counted; the only hard failures
// are storage errors and a held merge lock (store.ErrLockHeld), which the
// caller may retry.
func (s *Service) IngestBatch(ctx context.Context, batch *payloadschema.Batch) (Result, error) {
	runUUID := uuid.NewString()
	result := Result{
		RunUUID:         runUUID,
		PlaylistID:      batch.PlaylistID,
		Received:        len(batch.Observations),
		RejectedReasons: map[string]int{},
	}

	logger := s.logger.With().
		Str("run_uuid", runUUID).
		Str("playlist_id", batch.PlaylistID).
		Logger()

	parsed := make([]ranking.Observation, 0, len(batch.Observations))
	for _, raw := range batch.Observations {
		o, err := payloadschema.ParseObservation(raw)
		if err != nil {
			result.Rejected++
			result.RejectedReasons[ranking.ReasonMalformed]++
			logger.Debug().Err(err).Msg("skipping malformed observation")
			continue
		}
		parsed = append(parsed, o)
	}

	release, err := s.storage.AcquireLock(ctx, batch.PlaylistID)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			metrics.RecordMergeConflict()
			logger.Warn().Msg("merge lock held, batch not applied")
		}
		return result, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to release merge lock")
		}
	}()

	record, err := s.storage.GetPlaylist(ctx, batch.PlaylistID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return result, fmt.Errorf("load playlist: %w", err)
		}
		record = ranking.NewPlaylistRecord(batch.PlaylistID)
	}

	preExisting := make(map[string]struct{}, len(record.Keywords))
	for _, o := range record.Keywords {
		preExisting[ranking.ExactKey(o)] = struct{}{}
	}

	deduped := ranking.Deduplicate(parsed, s.policy)
	result.Duplicates += deduped.Duplicates
	result.Rejected += deduped.Rejected
	for reason, count := range deduped.RejectedReasons {
		result.RejectedReasons[reason] += count
	}

	meta := ranking.BatchMeta{}
	if batch.PlaylistName != nil {
		meta.Name = *batch.PlaylistName
	}
	if batch.PlaylistImage != nil {
		meta.Image = *batch.PlaylistImage
	}

	outcome := record.Merge(ranking.Flatten(deduped.Series), meta, globaltime.Now())
	result.Accepted = outcome.Added
	result.Duplicates += outcome.Duplicates
	result.Truncated = outcome.Truncated

	// Only genuinely new observations reach the append-only logs, so
	// re-ingesting a batch leaves the logs untouched as well.
	for _, series := range deduped.Series {
		entries := make([]ranking.HistoryEntry, 0, len(series.Observations))
		for _, o := range series.Observations {
			if _, seen := preExisting[ranking.ExactKey(o)]; seen {
				continue
			}
			entries = append(entries, ranking.HistoryEntry{
				Position:  o.Position,
				Timestamp: o.Timestamp,
			})
		}
		if err := s.storage.AppendHistory(ctx, batch.PlaylistID, series.Keyword, series.Territory, entries); err != nil {
			return result, fmt.Errorf("append history for %q/%s: %w", series.Keyword, series.Territory, err)
		}
	}

	if err := s.storage.PutPlaylist(ctx, record); err != nil {
		return result, fmt.Errorf("store playlist: %w", err)
	}

	metrics.RecordAccepted(result.Accepted)
	metrics.RecordDeduplicated(result.Duplicates)
	metrics.RecordTruncated(result.Truncated)
	for reason, count := range result.RejectedReasons {
		metrics.RecordRejected(reason, count)
	}
	metrics.RecordMergeCompleted()

	logger.Info().
		Int("received", result.Received).
		Int("accepted", result.Accepted).
		Int("duplicates", result.Duplicates).
		Int("rejected", result.Rejected).
		Int("truncated", result.Truncated).
		Msg("batch merged")

	return result, nil
}

// RecoverResult summarizes one playlist reconstruction.
type RecoverResult struct {
	PlaylistID      string         `json:"playlist_id"`
	Logs            int            `json:"logs"`
	Accepted        int            `json:"accepted"`
	Duplicates      int            `json:"duplicates"`
	Rejected        int            `json:"rejected"`
	RejectedReasons map[string]int `json:"rejected_reasons,omitempty"`
	SkippedEntries  int            `json:"skipped_entries"`
}

// RecoverPlaylist rebuilds a playlist's canonical record from its append-only
// history logs, replacing whatever record currently exists. Display metadata
// from the existing record is preserved when present.
func (s *Service) RecoverPlaylist(ctx context.Context, playlistID string) (RecoverResult, error) {
	result := RecoverResult{PlaylistID: playlistID}

	release, err := s.storage.AcquireLock(ctx, playlistID)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			metrics.RecordMergeConflict()
		}
		return result, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("failed to release merge lock")
		}
	}()

	existingName, existingImage := "", ""
	if existing, err := s.storage.GetPlaylist(ctx, playlistID); err == nil {
		existingName, existingImage = existing.Name, existing.Image
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn().Err(err).Str("playlist_id", playlistID).Msg("existing record unreadable, rebuilding from logs alone")
	}

	refs, err := s.storage.ListHistoryKeys(ctx, playlistID)
	if err != nil {
		return result, fmt.Errorf("list history logs: %w", err)
	}
	result.Logs = len(refs)

	logs := make([]ranking.KeywordLog, 0, len(refs))
	for _, ref := range refs {
		entries, skipped, err := s.storage.GetHistory(ctx, playlistID, ref.Keyword, ref.Territory)
		if err != nil {
			return result, fmt.Errorf("read history %q/%s: %w", ref.Keyword, ref.Territory, err)
		}
		result.SkippedEntries += skipped
		logs = append(logs, ranking.KeywordLog{
			Keyword:   ref.Keyword,
			Territory: ref.Territory,
			Entries:   entries,
		})
	}

	rebuilt := ranking.Reconstruct(playlistID, existingName, existingImage, logs, s.policy, globaltime.Now())
	result.Accepted = rebuilt.Accepted
	result.Duplicates = rebuilt.Duplicates
	result.Rejected = rebuilt.Rejected
	result.RejectedReasons = rebuilt.RejectedReasons

	if err := s.storage.PutPlaylist(ctx, rebuilt.Record); err != nil {
		return result, fmt.Errorf("store rebuilt playlist: %w", err)
	}

	metrics.RecordRecoveryCompleted()
	s.logger.Info().
		Str("playlist_id", playlistID).
		Int("logs", result.Logs).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Int("skipped_entries", result.SkippedEntries).
		Msg("playlist rebuilt from history logs")

	return result, nil
}

// RecoverAll rebuilds every playlist found in the store. Rebuilds run in
// parallel with bounded concurrency; the first hard failure cancels the rest.
func (s *Service) RecoverAll(ctx context.Context) ([]RecoverResult, error) {
	ids, err := s.storage.ListPlaylistIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}

	var mu sync.Mutex
	results := make([]RecoverResult, 0, len(ids))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(recoverConcurrency)
	for _, id := range ids {
		id := id
		group.Go(func() error {
			result, err := s.RecoverPlaylist(groupCtx, id)
			if err != nil {
				return fmt.Errorf("recover %s: %w", id, err)
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PlaylistID < results[j].PlaylistID
	})
	return results, nil
}

// DeleteKeyword removes every observation and history log for a keyword,
// optionally limited to one territory. An invalid territory filter is an
// error, never silently widened to all territories.
func (s *Service) DeleteKeyword(ctx context.Context, playlistID, keyword, territoryRaw string) (int, error) {
	territoryCode := ""
	if territoryRaw != "" {
		code, ok := territory.Normalize(territoryRaw)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTerritory, territoryRaw)
		}
		territoryCode = code
	}

	release, err := s.storage.AcquireLock(ctx, playlistID)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			metrics.RecordMergeConflict()
		}
		return 0, err
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.Error().Err(err).Str("playlist_id", playlistID).Msg("failed to release merge lock")
		}
	}()

	record, err := s.storage.GetPlaylist(ctx, playlistID)
	if err != nil {
		return 0, err
	}

	removed := record.RemoveKeyword(keyword, territoryCode, globaltime.Now())
	if removed == 0 {
		return 0, nil
	}

	if err := s.storage.PutPlaylist(ctx, record); err != nil {
		return removed, fmt.Errorf("store playlist: %w", err)
	}

	refs, err := s.storage.ListHistoryKeys(ctx, playlistID)
	if err != nil {
		return removed, fmt.Errorf("list history logs: %w", err)
	}
	target := normalizeKeyword(keyword)
	for _, ref := range refs {
		if normalizeKeyword(ref.Keyword) != target {
			continue
		}
		if territoryCode != "" && ref.Territory != territoryCode {
			continue
		}
		if err := s.storage.DeleteHistory(ctx, playlistID, ref.Keyword, ref.Territory); err != nil {
			return removed, fmt.Errorf("delete history %q/%s: %w", ref.Keyword, ref.Territory, err)
		}
	}

	s.logger.Info().
		Str("playlist_id", playlistID).
		Str("keyword", keyword).
		Str("territory", territoryCode).
		Int("removed", removed).
		Msg("keyword removed")

	return removed, nil
}

// IngestPayload validates a raw JSON envelope and ingests it. Envelope
// problems are hard failures; everything per-observation is skip-and-count.
func (s *Service) IngestPayload(ctx context.Context, payload json.RawMessage) (Result, error) {
	batch, err := payloadschema.ValidateObservationBatch(payload)
	if err != nil {
		return Result{}, err
	}
	return s.IngestBatch(ctx, batch)
}

func normalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}
