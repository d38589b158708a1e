package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"horse.fit/rankwatch/internal/config"
	"horse.fit/rankwatch/internal/ranking"
)

var (
	// ErrNotFound is returned when a playlist record does not exist.
	ErrNotFound = errors.New("playlist not found")

	// ErrLockHeld is returned when another merge holds the playlist lock.
	// The caller should retry; it must never merge anyway.
	ErrLockHeld = errors.New("playlist merge lock held")
)

// releaseLockScript deletes the lock only when it still carries our token,
// so an expired-and-reacquired lock is never released by the old holder.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Store wraps the Redis key-value client behind the operations the ranking
// engine needs: last-write-wins playlist records, append-only keyword
// history logs, and advisory per-playlist merge locks.
type Store struct {
	client  *redis.Client
	lockTTL time.Duration
}

func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{
		client:  client,
		lockTTL: cfg.MergeLockTTL(),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func (s *Store) GetPlaylist(ctx context.Context, playlistID string) (*ranking.PlaylistRecord, error) {
	raw, err := s.client.Get(ctx, playlistKey(playlistID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get playlist %s: %w", playlistID, err)
	}

	var record ranking.PlaylistRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode playlist %s: %w", playlistID, err)
	}
	if record.Keywords == nil {
		record.Keywords = []ranking.Observation{}
	}
	return &record, nil
}

func (s *Store) PutPlaylist(ctx context.Context, record *ranking.PlaylistRecord) error {
	if record == nil || strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("playlist record must have an id")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode playlist %s: %w", record.ID, err)
	}
	if err := s.client.Set(ctx, playlistKey(record.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("put playlist %s: %w", record.ID, err)
	}
	return nil
}

func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	if err := s.client.Del(ctx, playlistKey(playlistID)).Err(); err != nil {
		return fmt.Errorf("delete playlist %s: %w", playlistID, err)
	}
	return nil
}

// ListPlaylistIDs scans the playlist key space and returns ids sorted.
func (s *Store) ListPlaylistIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, 32)
	iter := s.client.Scan(ctx, 0, playlistKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), playlistKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan playlists: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendHistory pushes log entries for one (keyword, territory) tuple,
// newest first, and trims the log to its retention cap. Entries must be
// passed oldest first; they are pushed in order so the most recent ends up at
// the head of the list.
func (s *Store) AppendHistory(ctx context.Context, playlistID, keyword, territory string, entries []ranking.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	key := historyKey(playlistID, keyword, territory)
	values := make([]any, 0, len(entries))
	for _, entry := range entries {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		values = append(values, raw)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, values...)
	pipe.LTrim(ctx, key, 0, ranking.HistoryLogCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history %s: %w", key, err)
	}
	return nil
}

// GetHistory returns the log for one (keyword, territory) tuple, newest
// first as stored, along with the count of entries that failed to decode.
// Unparseable entries are skipped, never fatal.
func (s *Store) GetHistory(ctx context.Context, playlistID, keyword, territory string) ([]ranking.HistoryEntry, int, error) {
	key := historyKey(playlistID, keyword, territory)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("read history %s: %w", key, err)
	}

	entries := make([]ranking.HistoryEntry, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var entry ranking.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}

// ListHistoryKeys scans the history key space for one playlist and returns
// the (keyword, territory) identities found, sorted.
func (s *Store) ListHistoryKeys(ctx context.Context, playlistID string) ([]HistoryKeyRef, error) {
	pattern := historyKeyPrefix + strings.TrimSpace(playlistID) + ":*"
	refs := make([]HistoryKeyRef, 0, 16)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if ref, ok := parseHistoryKey(iter.Val(), playlistID); ok {
			refs = append(refs, ref)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan history keys for %s: %w", playlistID, err)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Keyword != refs[j].Keyword {
			return refs[i].Keyword < refs[j].Keyword
		}
		return refs[i].Territory < refs[j].Territory
	})
	return refs, nil
}

func (s *Store) DeleteHistory(ctx context.Context, playlistID, keyword, territory string) error {
	key := historyKey(playlistID, keyword, territory)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete history %s: %w", key, err)
	}
	return nil
}

// AcquireLock takes the advisory per-playlist merge lock. It returns a
// release function, or ErrLockHeld when another merge is in flight. The lock
// expires on its own should the holder die.
func (s *Store) AcquireLock(ctx context.Context, playlistID string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(playlistID), token, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", playlistID, err)
	}
	if !ok {
		return nil, fmt.Errorf("playlist %s: %w", playlistID, ErrLockHeld)
	}

	release := func(ctx context.Context) error {
		if err := s.client.Eval(ctx, releaseLockScript, []string{lockKey(playlistID)}, token).Err(); err != nil {
			return fmt.Errorf("release lock for %s: %w", playlistID, err)
		}
		return nil
	}
	return release, nil
}
