package store

import (
	"fmt"
	"strings"
)

const (
	playlistKeyPrefix = "rankwatch:playlist:"
	historyKeyPrefix  = "rankwatch:history:"
	lockKeyPrefix     = "rankwatch:lock:"
)

func playlistKey(playlistID string) string {
	return playlistKeyPrefix + strings.TrimSpace(playlistID)
}

func historyKey(playlistID, keyword, territory string) string {
	return fmt.Sprintf("%s%s:%s:%s",
		historyKeyPrefix,
		strings.TrimSpace(playlistID),
		strings.ToLower(strings.TrimSpace(keyword)),
		strings.ToLower(strings.TrimSpace(territory)),
	)
}

func lockKey(playlistID string) string {
	return lockKeyPrefix + strings.TrimSpace(playlistID)
}

// HistoryKeyRef is the (keyword, territory) identity recovered from a history
// log key.
type HistoryKeyRef struct {
	Keyword   string
	Territory string
}

// parseHistoryKey recovers the (keyword, territory) identity from a full
// history key. Keywords may themselves contain colons, so the territory is
// split off from the right.
func parseHistoryKey(key, playlistID string) (HistoryKeyRef, bool) {
	prefix := historyKeyPrefix + strings.TrimSpace(playlistID) + ":"
	if !strings.HasPrefix(key, prefix) {
		return HistoryKeyRef{}, false
	}
	rest := strings.TrimPrefix(key, prefix)
	sep := strings.LastIndex(rest, ":")
	if sep <= 0 || sep == len(rest)-1 {
		return HistoryKeyRef{}, false
	}
	return HistoryKeyRef{
		Keyword:   rest[:sep],
		Territory: rest[sep+1:],
	}, true
}
