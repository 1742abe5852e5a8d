package music

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/hxnx/shilobot/internal/database"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStore_DisabledWithoutBackends(t *testing.T) {
	h := NewHistoryStore(nil, nil, 0, zerolog.Nop())

	assert.False(t, h.Enabled())
	h.RecordPlay("g1", "lofi", "a")

	entries, err := h.Recent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryStore_NilIsDisabled(t *testing.T) {
	var h *HistoryStore

	assert.False(t, h.Enabled())
	h.RecordPlay("g1", "lofi", "a")
}

func TestHistoryStore_RecordRequiresGuild(t *testing.T) {
	h := NewHistoryStore(nil, nil, 5, zerolog.Nop())

	assert.Error(t, h.Record(context.Background(), "", HistoryEntry{Track: "a"}))
	assert.NoError(t, h.Record(context.Background(), "g1", HistoryEntry{Track: "a"}))
}

func TestHistoryKey(t *testing.T) {
	assert.Equal(t, "shilo:history:123", historyKey("123"))
}

func TestDecodeHistoryEntries(t *testing.T) {
	entries, err := decodeHistoryEntries([]string{
		`{"playlist":"lofi","track":"b","played_at":"2024-05-01T10:00:00Z"}`,
		`{"playlist":"lofi","track":"a","played_at":"2024-05-01T09:57:00Z"}`,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Track)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 57, 0, 0, time.UTC), entries[1].PlayedAt)

	_, err = decodeHistoryEntries([]string{"not json"})
	assert.Error(t, err)
}

func TestHistoryListing(t *testing.T) {
	now := time.Now()
	listing := HistoryListing([]HistoryEntry{
		{Playlist: "lofi", Track: "rain", PlayedAt: now.Add(-3 * time.Minute)},
		{Playlist: "battle", Track: "drums", PlayedAt: now.Add(-2 * time.Hour)},
	})

	lines := strings.Split(listing, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Recently played:", lines[0])
	assert.Equal(t, "1.\train \tlofi  \t3 minutes ago", lines[2])
	assert.Equal(t, "2.\tdrums\tbattle\t2 hours ago  ", lines[3])
}

var historyBase = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redislib.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newMockHistoryRepository(t *testing.T) (*database.HistoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return database.NewHistoryRepositoryWithDB(conn), mock
}

func historyTracks(entries []HistoryEntry) []string {
	tracks := make([]string, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, e.Track)
	}
	return tracks
}

func cachedTracks(t *testing.T, mr *miniredis.Miniredis, guildID string) []string {
	t.Helper()
	raw, err := mr.List(historyKey(guildID))
	require.NoError(t, err)
	entries, err := decodeHistoryEntries(raw)
	require.NoError(t, err)
	return historyTracks(entries)
}

func TestHistoryStore_CacheIsCappedNewestFirst(t *testing.T) {
	mr, client := newTestRedis(t)
	h := NewHistoryStore(client, nil, 3, zerolog.Nop())
	require.True(t, h.Enabled())

	for i, track := range []string{"a", "b", "c", "d", "e"} {
		entry := HistoryEntry{Playlist: "lofi", Track: track, PlayedAt: historyBase.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, h.Record(context.Background(), "g1", entry))
	}

	assert.Equal(t, []string{"e", "d", "c"}, cachedTracks(t, mr, "g1"))

	entries, err := h.Recent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, historyTracks(entries))
	assert.Equal(t, historyBase.Add(4*time.Minute), entries[0].PlayedAt)

	entries, err = h.Recent(context.Background(), "g2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistoryStore_RecordWritesBothBackends(t *testing.T) {
	mr, client := newTestRedis(t)
	repo, mock := newMockHistoryRepository(t)
	h := NewHistoryStore(client, repo, 5, zerolog.Nop())

	mock.ExpectExec("INSERT INTO play_history").
		WithArgs("g1", "lofi", "rain", historyBase).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, h.Record(context.Background(), "g1", HistoryEntry{Playlist: "lofi", Track: "rain", PlayedAt: historyBase}))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"rain"}, cachedTracks(t, mr, "g1"))
}

func TestHistoryStore_RecentFallsBackAndWarmsCache(t *testing.T) {
	mr, client := newTestRedis(t)
	repo, mock := newMockHistoryRepository(t)
	h := NewHistoryStore(client, repo, 3, zerolog.Nop())

	mock.ExpectQuery("FROM play_history").
		WithArgs("g1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"playlist", "track", "played_at"}).
			AddRow("lofi", "c", historyBase.Add(2*time.Minute)).
			AddRow("lofi", "b", historyBase.Add(time.Minute)).
			AddRow("lofi", "a", historyBase))

	entries, err := h.Recent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, historyTracks(entries))
	assert.Equal(t, []string{"c", "b", "a"}, cachedTracks(t, mr, "g1"))

	// The second read is served from the warmed cache without a query.
	entries, err = h.Recent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, historyTracks(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_RecentWithRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	repo, mock := newMockHistoryRepository(t)
	h := NewHistoryStore(client, repo, 3, zerolog.Nop())
	mr.Close()

	mock.ExpectQuery("FROM play_history").
		WillReturnRows(sqlmock.NewRows([]string{"playlist", "track", "played_at"}).
			AddRow("lofi", "a", historyBase))

	entries, err := h.Recent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, historyTracks(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_RecentCorruptCache(t *testing.T) {
	mr, client := newTestRedis(t)
	h := NewHistoryStore(client, nil, 3, zerolog.Nop())

	good, err := json.Marshal(HistoryEntry{Playlist: "lofi", Track: "a", PlayedAt: historyBase})
	require.NoError(t, err)
	_, err = mr.Lpush(historyKey("g1"), string(good))
	require.NoError(t, err)
	_, err = mr.Lpush(historyKey("g1"), "{broken")
	require.NoError(t, err)

	_, err = h.Recent(context.Background(), "g1")
	assert.Error(t, err)
}
