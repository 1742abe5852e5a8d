package music

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hxnx/shilobot/internal/database"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	historyKeyPrefix    = "shilo:history:"
	DefaultHistoryLimit = 10
	historyWriteTimeout = 3 * time.Second
)

type HistoryEntry struct {
	Playlist string    `json:"playlist"`
	Track    string    `json:"track"`
	PlayedAt time.Time `json:"played_at"`
}

// HistoryStore records started tracks in Postgres and keeps the most recent
// ones of every guild in a capped Redis list. Either backend may be nil.
type HistoryStore struct {
	client *redislib.Client
	repo   *database.HistoryRepository
	limit  int64
	logger zerolog.Logger
}

func NewHistoryStore(client *redislib.Client, repo *database.HistoryRepository, limit int, logger zerolog.Logger) *HistoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStore{
		client: client,
		repo:   repo,
		limit:  int64(limit),
		logger: logger,
	}
}

func (h *HistoryStore) Enabled() bool {
	return h != nil && (h.client != nil || h.repo.Enabled())
}

// RecordPlay stores the entry in the background so the guild goroutine never
// waits on the network.
func (h *HistoryStore) RecordPlay(guildID, playlist, track string) {
	if !h.Enabled() {
		return
	}

	entry := HistoryEntry{Playlist: playlist, Track: track, PlayedAt: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()

		if err := h.Record(ctx, guildID, entry); err != nil {
			h.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to record play history")
		}
	}()
}

func (h *HistoryStore) Record(ctx context.Context, guildID string, entry HistoryEntry) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}

	if h.repo.Enabled() {
		err := h.repo.Insert(ctx, database.PlayRecord{
			GuildID:  guildID,
			Playlist: entry.Playlist,
			Track:    entry.Track,
			PlayedAt: entry.PlayedAt,
		})
		if err != nil {
			return fmt.Errorf("insert play history: %w", err)
		}
	}

	if h.client != nil {
		if err := h.push(ctx, guildID, entry); err != nil {
			return fmt.Errorf("cache play history: %w", err)
		}
	}
	return nil
}

func (h *HistoryStore) push(ctx context.Context, guildID string, entries ...HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	payloads := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		payloads = append(payloads, b)
	}

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, historyKey(guildID), payloads...)
	pipe.LTrim(ctx, historyKey(guildID), 0, h.limit-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Recent returns the latest entries of guildID, newest first. The Redis list
// is tried first; on a miss the entries come from Postgres and are cached.
func (h *HistoryStore) Recent(ctx context.Context, guildID string) ([]HistoryEntry, error) {
	if !h.Enabled() {
		return nil, nil
	}

	if h.client != nil {
		raw, err := h.client.LRange(ctx, historyKey(guildID), 0, h.limit-1).Result()
		if err != nil {
			h.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to read cached history")
		} else if len(raw) > 0 {
			return decodeHistoryEntries(raw)
		}
	}

	records, err := h.repo.Recent(ctx, guildID, int(h.limit))
	if err != nil {
		return nil, err
	}

	entries := lo.Map(records, func(r database.PlayRecord, _ int) HistoryEntry {
		return HistoryEntry{Playlist: r.Playlist, Track: r.Track, PlayedAt: r.PlayedAt}
	})

	if h.client != nil && len(entries) > 0 {
		// LPUSH reverses, so push oldest first.
		if err := h.push(ctx, guildID, lo.Reverse(append([]HistoryEntry(nil), entries...))...); err != nil {
			h.logger.Warn().Err(err).Str("guild", guildID).Msg("failed to warm history cache")
		}
	}
	return entries, nil
}

// HistoryListing renders entries as a numbered table with relative times.
func HistoryListing(entries []HistoryEntry) string {
	rows := lo.Map(entries, func(e HistoryEntry, i int) []string {
		return []string{strconv.Itoa(i+1) + ".", e.Track, e.Playlist, humanize.Time(e.PlayedAt)}
	})
	return "Recently played:\n\n" + FormatTable(rows, defaultWrapWidth)
}

func historyKey(guildID string) string {
	return historyKeyPrefix + guildID
}

func decodeHistoryEntries(raw []string) ([]HistoryEntry, error) {
	entries := make([]HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
