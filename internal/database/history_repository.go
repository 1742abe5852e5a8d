package database

import (
	"context"
	"database/sql"
	"time"
)

const historyRepoTimeout = 2 * time.Second

type PlayRecord struct {
	GuildID  string
	Playlist string
	Track    string
	PlayedAt time.Time
}

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository() *HistoryRepository {
	return NewHistoryRepositoryWithDB(GetDB())
}

// NewHistoryRepositoryWithDB uses conn instead of the shared connection.
func NewHistoryRepositoryWithDB(conn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: conn}
}

func (r *HistoryRepository) Enabled() bool {
	return r != nil && r.db != nil
}

func (r *HistoryRepository) Insert(ctx context.Context, rec PlayRecord) error {
	if !r.Enabled() {
		return nil
	}
	if rec.GuildID == "" || rec.Track == "" {
		return nil
	}
	if rec.PlayedAt.IsZero() {
		rec.PlayedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		INSERT INTO play_history (guild_id, playlist, track, played_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, rec.GuildID, rec.Playlist, rec.Track, rec.PlayedAt)
	return err
}

// Recent returns up to limit records of guildID, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, guildID string, limit int) ([]PlayRecord, error) {
	if !r.Enabled() || guildID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, historyRepoTimeout)
	defer cancel()

	const query = `
		SELECT playlist, track, played_at
		FROM play_history
		WHERE guild_id = $1
		ORDER BY played_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PlayRecord
	for rows.Next() {
		rec := PlayRecord{GuildID: guildID}
		if err := rows.Scan(&rec.Playlist, &rec.Track, &rec.PlayedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
