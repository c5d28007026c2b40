package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyonlabs/vigil/internal/world"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the archive database at dbPath.
func NewSQLite(dbPath string) (Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps the ingest loop and boot warm-up from tripping over each
	// other.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return a, nil
}

func (a *SQLiteArchive) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		sender_json TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		reply_to_id TEXT,
		PRIMARY KEY (channel_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp);

	CREATE TABLE IF NOT EXISTS action_records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		platform TEXT,
		channel_id TEXT,
		message_id TEXT,
		content TEXT,
		ref TEXT,
		outcome TEXT NOT NULL,
		error_kind TEXT,
		error TEXT,
		attempts INTEGER NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_records_ts ON action_records(timestamp);
	`
	if _, err := a.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) SaveMessage(ctx context.Context, platform world.Platform, channelID string, msg world.Message) error {
	senderJSON, err := json.Marshal(msg.Sender)
	if err != nil {
		return fmt.Errorf("marshal sender: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, channel_id, platform, sender_json, content, timestamp, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, channelID, string(platform), string(senderJSON), msg.Content, msg.Timestamp.UnixMilli(), msg.ReplyToID,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) SaveActionRecord(ctx context.Context, rec world.ActionRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO action_records (id, kind, platform, channel_id, message_id, content, ref, outcome, error_kind, error, attempts, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, string(rec.Platform), rec.ChannelID, rec.MessageID, rec.Content, rec.Ref,
		string(rec.Outcome), rec.ErrorKind, rec.Error, rec.Attempts, rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert action record: %w", err)
	}
	return nil
}

func (a *SQLiteArchive) RecentMessages(ctx context.Context, limit int) ([]ArchivedMessage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, channel_id, platform, sender_json, content, timestamp, reply_to_id
		FROM messages ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var (
			msg        world.Message
			channelID  string
			platform   string
			senderJSON string
			ts         int64
			replyTo    sql.NullString
		)
		if err := rows.Scan(&msg.ID, &channelID, &platform, &senderJSON, &msg.Content, &ts, &replyTo); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if err := json.Unmarshal([]byte(senderJSON), &msg.Sender); err != nil {
			return nil, fmt.Errorf("unmarshal sender: %w", err)
		}
		msg.ChannelID = channelID
		msg.Timestamp = time.UnixMilli(ts)
		msg.ReplyToID = replyTo.String
		out = append(out, ArchivedMessage{
			Platform:  world.Platform(platform),
			ChannelID: channelID,
			Message:   msg,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// The query walked newest-first; replay wants oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (a *SQLiteArchive) RecentActionRecords(ctx context.Context, limit int) ([]world.ActionRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, kind, platform, channel_id, message_id, content, ref, outcome, error_kind, error, attempts, timestamp
		FROM action_records ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query action records: %w", err)
	}
	defer rows.Close()

	var records []world.ActionRecord
	for rows.Next() {
		var (
			rec                               world.ActionRecord
			platform, channelID, messageID    sql.NullString
			content, ref, errorKind, errorMsg sql.NullString
			ts                                int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &platform, &channelID, &messageID, &content, &ref,
			&rec.Outcome, &errorKind, &errorMsg, &rec.Attempts, &ts); err != nil {
			return nil, fmt.Errorf("scan action record row: %w", err)
		}
		rec.Platform = world.Platform(platform.String)
		rec.ChannelID = channelID.String
		rec.MessageID = messageID.String
		rec.Content = content.String
		rec.Ref = ref.String
		rec.ErrorKind = errorKind.String
		rec.Error = errorMsg.String
		rec.Timestamp = time.UnixMilli(ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action records: %w", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
