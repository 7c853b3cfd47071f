package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/scoring"
	"github.com/hpungsan/skillminer/internal/session"
)

// ConversationRecord is one indexed conversation.
type ConversationRecord struct {
	Summary     collab.Summary
	SourcePath  string
	Cwd         string
	GitBranch   string
	EndedAt     time.Time
	SourceMTime time.Time
	SourceSize  int64
}

// UpsertConversation stores rec and replaces its invocations in one transaction.
func UpsertConversation(ctx context.Context, db *sql.DB, rec ConversationRecord, invs []session.Invocation, now time.Time) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return errors.NewInternal(err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			id, source_path, project, cwd, git_branch, started_at, ended_at,
			message_count, summary_json, source_mtime, source_size, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_path = excluded.source_path,
			project = excluded.project,
			cwd = excluded.cwd,
			git_branch = excluded.git_branch,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			message_count = excluded.message_count,
			summary_json = excluded.summary_json,
			source_mtime = excluded.source_mtime,
			source_size = excluded.source_size,
			indexed_at = excluded.indexed_at
	`,
		rec.Summary.ConversationID, rec.SourcePath, rec.Summary.Project, rec.Cwd, rec.GitBranch,
		toNullMillis(rec.Summary.StartedAt), toNullMillis(rec.EndedAt),
		rec.Summary.MessageCount, string(summary),
		millis(rec.SourceMTime), rec.SourceSize, millis(now),
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invocations WHERE conversation_id = ?`, rec.Summary.ConversationID); err != nil {
		return errors.NewInternal(err)
	}
	for i, inv := range invs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invocations (conversation_id, seq, skill, fired_at, productive, trigger_text)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.Summary.ConversationID, i, inv.Skill, millis(inv.At), boolInt(inv.Productive), toNullString(inv.Trigger))
		if err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// SourceUnchanged reports whether path was indexed with the same mtime and size.
func SourceUnchanged(ctx context.Context, db *sql.DB, path string, mtime time.Time, size int64) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM conversations
		WHERE source_path = ? AND source_mtime = ? AND source_size = ?
		LIMIT 1
	`, path, millis(mtime), size).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ConversationsInRange returns summaries of conversations that started in
// [start, end) with at least minMessages messages, oldest first.
func ConversationsInRange(ctx context.Context, db *sql.DB, start, end time.Time, minMessages int) ([]collab.Summary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT summary_json FROM conversations
		WHERE started_at IS NOT NULL AND started_at >= ? AND started_at < ? AND message_count >= ?
		ORDER BY started_at ASC, id ASC
	`, millis(start), millis(end), minMessages)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []collab.Summary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewInternal(err)
		}
		var s collab.Summary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// InvocationsSince returns invocations fired at or after since, oldest first.
// A zero since returns the whole log.
func InvocationsSince(ctx context.Context, db *sql.DB, since time.Time) ([]scoring.Invocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT skill, conversation_id, fired_at, productive, trigger_text
		FROM invocations
		WHERE fired_at >= ?
		ORDER BY fired_at ASC, conversation_id ASC, seq ASC
	`, millis(since))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []scoring.Invocation
	for rows.Next() {
		var (
			inv        scoring.Invocation
			firedAt    int64
			productive int
			trigger    sql.NullString
		)
		if err := rows.Scan(&inv.Skill, &inv.ConversationID, &firedAt, &productive, &trigger); err != nil {
			return nil, errors.NewInternal(err)
		}
		inv.At = fromMillis(firedAt)
		inv.Productive = productive != 0
		inv.Trigger = trigger.String
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// IndexStats summarises the index.
type IndexStats struct {
	Conversations int        `json:"conversations"`
	Invocations   int        `json:"invocations"`
	Earliest      *time.Time `json:"earliest,omitempty"`
	Latest        *time.Time `json:"latest,omitempty"`
}

// Stats returns counts and the covered time range.
func Stats(ctx context.Context, db *sql.DB) (*IndexStats, error) {
	var (
		st               IndexStats
		earliest, latest sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(started_at), MAX(started_at) FROM conversations
	`).Scan(&st.Conversations, &earliest, &latest)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&st.Invocations); err != nil {
		return nil, errors.NewInternal(err)
	}
	st.Earliest = fromNullMillis(earliest)
	st.Latest = fromNullMillis(latest)
	return &st, nil
}

// RunRecord is one mining run.
type RunRecord struct {
	ID            string    `json:"id"`
	Command       string    `json:"command"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Windows       int       `json:"windows"`
	Conversations int       `json:"conversations"`
	Committed     int       `json:"committed"`
	Failed        int       `json:"failed"`
	StopReason    string    `json:"stop_reason"`
}

// InsertRun records a finished mining run.
func InsertRun(ctx context.Context, db *sql.DB, r RunRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO mining_runs (
			id, command, started_at, finished_at, windows, conversations, committed, failed, stop_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Command, millis(r.StartedAt), millis(r.FinishedAt),
		r.Windows, r.Conversations, r.Committed, r.Failed, r.StopReason)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, command, started_at, finished_at, windows, conversations, committed, failed, stop_reason
		FROM mining_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Command, &started, &finished,
			&r.Windows, &r.Conversations, &r.Committed, &r.Failed, &r.StopReason); err != nil {
			return nil, errors.NewInternal(err)
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Index adapts the database to the mining and scoring source interfaces.
type Index struct {
	DB *sql.DB
}

// Conversations implements mining.Source.
func (x Index) Conversations(ctx context.Context, start, end time.Time, minMessages int) ([]collab.Summary, error) {
	return ConversationsInRange(ctx, x.DB, start, end, minMessages)
}

// Invocations implements scoring.InvocationSource.
func (x Index) Invocations(ctx context.Context, since time.Time) ([]scoring.Invocation, error) {
	return InvocationsSince(ctx, x.DB, since)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
