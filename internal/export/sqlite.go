package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/aniasusual/blind/internal/domain"
)

// WriteSQLite persists a snapshot into a SQLite database at path. The
// database is self-describing: a snapshots row records the schema version
// and ids, and events/files/transitions tables hold the log.
func WriteSQLite(ctx context.Context, path string, snap *Snapshot) error {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, version, session_id, created_at, evicted_events)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.Version, snap.SessionID, snap.CreatedAt, snap.Evicted)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for _, ev := range snap.Events {
		var payload *string
		if ev.Payload != nil {
			b, _ := json.Marshal(ev.Payload)
			s := string(b)
			payload = &s
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (snapshot_id, event_id, timestamp, category, file_id, line_number,
			                     function_name, class_name, module_name, line_text, stack_depth,
			                     parent_event_id, scope_id, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SnapshotID, ev.EventID, ev.Timestamp, string(ev.Category), ev.FileID, ev.Line,
			ev.Function, ev.Class, ev.Module, ev.LineText, ev.Depth,
			ev.ParentEventID, ev.ScopeID, payload)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", ev.EventID, err)
		}
	}

	for _, sf := range snap.Files {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO files (snapshot_id, file_id, absolute_path, relative_path, text,
			                    line_count, first_seen_event_id, unavailable)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.SnapshotID, sf.FileID, sf.AbsolutePath, sf.RelativePath, sf.Text,
			sf.LineCount, sf.FirstSeenEventID, sf.Unavailable)
		if err != nil {
			return fmt.Errorf("insert file %d: %w", sf.FileID, err)
		}
	}

	for _, tr := range snap.Transitions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO transitions (snapshot_id, from_file_id, to_file_id, before_event_id, after_event_id)
			 VALUES (?, ?, ?, ?, ?)`,
			snap.SnapshotID, tr.FromFileID, tr.ToFileID, tr.BeforeEventID, tr.AfterEventID)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}

	return tx.Commit()
}

// ReadSQLite loads the snapshot with the given id, or the only snapshot in
// the database when id is empty.
func ReadSQLite(ctx context.Context, path, id string) (*Snapshot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `
		SELECT id, version, session_id, created_at, evicted_events
		FROM snapshots WHERE (? = '' OR id = ?)
		ORDER BY created_at DESC LIMIT 1`, id, id)

	snap := &Snapshot{}
	if err := row.Scan(&snap.SnapshotID, &snap.Version, &snap.SessionID, &snap.CreatedAt, &snap.Evicted); err != nil {
		return nil, fmt.Errorf("snapshot not found: %w", err)
	}
	if snap.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT event_id, timestamp, category, file_id, line_number, function_name,
		       class_name, module_name, line_text, stack_depth, parent_event_id, scope_id, payload
		FROM events WHERE snapshot_id = ? ORDER BY event_id`, snap.SnapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ev domain.Event
		var category string
		var payload sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.Timestamp, &category, &ev.FileID, &ev.Line,
			&ev.Function, &ev.Class, &ev.Module, &ev.LineText, &ev.Depth,
			&ev.ParentEventID, &ev.ScopeID, &payload); err != nil {
			return nil, err
		}
		ev.Category = domain.Category(category)
		if payload.Valid {
			var pl domain.Payload
			if json.Unmarshal([]byte(payload.String), &pl) == nil {
				ev.Payload = &pl
			}
		}
		snap.Events = append(snap.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	frows, err := db.QueryContext(ctx, `
		SELECT file_id, absolute_path, relative_path, text, line_count, first_seen_event_id, unavailable
		FROM files WHERE snapshot_id = ? ORDER BY file_id`, snap.SnapshotID)
	if err != nil {
		return nil, err
	}
	defer frows.Close()
	for frows.Next() {
		var sf domain.SourceFile
		if err := frows.Scan(&sf.FileID, &sf.AbsolutePath, &sf.RelativePath, &sf.Text,
			&sf.LineCount, &sf.FirstSeenEventID, &sf.Unavailable); err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, sf)
	}
	if err := frows.Err(); err != nil {
		return nil, err
	}

	trows, err := db.QueryContext(ctx, `
		SELECT from_file_id, to_file_id, before_event_id, after_event_id
		FROM transitions WHERE snapshot_id = ? ORDER BY after_event_id`, snap.SnapshotID)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var tr domain.Transition
		if err := trows.Scan(&tr.FromFileID, &tr.ToFileID, &tr.BeforeEventID, &tr.AfterEventID); err != nil {
			return nil, err
		}
		snap.Transitions = append(snap.Transitions, tr)
	}
	return snap, trows.Err()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id              TEXT PRIMARY KEY,
		version         INTEGER NOT NULL,
		session_id      TEXT,
		created_at      TEXT NOT NULL,
		evicted_events  INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS events (
		snapshot_id     TEXT NOT NULL REFERENCES snapshots(id),
		event_id        INTEGER NOT NULL,
		timestamp       INTEGER NOT NULL,
		category        TEXT NOT NULL,
		file_id         INTEGER NOT NULL,
		line_number     INTEGER NOT NULL,
		function_name   TEXT,
		class_name      TEXT,
		module_name     TEXT,
		line_text       TEXT,
		stack_depth     INTEGER NOT NULL,
		parent_event_id INTEGER,
		scope_id        TEXT,
		payload         TEXT,
		PRIMARY KEY (snapshot_id, event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_file_line ON events(snapshot_id, file_id, line_number);
	CREATE TABLE IF NOT EXISTS files (
		snapshot_id         TEXT NOT NULL REFERENCES snapshots(id),
		file_id             INTEGER NOT NULL,
		absolute_path       TEXT NOT NULL,
		relative_path       TEXT,
		text                TEXT,
		line_count          INTEGER NOT NULL DEFAULT 0,
		first_seen_event_id INTEGER,
		unavailable         INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (snapshot_id, file_id)
	);
	CREATE TABLE IF NOT EXISTS transitions (
		snapshot_id     TEXT NOT NULL REFERENCES snapshots(id),
		from_file_id    INTEGER NOT NULL,
		to_file_id      INTEGER NOT NULL,
		before_event_id INTEGER NOT NULL,
		after_event_id  INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}
