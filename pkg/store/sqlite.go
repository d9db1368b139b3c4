package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/psantana5/procbox/pkg/task"
)

// SQLiteStore is a SQLite-based implementation of the history store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite history store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string for concurrent access:
	// - _journal_mode=WAL: Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _synchronous=NORMAL: balance between safety and performance
	// - _txlock=immediate: acquire the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under concurrent lifecycle reporting
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		pid INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		stopped_at DATETIME,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT,
		pid INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_task ON transitions(task_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transitions_created ON transitions(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveTask inserts or updates a task summary row
func (s *SQLiteStore) SaveTask(info task.Info) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks
		(id, command, status, pid, created_at, started_at, stopped_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.Command, string(info.Status), info.PID, info.CreatedAt,
		nullableTime(info.StartedAt), nullableTime(info.StoppedAt), info.LastError)
	return err
}

// GetTask retrieves a task summary by ID
func (s *SQLiteStore) GetTask(id string) (task.Info, error) {
	var info task.Info
	var status string
	var startedAt, stoppedAt sql.NullTime
	var lastError sql.NullString

	err := s.db.QueryRow(`
		SELECT id, command, status, pid, created_at, started_at, stopped_at, last_error
		FROM tasks WHERE id = ?
	`, id).Scan(&info.ID, &info.Command, &status, &info.PID, &info.CreatedAt,
		&startedAt, &stoppedAt, &lastError)

	if err == sql.ErrNoRows {
		return task.Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return task.Info{}, err
	}

	info.Status = task.Status(status)
	if startedAt.Valid {
		info.StartedAt = startedAt.Time
	}
	if stoppedAt.Valid {
		info.StoppedAt = stoppedAt.Time
	}
	if lastError.Valid {
		info.LastError = lastError.String
	}
	return info, nil
}

// GetAllTasks returns all task summaries
func (s *SQLiteStore) GetAllTasks() []task.Info {
	rows, err := s.db.Query(`
		SELECT id, command, status, pid, created_at, started_at, stopped_at, last_error
		FROM tasks ORDER BY created_at ASC
	`)
	if err != nil {
		return []task.Info{}
	}
	defer rows.Close()

	var infos []task.Info
	for rows.Next() {
		var info task.Info
		var status string
		var startedAt, stoppedAt sql.NullTime
		var lastError sql.NullString

		if err := rows.Scan(&info.ID, &info.Command, &status, &info.PID,
			&info.CreatedAt, &startedAt, &stoppedAt, &lastError); err != nil {
			continue
		}
		info.Status = task.Status(status)
		if startedAt.Valid {
			info.StartedAt = startedAt.Time
		}
		if stoppedAt.Valid {
			info.StoppedAt = stoppedAt.Time
		}
		if lastError.Valid {
			info.LastError = lastError.String
		}
		infos = append(infos, info)
	}
	return infos
}

// DeleteTask removes a task summary and its transition journal
func (s *SQLiteStore) DeleteTask(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if _, err := tx.Exec(`DELETE FROM transitions WHERE task_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AddTransition appends a lifecycle state change to the journal
func (s *SQLiteStore) AddTransition(tr Transition) error {
	ts := tr.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO transitions (task_id, from_status, to_status, reason, pid, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.TaskID, string(tr.From), string(tr.To), tr.Reason, tr.PID, ts)
	return err
}

// GetTransitions returns the journal for one task in insertion order
func (s *SQLiteStore) GetTransitions(taskID string) ([]Transition, error) {
	rows, err := s.db.Query(`
		SELECT task_id, from_status, to_status, reason, pid, created_at
		FROM transitions WHERE task_id = ? ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trs []Transition
	for rows.Next() {
		var tr Transition
		var from, to string
		var reason sql.NullString
		if err := rows.Scan(&tr.TaskID, &from, &to, &reason, &tr.PID, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.From = task.Status(from)
		tr.To = task.Status(to)
		if reason.Valid {
			tr.Reason = reason.String
		}
		trs = append(trs, tr)
	}
	return trs, rows.Err()
}

// Prune deletes journal entries older than retention
func (s *SQLiteStore) Prune(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.Exec(`DELETE FROM transitions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// Vacuum reclaims free pages after pruning
func (s *SQLiteStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
