package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Entry is one finished transfer
type Entry struct {
	ID           int64     `json:"id"`
	RecordID     string    `json:"record_id"`
	SourceURI    string    `json:"source_uri"`
	DisplayName  string    `json:"display_name"`
	OutputPath   string    `json:"output_path,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Bytes        int64     `json:"bytes"`
	FinishedAt   time.Time `json:"finished_at"`
}

// CorruptedEntry is a reference the catalog no longer resolves
type CorruptedEntry struct {
	Reference string    `json:"reference"`
	Reason    string    `json:"reason"`
	SeenCount int       `json:"seen_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// HistoryStore keeps finished transfers after they leave the queue
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a new HistoryStore
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Add records a finished transfer. A zero FinishedAt is set to now.
func (hs *HistoryStore) Add(entry *Entry) error {
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}

	result, err := hs.db.Exec(`
		INSERT INTO transfer_history (
			record_id, source_uri, display_name, output_path,
			status, error_message, bytes, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.RecordID,
		entry.SourceURI,
		entry.DisplayName,
		entry.OutputPath,
		entry.Status,
		entry.ErrorMessage,
		entry.Bytes,
		entry.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns entries newest first. An empty status matches every entry.
func (hs *HistoryStore) List(status string, offset, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, record_id, source_uri, display_name, output_path,
		       status, error_message, bytes, finished_at
		FROM transfer_history
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := hs.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e          Entry
			outputPath sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.RecordID,
			&e.SourceURI,
			&e.DisplayName,
			&outputPath,
			&e.Status,
			&errMsg,
			&e.Bytes,
			&e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.OutputPath = outputPath.String
		e.ErrorMessage = errMsg.String
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries per status
func (hs *HistoryStore) Count() (map[string]int, error) {
	rows, err := hs.db.Query("SELECT status, COUNT(*) FROM transfer_history GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan history count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Clear removes every entry finished before cutoff. A zero cutoff removes
// everything.
func (hs *HistoryStore) Clear(cutoff time.Time) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if cutoff.IsZero() {
		result, err = hs.db.Exec("DELETE FROM transfer_history")
	} else {
		result, err = hs.db.Exec("DELETE FROM transfer_history WHERE finished_at < ?", cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return result.RowsAffected()
}

// MarkCorrupted records that reference failed to resolve. Repeated marks
// bump the seen count and keep the latest reason.
func (hs *HistoryStore) MarkCorrupted(reference, reason string) error {
	now := time.Now()
	_, err := hs.db.Exec(`
		INSERT INTO corrupted_entries (reference, reason, seen_count, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET
			reason = excluded.reason,
			seen_count = seen_count + 1,
			last_seen = excluded.last_seen
	`, reference, reason, now, now)
	if err != nil {
		return fmt.Errorf("failed to mark corrupted entry: %w", err)
	}
	return nil
}

// ListCorrupted returns corrupted references, most recently seen first
func (hs *HistoryStore) ListCorrupted() ([]*CorruptedEntry, error) {
	rows, err := hs.db.Query(`
		SELECT reference, reason, seen_count, first_seen, last_seen
		FROM corrupted_entries
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrupted entries: %w", err)
	}
	defer rows.Close()

	var entries []*CorruptedEntry
	for rows.Next() {
		var e CorruptedEntry
		if err := rows.Scan(&e.Reference, &e.Reason, &e.SeenCount, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan corrupted entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
