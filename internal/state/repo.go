package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/ellingard/chartd/internal/apperr"
)

// --- users ---

// CreateUser inserts a new user folder record in state uninitialized.
func (db *DB) CreateUser(id, role string) error {
	_, err := db.conn.Exec(`INSERT INTO users (id, role, status) VALUES (?, ?, ?)`,
		id, role, StatusUninitialized)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return apperr.ErrAlreadyExists
		}
		return fmt.Errorf("state: create user: %w", err)
	}
	return nil
}

// GetUser returns one user folder record.
func (db *DB) GetUser(id string) (*UserFolder, error) {
	row := db.conn.QueryRow(
		`SELECT id, role, root_id, status, last_sync_at, failures FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUsers returns every user folder record.
func (db *DB) ListUsers() ([]UserFolder, error) {
	rows, err := db.conn.Query(
		`SELECT id, role, root_id, status, last_sync_at, failures FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("state: list users: %w", err)
	}
	defer rows.Close()

	var out []UserFolder
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*UserFolder, error) {
	var u UserFolder
	var lastSync sql.NullTime
	err := row.Scan(&u.ID, &u.Role, &u.RootID, &u.Status, &lastSync, &u.Failures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: scan user: %w", err)
	}
	if lastSync.Valid {
		u.LastSyncAt = lastSync.Time
	}
	return &u, nil
}

// UpdateUserRole sets the user's instrument/role.
func (db *DB) UpdateUserRole(id, role string) error {
	return db.execOne(`UPDATE users SET role = ? WHERE id = ?`, role, id)
}

// SetUserStatus records a sync lifecycle transition.
func (db *DB) SetUserStatus(id string, status Status) error {
	return db.execOne(`UPDATE users SET status = ? WHERE id = ?`, status, id)
}

// SetRootID persists the user's remote root folder id.
func (db *DB) SetRootID(id, rootID string) error {
	return db.execOne(`UPDATE users SET root_id = ? WHERE id = ?`, rootID, id)
}

// MarkSyncSuccess resets the consecutive-failure counter and records
// the completion time.
func (db *DB) MarkSyncSuccess(id string, at time.Time) error {
	return db.execOne(`UPDATE users SET failures = 0, last_sync_at = ? WHERE id = ?`, at, id)
}

// MarkSyncFailure increments the consecutive-failure counter and
// returns the new count.
func (db *DB) MarkSyncFailure(id string) (int, error) {
	if err := db.execOne(`UPDATE users SET failures = failures + 1 WHERE id = ?`, id); err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRow(`SELECT failures FROM users WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: read failures: %w", err)
	}
	return n, nil
}

func (db *DB) execOne(query string, args ...any) error {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("state: exec: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// --- source files ---

// ReplaceSourceListing upserts the given snapshot and flags rows absent
// from it as deleted, in one transaction.
func (db *DB) ReplaceSourceListing(files []SourceFile) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`UPDATE source_files SET deleted = 1`); err != nil {
		return fmt.Errorf("state: flag deleted: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO source_files
			(key, name, song_title, key_token, category, subtype, confidence, etag, size, modified_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			name        = excluded.name,
			song_title  = excluded.song_title,
			key_token   = excluded.key_token,
			category    = excluded.category,
			subtype     = excluded.subtype,
			confidence  = excluded.confidence,
			etag        = excluded.etag,
			size        = excluded.size,
			modified_at = excluded.modified_at,
			deleted     = 0
	`)
	if err != nil {
		return fmt.Errorf("state: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(f.Key, f.Name, f.SongTitle, f.KeyToken, f.Category,
			f.Subtype, f.Confidence, f.ETag, f.Size, f.ModifiedAt); err != nil {
			return fmt.Errorf("state: upsert source file %s: %w", f.Key, err)
		}
	}
	return tx.Commit()
}

// ListSourceFiles returns the source snapshot, optionally including
// rows flagged deleted.
func (db *DB) ListSourceFiles(includeDeleted bool) ([]SourceFile, error) {
	q := `SELECT key, name, song_title, key_token, category, subtype, confidence, etag, size, modified_at, deleted
		FROM source_files`
	if !includeDeleted {
		q += ` WHERE deleted = 0`
	}
	q += ` ORDER BY key`

	rows, err := db.conn.Query(q)
	if err != nil {
		return nil, fmt.Errorf("state: list source files: %w", err)
	}
	defer rows.Close()

	var out []SourceFile
	for rows.Next() {
		f, err := scanSourceFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetSourceFile returns one snapshot row.
func (db *DB) GetSourceFile(key string) (*SourceFile, error) {
	row := db.conn.QueryRow(`SELECT key, name, song_title, key_token, category, subtype, confidence, etag, size, modified_at, deleted
		FROM source_files WHERE key = ?`, key)
	f, err := scanSourceFile(row)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanSourceFile(row rowScanner) (SourceFile, error) {
	var f SourceFile
	var mod sql.NullTime
	var deleted int
	err := row.Scan(&f.Key, &f.Name, &f.SongTitle, &f.KeyToken, &f.Category,
		&f.Subtype, &f.Confidence, &f.ETag, &f.Size, &mod, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceFile{}, apperr.ErrNotFound
	}
	if err != nil {
		return SourceFile{}, fmt.Errorf("state: scan source file: %w", err)
	}
	if mod.Valid {
		f.ModifiedAt = mod.Time
	}
	f.Deleted = deleted != 0
	return f, nil
}

// --- song folders ---

// SongFolders returns the user's song folder ids keyed by grouping key.
func (db *DB) SongFolders(userID string) (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT song_key, folder_id FROM song_folders WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("state: song folders: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, rows.Err()
}

// PutSongFolder records a song folder id. The (user, song) pair is
// unique; re-recording the same folder is a no-op upsert.
func (db *DB) PutSongFolder(userID, songKey, folderID string) error {
	_, err := db.conn.Exec(`
		INSERT INTO song_folders (user_id, song_key, folder_id) VALUES (?, ?, ?)
		ON CONFLICT(user_id, song_key) DO UPDATE SET folder_id = excluded.folder_id
	`, userID, songKey, folderID)
	if err != nil {
		return fmt.Errorf("state: put song folder: %w", err)
	}
	return nil
}

// --- link records ---

// Links returns every link record for the user.
func (db *DB) Links(userID string) ([]LinkRecord, error) {
	rows, err := db.conn.Query(
		`SELECT user_id, file_key, song_key, link_id FROM link_records WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("state: links: %w", err)
	}
	defer rows.Close()

	var out []LinkRecord
	for rows.Next() {
		var r LinkRecord
		if err := rows.Scan(&r.UserID, &r.FileKey, &r.SongKey, &r.LinkID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutLink records a link. The (user, file) pair is unique by schema, so
// a duplicate create under retry lands on the same row.
func (db *DB) PutLink(r LinkRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO link_records (user_id, file_key, song_key, link_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, file_key) DO UPDATE SET song_key = excluded.song_key, link_id = excluded.link_id
	`, r.UserID, r.FileKey, r.SongKey, r.LinkID)
	if err != nil {
		return fmt.Errorf("state: put link: %w", err)
	}
	return nil
}

// DeleteLink removes a link record. Deleting an absent record is not an
// error; removal must be idempotent under retry.
func (db *DB) DeleteLink(userID, fileKey string) error {
	_, err := db.conn.Exec(`DELETE FROM link_records WHERE user_id = ? AND file_key = ?`, userID, fileKey)
	if err != nil {
		return fmt.Errorf("state: delete link: %w", err)
	}
	return nil
}

// UsersLinkedTo returns the ids of users holding a link to any of the
// given source files.
func (db *DB) UsersLinkedTo(fileKeys []string) ([]string, error) {
	if len(fileKeys) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(fileKeys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(fileKeys))
	for i, k := range fileKeys {
		args[i] = k
	}

	rows, err := db.conn.Query(
		`SELECT DISTINCT user_id FROM link_records WHERE file_key IN (`+placeholders+`) ORDER BY user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("state: users linked to: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Content returns the user's organized view: songs with their linked
// files, ordered by song then file name.
func (db *DB) Content(userID string) ([]SongContent, error) {
	rows, err := db.conn.Query(`
		SELECT l.song_key, l.link_id, s.key, s.name, s.category
		FROM link_records l
		JOIN source_files s ON s.key = l.file_key
		WHERE l.user_id = ?
		ORDER BY l.song_key, s.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("state: content: %w", err)
	}
	defer rows.Close()

	var out []SongContent
	for rows.Next() {
		var song, linkID string
		var ref FileRef
		if err := rows.Scan(&song, &linkID, &ref.Key, &ref.Name, &ref.Category); err != nil {
			return nil, err
		}
		ref.LinkID = linkID
		if len(out) == 0 || out[len(out)-1].Song != song {
			out = append(out, SongContent{Song: song})
		}
		out[len(out)-1].Files = append(out[len(out)-1].Files, ref)
	}
	return out, rows.Err()
}

// --- sync runs ---

// BeginRun appends a run log entry and returns its id.
func (db *DB) BeginRun(userID, kind string, at time.Time) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO sync_runs (user_id, kind, started_at) VALUES (?, ?, ?)`, userID, kind, at)
	if err != nil {
		return 0, fmt.Errorf("state: begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("state: begin run id: %w", err)
	}
	return id, nil
}

// FinishRun completes a run log entry with its counts and error list.
func (db *DB) FinishRun(id int64, at time.Time, created, removed int, errs []string) error {
	if errs == nil {
		errs = []string{}
	}
	errJSON, _ := json.Marshal(errs)
	return db.execOne(`
		UPDATE sync_runs SET finished_at = ?, created = ?, removed = ?, errored = ?, errors = ?
		WHERE id = ?
	`, at, created, removed, len(errs), string(errJSON), id)
}

// RecentRuns returns the user's most recent runs, newest first.
func (db *DB) RecentRuns(userID string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, user_id, kind, started_at, finished_at, created, removed, errored, errors
		FROM sync_runs WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("state: recent runs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		var finished sql.NullTime
		var errJSON string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.StartedAt, &finished,
			&r.Created, &r.Removed, &r.Errored, &errJSON); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		_ = json.Unmarshal([]byte(errJSON), &r.Errors)
		out = append(out, r)
	}
	return out, rows.Err()
}
