package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahvis/VideoForge/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
)

// Store persists users, video runs and the processing lock in a single
// sqlite database. The video row carries the full run document as JSON
// plus the columns queries filter on.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS videos (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	progress   INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_videos_user ON videos(user_id);
CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status);
CREATE TABLE IF NOT EXISTS processing_locks (
	key        TEXT PRIMARY KEY,
	is_locked  INTEGER NOT NULL DEFAULT 0,
	locked_by  TEXT,
	locked_at  TEXT,
	expires_at TEXT,
	metadata   TEXT
);
`

func Open(path string) (*Store, error) {
	// busy_timeout is per connection, so it goes in the DSN to reach every
	// pooled connection; immediate transactions take the write lock up front.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer by design; WAL keeps status polls from blocking it.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

// ---- users ----

func (s *Store) CreateUser(u model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users(id, email, password_hash, role, created_at) VALUES(?,?,?,?,?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), ts(u.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByEmail(email string) (model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`,
		strings.ToLower(email),
	)
	return scanUser(row)
}

func (s *Store) GetUserByID(id string) (model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var role, created string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.UserRole(role)
	u.CreatedAt = parseTS(created)
	return u, nil
}

// ---- videos ----

func (s *Store) CreateVideo(v model.Video) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO videos(id, user_id, status, progress, updated_at, doc) VALUES(?,?,?,?,?,?)`,
		v.ID, v.UserID, string(v.Status), v.Progress, ts(v.UpdatedAt), string(doc),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrConflict
	}
	return err
}

func (s *Store) GetVideo(id string) (model.Video, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM videos WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Video{}, ErrNotFound
	}
	if err != nil {
		return model.Video{}, err
	}
	var v model.Video
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return model.Video{}, fmt.Errorf("decode video %s: %w", id, err)
	}
	return v, nil
}

// UpdateVideo rewrites the run document. Progress never moves backwards
// until the run is terminal, whatever the caller passed in.
func (s *Store) UpdateVideo(v model.Video) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prevProgress int
	var prevCancel string
	err = tx.QueryRow(
		`SELECT progress, json_extract(doc, '$.cancel_requested') FROM videos WHERE id = ?`, v.ID,
	).Scan(&prevProgress, &prevCancel)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !v.Status.Terminal() && v.Progress < prevProgress {
		v.Progress = prevProgress
	}
	// A cancel flag set by a concurrent request must survive the write.
	if prevCancel == "true" || prevCancel == "1" {
		v.CancelRequested = true
	}
	v.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE videos SET user_id=?, status=?, progress=?, updated_at=?, doc=? WHERE id=?`,
		v.UserID, string(v.Status), v.Progress, ts(v.UpdatedAt), string(doc), v.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteVideo(id string) error {
	res, err := s.db.Exec(`DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListVideos(userID string) ([]model.Video, error) {
	rows, err := s.db.Query(
		`SELECT doc FROM videos WHERE user_id = ? ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

// ListUnfinished returns every run that is neither completed nor failed,
// for recovery planning at startup and for the stale sweep.
func (s *Store) ListUnfinished() ([]model.Video, error) {
	rows, err := s.db.Query(
		`SELECT doc FROM videos WHERE status NOT IN ('completed', 'failed') ORDER BY updated_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVideos(rows)
}

func scanVideos(rows *sql.Rows) ([]model.Video, error) {
	out := []model.Video{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v model.Video
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RequestCancel flips the cancel flag on a non-terminal run. The
// orchestrator polls this between segments and phases.
func (s *Store) RequestCancel(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE videos
		 SET doc = json_set(doc, '$.cancel_requested', json('true')), updated_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		ts(time.Now()), id,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) IsCancelRequested(id string) bool {
	var v string
	err := s.db.QueryRow(
		`SELECT json_extract(doc, '$.cancel_requested') FROM videos WHERE id = ?`, id,
	).Scan(&v)
	if err != nil {
		// A vanished row means there is nothing left to drive.
		return true
	}
	return v == "true" || v == "1"
}

// CountProcessing reports how many runs currently sit in a pipeline
// phase; the lock invariant keeps this at most one.
func (s *Store) CountProcessing() (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM videos
		 WHERE status IN ('decomposing','generating','stitching','audio','merging','transcoding')`,
	).Scan(&n)
	return n, err
}

// ---- processing lock ----

// AcquireLock is a single conditional update: it takes the row iff it
// is absent, unlocked, or expired. No read-then-write window.
func (s *Store) AcquireLock(key, owner string, meta model.LockMetadata, timeout time.Duration) (bool, error) {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO processing_locks(key, is_locked) VALUES(?, 0)`, key,
	); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`UPDATE processing_locks
		 SET is_locked = 1, locked_by = ?, locked_at = ?, expires_at = ?, metadata = ?
		 WHERE key = ? AND (is_locked = 0 OR expires_at < ?)`,
		owner, ts(now), ts(now.Add(timeout)), string(metaJSON), key, ts(now),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ReleaseLock(key string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE processing_locks SET is_locked = 0 WHERE key = ? AND is_locked = 1`, key,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) ExtendLock(key, owner string, timeout time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE processing_locks SET expires_at = ?
		 WHERE key = ? AND is_locked = 1 AND locked_by = ? AND expires_at >= ?`,
		ts(now.Add(timeout)), key, owner, ts(now),
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetLock reads the row, lazily clearing it when the holder's lease has
// expired.
func (s *Store) GetLock(key string) (model.ProcessingLock, error) {
	lock, err := s.readLock(key)
	if err != nil {
		return model.ProcessingLock{}, err
	}
	if lock.IsLocked && lock.ExpiresAt.Before(time.Now().UTC()) {
		if _, err := s.ReleaseLock(key); err != nil {
			return model.ProcessingLock{}, err
		}
		lock.IsLocked = false
	}
	return lock, nil
}

func (s *Store) readLock(key string) (model.ProcessingLock, error) {
	row := s.db.QueryRow(
		`SELECT key, is_locked, COALESCE(locked_by,''), COALESCE(locked_at,''), COALESCE(expires_at,''), COALESCE(metadata,'')
		 FROM processing_locks WHERE key = ?`, key,
	)
	var lock model.ProcessingLock
	var isLocked int
	var lockedAt, expiresAt, meta string
	err := row.Scan(&lock.Key, &isLocked, &lock.LockedBy, &lockedAt, &expiresAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProcessingLock{Key: key}, nil
	}
	if err != nil {
		return model.ProcessingLock{}, err
	}
	lock.IsLocked = isLocked == 1
	if lockedAt != "" {
		lock.LockedAt = parseTS(lockedAt)
	}
	if expiresAt != "" {
		lock.ExpiresAt = parseTS(expiresAt)
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &lock.Metadata)
	}
	return lock, nil
}

// SweepLocks clears every expired lock row and reports how many.
func (s *Store) SweepLocks() (int, error) {
	res, err := s.db.Exec(
		`UPDATE processing_locks SET is_locked = 0 WHERE is_locked = 1 AND expires_at < ?`,
		ts(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
