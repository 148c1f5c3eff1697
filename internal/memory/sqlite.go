package memory

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
)

// fold lowercases the full Unicode range; SQLite's lower() only folds ASCII.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, foldValue)
}

func foldValue(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_contexts (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	key                    TEXT NOT NULL,
	value                  TEXT NOT NULL,
	category               TEXT NOT NULL CHECK (category IN ('personal','technical','preferences','project','decisions','summary')),
	confidence             INTEGER NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
	source_conversation_id TEXT,
	last_mentioned         INTEGER NOT NULL,
	created_at             INTEGER NOT NULL,
	updated_at             INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS user_contexts_user_key_idx ON user_contexts (user_id, key);
CREATE INDEX IF NOT EXISTS user_contexts_user_last_mentioned_idx ON user_contexts (user_id, last_mentioned DESC);
`

// SQLiteRepository implements Repository on an embedded SQLite database.
// Timestamps are stored as unix nanoseconds so ordering is numeric.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	repo, err := NewSQLiteRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLiteRepository wraps an open database and applies the schema.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const sqliteFactColumns = `id, user_id, key, value, category, confidence, source_conversation_id,
	last_mentioned, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFact(row rowScanner) (Fact, error) {
	var (
		out                             Fact
		id, category                    string
		source                          sql.NullString
		lastMentioned, created, updated int64
	)
	err := row.Scan(&id, &out.UserID, &out.Key, &out.Value, &category, &out.Confidence,
		&source, &lastMentioned, &created, &updated)
	if err != nil {
		return Fact{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Fact{}, fmt.Errorf("parsing fact id: %w", err)
	}
	out.ID = parsed
	out.Category = Category(category)
	if source.Valid {
		s := source.String
		out.SourceConversationID = &s
	}
	out.LastMentioned = time.Unix(0, lastMentioned).UTC()
	out.CreatedAt = time.Unix(0, created).UTC()
	out.UpdatedAt = time.Unix(0, updated).UTC()
	return out, nil
}

func (r *SQLiteRepository) queryFacts(ctx context.Context, query string, args ...any) ([]Fact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanSQLiteFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// sqliteLimit maps a non-positive limit to -1, which SQLite treats as no limit.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Fact, error) {
	facts, err := r.queryFacts(ctx,
		`SELECT `+sqliteFactColumns+` FROM user_contexts
		 WHERE user_id = ?
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT ?`, userID, sqliteLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	return facts, nil
}

func (r *SQLiteRepository) ListByCategory(ctx context.Context, userID string, category Category, limit int) ([]Fact, error) {
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	facts, err := r.queryFacts(ctx,
		`SELECT `+sqliteFactColumns+` FROM user_contexts
		 WHERE user_id = ? AND category = ?
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT ?`, userID, string(category), sqliteLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing facts by category: %w", err)
	}
	return facts, nil
}

func (r *SQLiteRepository) SearchByKeywords(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error) {
	patterns := likePatterns(keywords)
	if len(patterns) == 0 {
		return r.ListByUser(ctx, userID, limit)
	}

	conds := make([]string, len(patterns))
	args := make([]any, 0, len(patterns)+2)
	args = append(args, userID)
	for i, p := range patterns {
		conds[i] = `fold(value) LIKE ? ESCAPE '\'`
		args = append(args, strings.ToLower(p))
	}
	args = append(args, sqliteLimit(limit))

	facts, err := r.queryFacts(ctx,
		`SELECT `+sqliteFactColumns+` FROM user_contexts
		 WHERE user_id = ? AND (`+strings.Join(conds, " OR ")+`)
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}
	return facts, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, p UpsertParams) (*Fact, error) {
	if !p.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	now := r.now().UnixNano()
	var source sql.NullString
	if p.SourceConversationID != nil {
		source = sql.NullString{String: *p.SourceConversationID, Valid: true}
	}

	f, err := scanSQLiteFact(r.db.QueryRowContext(ctx,
		`INSERT INTO user_contexts
		   (id, user_id, key, value, category, confidence, source_conversation_id, last_mentioned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO UPDATE SET
		   value = excluded.value,
		   category = excluded.category,
		   confidence = excluded.confidence,
		   source_conversation_id = COALESCE(excluded.source_conversation_id, user_contexts.source_conversation_id),
		   last_mentioned = excluded.last_mentioned,
		   updated_at = excluded.updated_at
		 RETURNING `+sqliteFactColumns,
		uuid.NewString(), p.UserID, p.Key, p.Value, string(p.Category), p.Confidence, source, now, now, now,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting fact: %w", err)
	}
	return &f, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_contexts WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting facts: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) PruneOldest(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_contexts
		 WHERE user_id = ? AND id NOT IN (
		   SELECT id FROM user_contexts
		   WHERE user_id = ?
		   ORDER BY last_mentioned DESC, id DESC
		   LIMIT ?
		 )`, userID, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning facts: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteOne(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_contexts WHERE id = ? AND user_id = ?`, id.String(), userID)
	if err != nil {
		return false, fmt.Errorf("deleting fact: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SQLiteRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_contexts WHERE user_id = ? AND last_mentioned < ?`, userID, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired facts: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_contexts WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user facts: %w", err)
	}
	return res.RowsAffected()
}
