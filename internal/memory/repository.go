package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines user-context persistence operations.
// Every list is ordered by last_mentioned, most recent first; limit <= 0 means no limit.
type Repository interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]Fact, error)
	ListByCategory(ctx context.Context, userID string, category Category, limit int) ([]Fact, error)
	// SearchByKeywords returns facts whose value contains any keyword, ignoring case.
	// With no keywords it returns the most recent facts.
	SearchByKeywords(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error)
	Upsert(ctx context.Context, p UpsertParams) (*Fact, error)
	Count(ctx context.Context, userID string) (int64, error)
	// PruneOldest keeps the keep most recently mentioned facts and deletes the rest.
	PruneOldest(ctx context.Context, userID string, keep int) (int64, error)
	DeleteOne(ctx context.Context, userID string, id uuid.UUID) (bool, error)
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository creates a new user-context repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, now: time.Now}
}

const factColumns = `id, user_id, key, value, category::text, confidence, source_conversation_id,
	last_mentioned, created_at, updated_at`

func scanFact(row pgx.Row) (Fact, error) {
	var f Fact
	var category string
	err := row.Scan(&f.ID, &f.UserID, &f.Key, &f.Value, &category, &f.Confidence,
		&f.SourceConversationID, &f.LastMentioned, &f.CreatedAt, &f.UpdatedAt)
	f.Category = Category(category)
	return f, err
}

func collectFacts(rows pgx.Rows) ([]Fact, error) {
	defer rows.Close()
	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// pgLimit maps a non-positive limit to SQL NULL, which Postgres treats as LIMIT ALL.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Fact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+factColumns+`
		 FROM user_contexts
		 WHERE user_id = $1
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT $2`,
		userID, pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	return collectFacts(rows)
}

func (r *PostgresRepository) ListByCategory(ctx context.Context, userID string, category Category, limit int) ([]Fact, error) {
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+factColumns+`
		 FROM user_contexts
		 WHERE user_id = $1 AND category = $2::text::context_category
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT $3`,
		userID, string(category), pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing facts by category: %w", err)
	}
	return collectFacts(rows)
}

func (r *PostgresRepository) SearchByKeywords(ctx context.Context, userID string, keywords []string, limit int) ([]Fact, error) {
	patterns := likePatterns(keywords)
	if len(patterns) == 0 {
		return r.ListByUser(ctx, userID, limit)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+factColumns+`
		 FROM user_contexts
		 WHERE user_id = $1 AND value ILIKE ANY($2::text[])
		 ORDER BY last_mentioned DESC, id DESC
		 LIMIT $3`,
		userID, patterns, pgLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}
	return collectFacts(rows)
}

func (r *PostgresRepository) Upsert(ctx context.Context, p UpsertParams) (*Fact, error) {
	if !p.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	now := r.now().UTC()
	f, err := scanFact(r.pool.QueryRow(ctx,
		`INSERT INTO user_contexts
		   (id, user_id, key, value, category, confidence, source_conversation_id, last_mentioned, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::text::context_category, $6, $7, $8, $8, $8)
		 ON CONFLICT (user_id, key) DO UPDATE SET
		   value = EXCLUDED.value,
		   category = EXCLUDED.category,
		   confidence = EXCLUDED.confidence,
		   source_conversation_id = COALESCE(EXCLUDED.source_conversation_id, user_contexts.source_conversation_id),
		   last_mentioned = EXCLUDED.last_mentioned,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+factColumns,
		uuid.New(), p.UserID, p.Key, p.Value, string(p.Category), p.Confidence, p.SourceConversationID, now,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return nil, fmt.Errorf("upserting fact: %w", ErrInvalidCategory)
		}
		return nil, fmt.Errorf("upserting fact: %w", err)
	}
	return &f, nil
}

func (r *PostgresRepository) Count(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_contexts WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting facts: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) PruneOldest(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_contexts
		 WHERE user_id = $1 AND id NOT IN (
		   SELECT id FROM user_contexts
		   WHERE user_id = $1
		   ORDER BY last_mentioned DESC, id DESC
		   LIMIT $2
		 )`, userID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning facts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteOne(ctx context.Context, userID string, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_contexts WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_contexts WHERE user_id = $1 AND last_mentioned < $2`, userID, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired facts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_contexts WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user facts: %w", err)
	}
	return tag.RowsAffected(), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePatterns turns keywords into %kw% patterns with LIKE metacharacters escaped.
func likePatterns(keywords []string) []string {
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		patterns = append(patterns, "%"+likeEscaper.Replace(kw)+"%")
	}
	return patterns
}
