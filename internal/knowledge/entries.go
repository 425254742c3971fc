package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no entry carries the requested id.
var ErrNotFound = errors.New("knowledge entry not found")

// Entry is one stored question/answer pair.
type Entry struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	Language    string    `json:"language,omitempty"`
	Category    string    `json:"category,omitempty"`
	RatingSum   int       `json:"rating_sum"`
	RatingCount int       `json:"rating_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AverageRating returns the mean rating, or 0 when nothing was rated yet.
func (e Entry) AverageRating() float64 {
	if e.RatingCount == 0 {
		return 0
	}
	return float64(e.RatingSum) / float64(e.RatingCount)
}

const entryColumns = `id, question, answer, provider, model, language, category,
       rating_sum, rating_count, created_at, updated_at`

// Save inserts a new entry. A missing id and missing timestamps are filled in.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
		return fmt.Errorf("knowledge entry needs both a question and an answer")
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	const query = `
		INSERT INTO qa_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Question, e.Answer, e.Provider, e.Model, e.Language, e.Category,
		e.RatingSum, e.RatingCount, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	s.log.Debug().Str("id", e.ID).Str("category", e.Category).Msg("entry saved")
	return nil
}

// LookupSimilar returns entries whose question or answer matches the given
// text, best match first by BM25. The text is tokenized and OR-joined so
// natural prompts need no FTS5 syntax knowledge.
func (s *Store) LookupSimilar(ctx context.Context, text string, limit int) ([]Entry, error) {
	match := matchQuery(text)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	const query = `
		SELECT e.id, e.question, e.answer, e.provider, e.model, e.language,
		       e.category, e.rating_sum, e.rating_count, e.created_at, e.updated_at
		FROM qa_entries_fts f
		JOIN qa_entries e ON e.rowid = f.rowid
		WHERE f MATCH ?
		ORDER BY bm25(f)
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Rate records one rating between 1 and 5 for the entry.
func (s *Store) Rate(ctx context.Context, id string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE qa_entries
		SET rating_sum = rating_sum + ?,
		    rating_count = rating_count + 1,
		    updated_at = ?
		WHERE id = ?`,
		rating, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update rating: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.log.Debug().Str("id", id).Int("rating", rating).Msg("entry rated")
	return nil
}

// Get loads one entry by id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM qa_entries WHERE id = ?`, id)

	var e Entry
	err := row.Scan(
		&e.ID, &e.Question, &e.Answer, &e.Provider, &e.Model, &e.Language,
		&e.Category, &e.RatingSum, &e.RatingCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	return &e, nil
}

// Recent returns the newest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM qa_entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Question, &e.Answer, &e.Provider, &e.Model, &e.Language,
			&e.Category, &e.RatingSum, &e.RatingCount, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// matchQuery turns free text into an FTS5 query. Every token is quoted so
// operator characters in a prompt cannot break the parser, and tokens are
// OR-joined for recall on long prompts.
func matchQuery(text string) string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " OR ")
}
