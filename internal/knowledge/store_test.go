package knowledge

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore opens an in-memory store with the schema applied.
func testStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "knowledge.db")

	s, err := Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), &Entry{Question: "q", Answer: "a"}))
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestStoreSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{
		Question: "What is REST?",
		Answer:   "REST is an architectural style for APIs.",
		Provider: "local",
		Model:    "llama3.2",
		Language: "english",
		Category: "explanation",
	}
	require.NoError(t, s.Save(ctx, e))
	require.NotEmpty(t, e.ID, "save must assign an id")
	require.False(t, e.CreatedAt.IsZero(), "save must assign timestamps")

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Question, got.Question)
	assert.Equal(t, e.Answer, got.Answer)
	assert.Equal(t, "local", got.Provider)
	assert.Equal(t, "llama3.2", got.Model)
	assert.Equal(t, "english", got.Language)
	assert.Equal(t, "explanation", got.Category)
	assert.Equal(t, 0, got.RatingCount)
	assert.Zero(t, got.AverageRating())
}

func TestStoreSaveRejectsBlankFields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	assert.Error(t, s.Save(ctx, &Entry{Question: "  ", Answer: "something"}))
	assert.Error(t, s.Save(ctx, &Entry{Question: "something", Answer: "\n"}))
}

func TestStoreGetUnknownID(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLookupSimilar(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	reverse := &Entry{
		Question: "How to reverse a string in Go",
		Answer:   "Swap runes from both ends.",
	}
	goroutine := &Entry{
		Question: "What is a goroutine",
		Answer:   "A lightweight thread managed by the runtime.",
	}
	immutable := &Entry{
		Question: "Why is the string type immutable",
		Answer:   "Character data cannot be changed in place.",
	}
	sorting := &Entry{
		Question: "Как написать функцию сортировки",
		Answer:   "Используйте sort.Slice из стандартной библиотеки.",
	}
	for _, e := range []*Entry{reverse, goroutine, immutable, sorting} {
		require.NoError(t, s.Save(ctx, e))
	}

	t.Run("single_term", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "goroutine", 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, goroutine.ID, results[0].ID)
	})

	t.Run("more_matched_terms_rank_first", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "reverse string", 5)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, reverse.ID, results[0].ID,
			"the entry matching both terms must outrank the single-term match")
		assert.Equal(t, immutable.ID, results[1].ID)
	})

	t.Run("russian_prompt", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "напиши функцию сортировки", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, sorting.ID, results[0].ID)
	})

	t.Run("case_insensitive", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "GOROUTINE", 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
	})

	t.Run("operator_characters_are_inert", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, `reverse* AND ("NEAR" OR string) - {}`, 5)
		require.NoError(t, err, "FTS5 operators in prompts must not reach the parser")
		assert.NotEmpty(t, results)
	})

	t.Run("no_match", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "quaternion", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("blank_text", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "  ?!  ", 5)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := s.LookupSimilar(ctx, "reverse string goroutine", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})
}

func TestStoreRate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{Question: "What is REST?", Answer: "An architectural style."}
	require.NoError(t, s.Save(ctx, e))

	require.NoError(t, s.Rate(ctx, e.ID, 5))
	require.NoError(t, s.Rate(ctx, e.ID, 4))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.RatingSum)
	assert.Equal(t, 2, got.RatingCount)
	assert.InDelta(t, 4.5, got.AverageRating(), 0.001)
}

func TestStoreRateUnknownID(t *testing.T) {
	s := testStore(t)

	err := s.Rate(context.Background(), "no-such-id", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRateOutOfRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{Question: "q", Answer: "a"}
	require.NoError(t, s.Save(ctx, e))

	assert.Error(t, s.Rate(ctx, e.ID, 0))
	assert.Error(t, s.Rate(ctx, e.ID, 6))

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RatingCount, "rejected ratings must not be recorded")
}

func TestStoreRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		e := &Entry{
			Question:  q,
			Answer:    "answer",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.Save(ctx, e))
	}

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Question)
	assert.Equal(t, "second", entries[1].Question)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStoreLookupReflectsUpdatedRating(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	e := &Entry{Question: "What is REST?", Answer: "An architectural style."}
	require.NoError(t, s.Save(ctx, e))
	require.NoError(t, s.Rate(ctx, e.ID, 5))

	results, err := s.LookupSimilar(ctx, "What is REST?", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].RatingCount)
	assert.InDelta(t, 5.0, results[0].AverageRating(), 0.001)
}

func TestStoreMigrateIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)

	// A second schema application over the same handle must be harmless.
	require.NoError(t, s.migrate())

	require.NoError(t, s.Save(context.Background(), &Entry{Question: "q", Answer: "a"}))
	_ = s.Close()
}

func TestMatchQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain_terms", "reverse string", `"reverse" OR "string"`},
		{"operators_stripped", `NEAR("a" AND b)*`, `"NEAR" OR "a" OR "AND" OR "b"`},
		{"cyrillic", "функция сортировки", `"функция" OR "сортировки"`},
		{"empty", "  ?! ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchQuery(tt.in))
		})
	}
}
