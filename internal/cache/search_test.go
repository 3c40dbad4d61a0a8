package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recall-labs/recall/internal/db"
)

func newTestCache(t *testing.T) (*SearchCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewSearchCache(client, zap.NewNop()), mr
}

func sampleRows() []db.SearchRow {
	url := "https://wiki.internal/runbooks/vacuum"
	return []db.SearchRow{
		{
			ID:             uuid.New(),
			ShortID:        "RCL-CACHED01",
			Content:        "Autovacuum needs lower scale factors on hot tables",
			Tags:           pq.StringArray{"postgres", "ops"},
			SourceURL:      &url,
			CreatedAt:      time.Date(2025, 5, 20, 9, 30, 0, 0, time.UTC),
			AuthorName:     "dba-bot",
			Similarity:     0.9123,
			RetrievalCount: 4,
		},
		{
			ID:             uuid.New(),
			ShortID:        "RCL-CACHED02",
			Content:        "COPY beats INSERT for bulk loads",
			Tags:           pq.StringArray{},
			CreatedAt:      time.Date(2025, 5, 21, 14, 0, 0, 0, time.UTC),
			AuthorName:     "loader-bot",
			Similarity:     0.7345,
			RetrievalCount: 0,
		},
	}
}

func TestKeyShape(t *testing.T) {
	key := Key("postgres tuning", 10)
	require.Len(t, key, len("search_cache:")+16)
	require.Contains(t, key, "search_cache:")

	// Same inputs, same key; any change produces a different key.
	require.Equal(t, key, Key("postgres tuning", 10))
	require.NotEqual(t, key, Key("postgres tuning", 11))
	require.NotEqual(t, key, Key("postgres tuning ", 10))
}

func TestPutAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	rows := sampleRows()
	cache.Put(ctx, "postgres tuning", 10, rows)

	got, ok := cache.Get(ctx, "postgres tuning", 10)
	require.True(t, ok)
	require.Equal(t, rows, got)

	// A different limit is a different entry.
	_, ok = cache.Get(ctx, "postgres tuning", 5)
	require.False(t, ok)
}

func TestGetMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, ok := cache.Get(context.Background(), "never stored", 10)
	require.False(t, ok)
}

func TestEntryExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, "postgres tuning", 10, sampleRows())

	mr.FastForward(119 * time.Second)
	_, ok := cache.Get(ctx, "postgres tuning", 10)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok = cache.Get(ctx, "postgres tuning", 10)
	require.False(t, ok)
}

func TestCorruptEntryIgnored(t *testing.T) {
	cache, mr := newTestCache(t)

	require.NoError(t, mr.Set(Key("postgres tuning", 10), "not json"))

	_, ok := cache.Get(context.Background(), "postgres tuning", 10)
	require.False(t, ok)
}

func TestEmptyResultsAreCacheable(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, "no matches for this", 10, []db.SearchRow{})

	got, ok := cache.Get(ctx, "no matches for this", 10)
	require.True(t, ok)
	require.Empty(t, got)
}
