package db

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/storysync/internal/models"
)

func populate(tb testing.TB, s *Store, col Collection, n int) {
	tb.Helper()
	stories := make([]*models.Story, 0, n)
	for i := 0; i < n; i++ {
		stories = append(stories, &models.Story{
			ID:          fmt.Sprintf("story-%04d", i),
			Name:        "Dimas",
			Description: fmt.Sprintf("Story number %d written on the train", i),
			PhotoURL:    fmt.Sprintf("https://example.com/%d.jpg", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(tb, s.PutMany(context.Background(), col, stories))
}

// TestStore_PersistsAcrossRestart reopens the database file and expects
// both collections to survive.
func TestStore_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db1, err := Open(dir)
	require.NoError(t, err)
	s1 := NewStore(db1)
	require.NoError(t, s1.Put(ctx, Cache, story("cached", base)))
	require.NoError(t, s1.Put(ctx, Favorites, story("saved", base)))
	require.NoError(t, db1.Close())

	db2, err := Open(dir)
	require.NoError(t, err)
	defer db2.Close()
	s2 := NewStore(db2)

	got := s2.Get(ctx, Cache, "cached")
	require.NotNil(t, got)
	assert.Equal(t, "desc cached", got.Description)
	assert.NotNil(t, got.CachedAt)
	assert.True(t, s2.Exists(ctx, Favorites, "saved"))
}

// TestStore_ConcurrentWrites checks that parallel writers all land.
func TestStore_ConcurrentWrites(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	const writers = 10
	const perWriter = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				col := Cache
				if i%2 == 1 {
					col = Favorites
				}
				if err := s.Put(ctx, col, story(fmt.Sprintf("w%d-%d", g, i), base)); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write failed: %v", err)
	}

	cached, err := s.Count(ctx, Cache)
	require.NoError(t, err)
	favs, err := s.Count(ctx, Favorites)
	require.NoError(t, err)
	assert.Equal(t, writers*3, cached)
	assert.Equal(t, writers*2, favs)
}

func TestStore_Ingest100Stories(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping performance test in short mode")
	}
	s, _ := setupTestStore(t)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Put(ctx, Cache, story(fmt.Sprintf("p%03d", i), base)))
	}
	elapsed := time.Since(start)
	t.Logf("Stored 100 stories in %v (avg: %v per story)", elapsed, elapsed/100)

	assert.Len(t, s.GetAll(ctx, Cache), 100)
	if elapsed > 10*time.Second {
		t.Logf("WARNING: storing took %v, consider optimization", elapsed)
	}
}

// TestStore_RepeatedReadsDoNotLeak reads the cache many times and checks
// that live heap does not keep growing.
func TestStore_RepeatedReadsDoNotLeak(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping memory test in short mode")
	}
	s, _ := setupTestStore(t)
	ctx := context.Background()
	populate(t, s, Cache, 500)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	for i := 0; i < 200; i++ {
		require.Len(t, s.GetAll(ctx, Cache), 500)
		s.Get(ctx, Cache, "story-0042")
	}

	runtime.GC()
	runtime.ReadMemStats(&after)

	var grown uint64
	if after.Alloc > before.Alloc {
		grown = after.Alloc - before.Alloc
	}
	t.Logf("TotalAlloc: +%s, live heap: +%s",
		humanize.IBytes(after.TotalAlloc-before.TotalAlloc), humanize.IBytes(grown))
	if grown > 5*1024*1024 {
		t.Errorf("Potential memory leak detected: live heap grew by %s", humanize.IBytes(grown))
	}
}

func BenchmarkStore_GetAll1000(b *testing.B) {
	s := NewStore(setupTestDB(b))
	populate(b, s, Cache, 1000)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if got := s.GetAll(ctx, Cache); len(got) != 1000 {
			b.Fatalf("got %d stories", len(got))
		}
	}
}

func BenchmarkStore_FavoritesFirstPage(b *testing.B) {
	s := NewStore(setupTestDB(b))
	populate(b, s, Favorites, 1000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		page, err := s.FavoritesPage(ctx, 1, 50)
		if err != nil {
			b.Fatal(err)
		}
		if len(page.Favorites) != 50 {
			b.Fatalf("got %d favorites", len(page.Favorites))
		}
	}
}

func BenchmarkStore_PutMany50(b *testing.B) {
	s := NewStore(setupTestDB(b))
	ctx := context.Background()

	stories := make([]*models.Story, 50)
	for i := range stories {
		stories[i] = story(fmt.Sprintf("b%02d", i), base)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.PutMany(ctx, Cache, stories); err != nil {
			b.Fatal(err)
		}
	}
}
