package db

import "fmt"

// Collection selects one of the local story collections.
type Collection string

const (
	// Cache is the non-authoritative mirror of remote stories.
	Cache Collection = "cache"
	// Favorites holds user-curated stories and is never evicted.
	Favorites Collection = "favorites"
)

// Collections lists every story collection in creation order.
var Collections = []Collection{Cache, Favorites}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	return c == Cache || c == Favorites
}

// Table returns the SQLite table backing c.
func (c Collection) Table() string {
	switch c {
	case Cache:
		return "cache_stories"
	case Favorites:
		return "favorite_stories"
	}
	return ""
}

// stampColumn is the write-time timestamp column of c.
func (c Collection) stampColumn() string {
	if c == Favorites {
		return "saved_at"
	}
	return "cached_at"
}

// schema returns the DDL that (re)creates c's table and indexes. It matches
// the V1 migration.
func (c Collection) schema() []string {
	table := c.Table()
	stmts := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY NOT NULL CHECK(length(id) > 0),
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		lat REAL,
		lon REAL,
		created_at INTEGER NOT NULL DEFAULT 0,
		%s INTEGER NOT NULL,
		is_pending INTEGER NOT NULL DEFAULT 0 CHECK(is_pending IN (0, 1))
	)`, table, c.stampColumn()),
	}

	switch c {
	case Cache:
		stmts = append(stmts,
			"CREATE INDEX IF NOT EXISTS idx_cache_stories_created_at ON cache_stories(created_at DESC)",
			"CREATE INDEX IF NOT EXISTS idx_cache_stories_cached_at ON cache_stories(cached_at)",
		)
	case Favorites:
		stmts = append(stmts,
			"CREATE INDEX IF NOT EXISTS idx_favorite_stories_saved_at ON favorite_stories(saved_at DESC)",
		)
	}
	return stmts
}
