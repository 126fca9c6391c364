package sqlite

import (
	"container/list"
	"sync"

	"github.com/meridiandb/sqlite/sqliteh"
)

const (
	// MaxCacheableBytes is the largest query text, in UTF-8 bytes,
	// that the statement cache will hold. Larger texts are compiled
	// but never cached.
	MaxCacheableBytes = 16384

	// DefaultCacheSize is the per-connection statement cache capacity
	// used when Open is not given one.
	DefaultCacheSize = 100

	// MaxCacheSize is the largest configurable cache capacity.
	MaxCacheSize = 512
)

// StmtOptions adjust how a single Execute compiles its statements.
type StmtOptions struct {
	// NoCache compiles one-shot statements that bypass the cache in
	// both directions.
	NoCache bool
	// PrepareFlags are passed to sqlite3_prepare_v3. Statements
	// prepared with different flags are cached separately.
	PrepareFlags sqliteh.PrepareFlags
}

// prepared is one checked-out prepared statement.
//
// It remembers the full query text it was compiled from, so the
// statements after the leading one can be compiled lazily, one at a
// time, as execution reaches them.
type prepared struct {
	stmt      sqliteh.Stmt // nil when the text compiled to no statement
	query     string       // remaining query text at prepare time
	stmtLen   int          // byte length of the leading statement
	flags     sqliteh.PrepareFlags
	uses      int64
	cacheable bool
}

// hasMore reports whether statements follow the leading one.
func (p *prepared) hasMore() bool { return p.stmtLen < len(p.query) }

// tail is the query text after the leading statement.
func (p *prepared) tail() string { return p.query[p.stmtLen:] }

// leading is the text of the leading statement alone.
func (p *prepared) leading() string { return p.query[:p.stmtLen] }

type cacheKey struct {
	query string
	flags sqliteh.PrepareFlags
}

// stmtCache caches idle prepared statements, keyed by their remaining
// query text and prepare flags.
//
// An entry handed out by prepare is checked out: it leaves the index
// entirely, so a concurrent prepare of the same text compiles a fresh
// duplicate rather than sharing the handle. Checked-out statements
// come back through release and are only then eviction candidates
// again.
type stmtCache struct {
	db         sqliteh.DB
	maxEntries int

	mu    sync.Mutex
	byKey map[cacheKey]*list.Element
	lru   *list.List // of *prepared, front is most recently used

	hits      int64
	misses    int64
	evictions int64
	noCache   int64
	noVdbe    int64
	tooBig    int64
}

func newStmtCache(db sqliteh.DB, maxEntries int) *stmtCache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if maxEntries > MaxCacheSize {
		maxEntries = MaxCacheSize
	}
	return &stmtCache{
		db:         db,
		maxEntries: maxEntries,
		byKey:      make(map[cacheKey]*list.Element),
		lru:        list.New(),
	}
}

// prepare returns a statement for the leading statement of query,
// either checked out of the cache or freshly compiled.
func (c *stmtCache) prepare(query string, opts StmtOptions) (*prepared, error) {
	cacheable := !opts.NoCache && c.maxEntries > 0 && len(query) <= MaxCacheableBytes

	c.mu.Lock()
	if cacheable {
		key := cacheKey{query: query, flags: opts.PrepareFlags}
		if el, ok := c.byKey[key]; ok {
			c.hits++
			delete(c.byKey, key)
			c.lru.Remove(el)
			c.mu.Unlock()
			p := el.Value.(*prepared)
			p.uses++
			if err := p.stmt.ClearBindings(); err != nil {
				p.stmt.Finalize()
				p.stmt = nil
				return nil, err
			}
			return p, nil
		}
		c.misses++
	} else if opts.NoCache {
		c.noCache++
	} else {
		c.misses++
		if c.maxEntries > 0 && len(query) > MaxCacheableBytes {
			c.tooBig++
		}
	}
	c.mu.Unlock()

	flags := opts.PrepareFlags
	if cacheable {
		flags |= sqliteh.SQLITE_PREPARE_PERSISTENT
	}
	stmt, remaining, err := c.db.Prepare(query, flags)
	if err != nil {
		return nil, err
	}
	p := &prepared{
		stmt:      stmt,
		query:     query,
		stmtLen:   len(query) - len(remaining),
		flags:     opts.PrepareFlags,
		uses:      1,
		cacheable: cacheable,
	}
	if stmt == nil {
		// Whitespace or comments only: nothing to run, nothing
		// worth caching.
		p.cacheable = false
		c.mu.Lock()
		c.noVdbe++
		c.mu.Unlock()
	}
	return p, nil
}

// release returns a checked-out statement. Cacheable statements are
// reset and reinserted unless an idle entry with the same key arrived
// in the meantime, in which case the duplicate is finalized.
func (c *stmtCache) release(p *prepared) error {
	if p == nil || p.stmt == nil {
		return nil
	}
	if !p.cacheable {
		err := p.stmt.Finalize()
		p.stmt = nil
		return err
	}
	if err := p.stmt.Reset(); err != nil {
		p.stmt.Finalize()
		p.stmt = nil
		return err
	}

	key := cacheKey{query: p.query, flags: p.flags}
	c.mu.Lock()
	if _, exists := c.byKey[key]; exists {
		c.mu.Unlock()
		err := p.stmt.Finalize()
		p.stmt = nil
		return err
	}
	c.byKey[key] = c.lru.PushFront(p)
	var evicted *prepared
	if c.lru.Len() > c.maxEntries {
		back := c.lru.Back()
		evicted = back.Value.(*prepared)
		c.lru.Remove(back)
		delete(c.byKey, cacheKey{query: evicted.query, flags: evicted.flags})
		c.evictions++
	}
	c.mu.Unlock()

	if evicted != nil {
		err := evicted.stmt.Finalize()
		evicted.stmt = nil
		return err
	}
	return nil
}

// close finalizes every idle entry. Checked-out statements are the
// responsibility of whoever holds them.
func (c *stmtCache) close() error {
	c.mu.Lock()
	var entries []*prepared
	for el := c.lru.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*prepared))
	}
	c.byKey = make(map[cacheKey]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	var firstErr error
	for _, p := range entries {
		if err := p.stmt.Finalize(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.stmt = nil
	}
	return firstErr
}

// CacheStats is a snapshot of a connection's statement cache counters.
type CacheStats struct {
	Size              int // idle entries currently cached
	MaxEntries        int
	MaxCacheableBytes int

	Hits      int64 // prepares served by checking out an idle entry
	Misses    int64 // prepares that had to compile (includes NoVdbe and TooBig)
	Evictions int64 // idle entries finalized to make room
	NoCache   int64 // one-shot prepares that bypassed the cache
	NoVdbe    int64 // texts that compiled to no statement
	TooBig    int64 // texts over MaxCacheableBytes

	// Entries describes each idle entry, most recently used first.
	// Only populated when requested.
	Entries []CacheEntry
}

// CacheEntry describes one idle statement cache entry.
type CacheEntry struct {
	Query        string // leading statement text only
	PrepareFlags sqliteh.PrepareFlags
	Uses         int64
	HasMore      bool
}

func (c *stmtCache) stats(includeEntries bool) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Size:              c.lru.Len(),
		MaxEntries:        c.maxEntries,
		MaxCacheableBytes: MaxCacheableBytes,
		Hits:              c.hits,
		Misses:            c.misses,
		Evictions:         c.evictions,
		NoCache:           c.noCache,
		NoVdbe:            c.noVdbe,
		TooBig:            c.tooBig,
	}
	if includeEntries {
		s.Entries = make([]CacheEntry, 0, c.lru.Len())
		for el := c.lru.Front(); el != nil; el = el.Next() {
			p := el.Value.(*prepared)
			s.Entries = append(s.Entries, CacheEntry{
				Query:        p.leading(),
				PrepareFlags: p.flags,
				Uses:         p.uses,
				HasMore:      p.hasMore(),
			})
		}
	}
	return s
}
