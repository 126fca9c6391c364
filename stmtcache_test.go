// Copyright (c) 2026 The meridiandb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite

import (
	"fmt"
	"strings"
	"testing"

	"github.com/meridiandb/sqlite/sqliteh"
)

func TestCacheHitMiss(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (a)", nil)
	s0 := conn.CacheStats(false)

	for i := 0; i < 3; i++ {
		mustExec(t, conn, "INSERT INTO t VALUES (?)", []any{int64(i)})
	}
	s := conn.CacheStats(false)
	if got := s.Misses - s0.Misses; got != 1 {
		t.Errorf("misses = %d, want 1", got)
	}
	if got := s.Hits - s0.Hits; got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
}

func TestCacheCheckoutForcesDuplicate(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "CREATE TABLE t (a)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (1), (2)", nil)

	const q = "SELECT a FROM t"
	mustExec(t, conn, q, nil) // populate the cache
	s0 := conn.CacheStats(false)

	// c1 checks the entry out and keeps it (pending row).
	c1, err := conn.Execute(q, nil)
	if err != nil {
		t.Fatal(err)
	}
	// c2 wants the same text while it is checked out: a miss, and a
	// second handle.
	c2, err := conn.Execute(q, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := conn.CacheStats(false)
	if got := s.Hits - s0.Hits; got != 1 {
		t.Errorf("hits = %d, want 1 (checkout)", got)
	}
	if got := s.Misses - s0.Misses; got != 1 {
		t.Errorf("misses = %d, want 1 (duplicate compile)", got)
	}

	// Both cursors still see correct rows.
	if rows := drainCursor(t, c1); len(rows) != 2 {
		t.Errorf("c1 rows = %d, want 2", len(rows))
	}
	if rows := drainCursor(t, c2); len(rows) != 2 {
		t.Errorf("c2 rows = %d, want 2", len(rows))
	}
	if err := c1.Close(false); err != nil {
		t.Fatal(err)
	}
	if err := c2.Close(false); err != nil {
		t.Fatal(err)
	}
	// Only one of the two handles went back in; the duplicate was
	// finalized on return.
	s = conn.CacheStats(true)
	n := 0
	for _, e := range s.Entries {
		if e.Query == q {
			n++
		}
	}
	if n != 1 {
		t.Errorf("idle entries for %q = %d, want 1", q, n)
	}
}

func TestCacheEvictionIsLRUAndSparesCheckedOut(t *testing.T) {
	conn := openTestConn(t, WithCacheSize(2))
	mustExec(t, conn, "CREATE TABLE t (a)", nil)
	mustExec(t, conn, "INSERT INTO t VALUES (1), (2)", nil)

	// Check out a statement and hold it across other traffic.
	held, err := conn.Execute("SELECT a FROM t", nil)
	if err != nil {
		t.Fatal(err)
	}
	s0 := conn.CacheStats(false)
	for i := 0; i < 4; i++ {
		mustExec(t, conn, fmt.Sprintf("SELECT a + %d FROM t", i), nil)
	}
	s := conn.CacheStats(false)
	if got := s.Evictions - s0.Evictions; got != 4 {
		t.Errorf("evictions = %d, want 4", got)
	}
	if s.Size != 2 {
		t.Errorf("size = %d, want 2", s.Size)
	}
	// The held statement was never an eviction candidate.
	if rows := drainCursor(t, held); len(rows) != 2 {
		t.Errorf("held cursor rows = %d, want 2", len(rows))
	}
	if err := held.Close(false); err != nil {
		t.Fatal(err)
	}
}

func TestCacheDisabled(t *testing.T) {
	conn := openTestConn(t, WithCacheSize(0))
	s0 := conn.CacheStats(false)
	for i := 0; i < 2; i++ {
		mustExec(t, conn, "SELECT 1", nil)
	}
	s := conn.CacheStats(false)
	if got := s.Hits - s0.Hits; got != 0 {
		t.Errorf("hits = %d, want 0", got)
	}
	if got := s.Misses - s0.Misses; got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}
	if s.Size != 0 {
		t.Errorf("size = %d, want 0", s.Size)
	}
}

func TestCacheNoCacheOption(t *testing.T) {
	conn := openTestConn(t)
	c, err := conn.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(true)
	s0 := conn.CacheStats(false)
	if err := c.ExecuteOpts("SELECT 1", nil, StmtOptions{NoCache: true}); err != nil {
		t.Fatal(err)
	}
	drainCursor(t, c)
	s := conn.CacheStats(false)
	if got := s.NoCache - s0.NoCache; got != 1 {
		t.Errorf("no_cache = %d, want 1", got)
	}
	// One-shot statements are not misses and never enter the cache.
	if got := s.Misses - s0.Misses; got != 0 {
		t.Errorf("misses = %d, want 0", got)
	}
	if s.Size != s0.Size {
		t.Errorf("size changed from %d to %d", s0.Size, s.Size)
	}
}

func TestCacheTooBig(t *testing.T) {
	conn := openTestConn(t)
	s0 := conn.CacheStats(false)
	query := "SELECT 1 -- " + strings.Repeat("x", MaxCacheableBytes)
	mustExec(t, conn, query, nil)
	s := conn.CacheStats(false)
	if got := s.TooBig - s0.TooBig; got != 1 {
		t.Errorf("too_big = %d, want 1", got)
	}
	if got := s.Misses - s0.Misses; got != 1 {
		t.Errorf("misses = %d, want 1 (too_big is also a miss)", got)
	}
	if s.Size != s0.Size {
		t.Errorf("oversized query was cached")
	}
}

func TestCacheNoVdbe(t *testing.T) {
	conn := openTestConn(t)
	s0 := conn.CacheStats(false)
	mustExec(t, conn, "-- comment only", nil)
	mustExec(t, conn, "   ", nil)
	s := conn.CacheStats(false)
	if got := s.NoVdbe - s0.NoVdbe; got != 2 {
		t.Errorf("no_vdbe = %d, want 2", got)
	}
	if got := s.Misses - s0.Misses; got != 2 {
		t.Errorf("misses = %d, want 2 (no_vdbe is also a miss)", got)
	}
	if s.Size != s0.Size {
		t.Errorf("vdbe-less query was cached")
	}
}

func TestCacheEntries(t *testing.T) {
	conn := openTestConn(t)
	mustExec(t, conn, "SELECT 1; SELECT 2", nil)
	s := conn.CacheStats(true)

	var head, tail *CacheEntry
	for i := range s.Entries {
		e := &s.Entries[i]
		if strings.Contains(e.Query, "SELECT 1") {
			head = e
		}
		if strings.Contains(e.Query, "SELECT 2") {
			tail = e
		}
	}
	if head == nil || tail == nil {
		t.Fatalf("entries missing: %+v", s.Entries)
	}
	if !head.HasMore {
		t.Error("head entry HasMore = false, want true")
	}
	if strings.Contains(head.Query, "SELECT 2") {
		t.Errorf("head entry query %q includes trailing statement", head.Query)
	}
	if tail.HasMore {
		t.Error("tail entry HasMore = true, want false")
	}
	if head.Uses != 1 || tail.Uses != 1 {
		t.Errorf("uses = %d/%d, want 1/1", head.Uses, tail.Uses)
	}
	if s.MaxCacheableBytes != MaxCacheableBytes {
		t.Errorf("MaxCacheableBytes = %d, want %d", s.MaxCacheableBytes, MaxCacheableBytes)
	}
}

func TestCacheCapacityClamp(t *testing.T) {
	c := newStmtCache(nil, 10000)
	if c.maxEntries != MaxCacheSize {
		t.Errorf("maxEntries = %d, want %d", c.maxEntries, MaxCacheSize)
	}
	c = newStmtCache(nil, -5)
	if c.maxEntries != 0 {
		t.Errorf("maxEntries = %d, want 0", c.maxEntries)
	}
}

func TestCachePrepareFlagsSeparateEntries(t *testing.T) {
	conn := openTestConn(t)
	c, err := conn.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(true)
	s0 := conn.CacheStats(false)
	if err := c.ExecuteOpts("SELECT 1", nil, StmtOptions{PrepareFlags: sqliteh.SQLITE_PREPARE_NO_VTAB}); err != nil {
		t.Fatal(err)
	}
	drainCursor(t, c)
	if err := c.Execute("SELECT 1", nil); err != nil {
		t.Fatal(err)
	}
	drainCursor(t, c)
	s := conn.CacheStats(false)
	// Same text, different flags: two compiles, two entries.
	if got := s.Misses - s0.Misses; got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}
	if got := s.Size - s0.Size; got != 2 {
		t.Errorf("size delta = %d, want 2", got)
	}
}
