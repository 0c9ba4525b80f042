package client

import (
	"container/list"
	"fmt"

	"github.com/cespare/xxhash"

	"github.com/kestreldb/kestrel-go/protocol"
)

// preparedStatement is a server-side statement the connection has already
// parsed and described.
type preparedStatement struct {
	name      string
	query     string
	paramOIDs []uint32
	fields    []protocol.FieldDescription
}

// statementCache is a per-connection LRU of prepared statements keyed by a
// hash of the query text. It is not safe for concurrent use; the owning
// connection serializes access.
type statementCache struct {
	capacity int
	seq      uint64
	entries  map[uint64]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key  uint64
	stmt *preparedStatement
}

func newStatementCache(capacity int) *statementCache {
	return &statementCache{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

func cacheKey(query string) uint64 {
	return xxhash.Sum64String(query)
}

// Get returns the cached statement for query, promoting it to most recently
// used.
func (c *statementCache) Get(query string) (*preparedStatement, bool) {
	el, ok := c.entries[cacheKey(query)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).stmt, true
}

// Put inserts a statement and returns the evicted statement, if the cache
// was full. The caller is responsible for closing the evicted statement on
// the server.
func (c *statementCache) Put(stmt *preparedStatement) *preparedStatement {
	key := cacheKey(stmt.query)
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).stmt = stmt
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, stmt: stmt})
	if c.order.Len() <= c.capacity {
		return nil
	}

	oldest := c.order.Back()
	c.order.Remove(oldest)
	entry := oldest.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	return entry.stmt
}

// Remove drops the cached statement for query without closing it.
func (c *statementCache) Remove(query string) {
	key := cacheKey(query)
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// NextName returns a fresh server-side statement name unique within this
// connection.
func (c *statementCache) NextName() string {
	c.seq++
	return fmt.Sprintf("kstmt_%d", c.seq)
}

// Len returns the number of cached statements.
func (c *statementCache) Len() int {
	return c.order.Len()
}

// Clear empties the cache and returns the statements that were cached, so
// the caller can close them server-side.
func (c *statementCache) Clear() []*preparedStatement {
	out := make([]*preparedStatement, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry).stmt)
	}
	c.entries = make(map[uint64]*list.Element, c.capacity)
	c.order.Init()
	return out
}
