// Package exec implements the SQL executor: binding, index planning,
// scan, join, group/aggregate, window, project, order, and limit —
// the interpretive pipeline over sql/ast trees described for this
// engine's query surface.
package exec

import (
	"sync"

	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/table"
)

// Catalog is the executor's table registry: the set of base
// ColumnarTables a query's FROM/JOIN clauses can name.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*table.ColumnarTable
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tables: map[string]*table.ColumnarTable{}}
}

// Register binds name to t, replacing any prior binding.
func (c *Catalog) Register(name string, t *table.ColumnarTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[name] = t
}

// clone returns a shallow copy of c: a new registry sharing the same
// underlying table pointers, used to give a WITH clause's CTEs a
// scratch namespace without mutating the caller's catalog.
func (c *Catalog) clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := NewCatalog()
	for k, v := range c.tables {
		out.tables[k] = v
	}
	return out
}

// Lookup returns the table bound to name.
func (c *Catalog) Lookup(name string) (*table.ColumnarTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, ndtserr.New(ndtserr.SQLPlanError, "no such table %q", name)
	}
	return t, nil
}

// Result is the shape every query produces: column names in
// projection order, one Row per output row, and a cached count.
type Result struct {
	Columns  []string
	Rows     []Row
	RowCount int
}

// Row is one output row, keyed by output column name.
type Row map[string]interface{}
