// Package partition implements PartitionedTable: a table whose rows
// live in per-partition .ndts files under a base directory, split
// either by time bucket or by hash bucket of a chosen column, with
// lazily-opened and cached per-partition AppendWriters.
package partition

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/index"
	"github.com/mgttt/ndtsdb/ndtserr"
	"github.com/mgttt/ndtsdb/table"
	"github.com/mgttt/ndtsdb/writer"
)

// Scheme selects how rows are assigned to partitions.
type Scheme int

const (
	// Time buckets rows by floor(row[column] / interval) * interval.
	Time Scheme = iota
	// Hash buckets rows by fnv32(stringified row[column]) mod buckets.
	Hash
)

type options struct {
	fs              afero.Fs
	logger          *zap.Logger
	interval        int64 // nanoseconds, for Time scheme
	buckets         int   // for Hash scheme
	writerOpts      []writer.Option
}

func defaultOptions() options {
	return options{
		fs:       afero.NewOsFs(),
		logger:   zap.NewNop(),
		interval: int64(time.Hour),
		buckets:  16,
	}
}

// Option configures Open.
type Option func(*options)

func WithFilesystem(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
func WithInterval(d time.Duration) Option { return func(o *options) { o.interval = int64(d) } }
func WithBuckets(n int) Option            { return func(o *options) { o.buckets = n } }
func WithWriterOptions(opts ...writer.Option) Option {
	return func(o *options) { o.writerOpts = append(o.writerOpts, opts...) }
}

// PartitionedTable owns a directory of per-partition .ndts files, all
// sharing one schema, split on one named column by either time or
// hash scheme.
type PartitionedTable struct {
	baseDir string
	schema  *column.Schema
	column  string
	scheme  Scheme
	opts    options

	mu       sync.Mutex
	writers  map[string]*writer.AppendWriter
}

// Open creates baseDir if missing and returns a PartitionedTable
// splitting on column using scheme. Existing partition files under
// baseDir are discovered lazily, on first access via getPartitions or
// query, not at Open time.
func Open(baseDir string, schema *column.Schema, column string, scheme Scheme, opts ...Option) (*PartitionedTable, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	if _, ok := schema.IndexOf(column); !ok {
		return nil, ndtserr.New(ndtserr.ColumnMissing, "no partition column %q in schema", column)
	}
	if err := cfg.fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "creating partition directory %s", baseDir)
	}
	return &PartitionedTable{
		baseDir: baseDir,
		schema:  schema,
		column:  column,
		scheme:  scheme,
		opts:    cfg,
		writers: map[string]*writer.AppendWriter{},
	}, nil
}

// bucketLabel computes the partition label a record belongs to.
func (p *PartitionedTable) bucketLabel(rec column.Record) (string, error) {
	v, ok := rec[p.column]
	if !ok {
		return "", ndtserr.New(ndtserr.MissingField, "record missing partition column %q", p.column)
	}
	switch p.scheme {
	case Time:
		ts, err := asInt64(v)
		if err != nil {
			return "", err
		}
		bucket := (ts / p.opts.interval) * p.opts.interval
		return fmt.Sprintf("t_%020d", bucket), nil
	case Hash:
		h := fnv.New32a()
		fmt.Fprintf(h, "%v", v)
		b := int(h.Sum32()) % p.opts.buckets
		if b < 0 {
			b += p.opts.buckets
		}
		return fmt.Sprintf("h_%04d", b), nil
	}
	return "", ndtserr.New(ndtserr.Unknown, "unknown partition scheme")
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	default:
		return 0, ndtserr.New(ndtserr.TypeError, "partition column value %v is not numeric", v)
	}
}

func (p *PartitionedTable) writerFor(label string) (*writer.AppendWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[label]; ok {
		return w, nil
	}
	path := filepath.Join(p.baseDir, label+".ndts")
	w, err := writer.Open(path, p.schema, append([]writer.Option{
		writer.WithFilesystem(p.opts.fs),
		writer.WithLogger(p.opts.logger),
	}, p.opts.writerOpts...)...)
	if err != nil {
		return nil, err
	}
	p.writers[label] = w
	return w, nil
}

// Append routes each record to its partition's writer, opening
// writers lazily and caching them.
func (p *PartitionedTable) Append(records []column.Record) error {
	byLabel := map[string][]column.Record{}
	var order []string
	for _, rec := range records {
		label, err := p.bucketLabel(rec)
		if err != nil {
			return err
		}
		if _, seen := byLabel[label]; !seen {
			order = append(order, label)
		}
		byLabel[label] = append(byLabel[label], rec)
	}
	for _, label := range order {
		w, err := p.writerFor(label)
		if err != nil {
			return err
		}
		if err := w.Append(byLabel[label]); err != nil {
			return err
		}
	}
	return nil
}

// PartitionInfo describes one on-disk partition.
type PartitionInfo struct {
	Label    string
	RowCount int
}

// GetPartitions lists every partition file under baseDir (whether or
// not it has an open writer in this process) with its row count.
func (p *PartitionedTable) GetPartitions(ctx context.Context) ([]PartitionInfo, error) {
	entries, err := afero.ReadDir(p.opts.fs, p.baseDir)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "reading partition directory %s", p.baseDir)
	}
	var labels []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".ndts" {
			labels = append(labels, name[:len(name)-len(".ndts")])
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	infos := make([]PartitionInfo, len(labels))
	for i, label := range labels {
		i, label := i, label
		g.Go(func() error {
			h, _, err := writer.ReadAllFromPath(p.opts.fs, filepath.Join(p.baseDir, label+".ndts"))
			if err != nil {
				return err
			}
			infos[i] = PartitionInfo{Label: label, RowCount: int(h.TotalRows)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Label < infos[j].Label })
	return infos, nil
}

// TimeRange is a closed-open numeric bound [Lo, Hi) on the partition
// column, used to prune which partition files query needs to open at
// all when the scheme is Time.
type TimeRange struct {
	HasLo bool
	Lo    int64
	HasHi bool
	Hi    int64
}

// overlaps reports whether the partition starting at bucketStart and
// spanning p.opts.interval can contain any row in tr.
func (p *PartitionedTable) overlaps(bucketStart int64, tr *TimeRange) bool {
	if tr == nil {
		return true
	}
	bucketEnd := bucketStart + p.opts.interval
	if tr.HasHi && bucketStart >= tr.Hi {
		return false
	}
	if tr.HasLo && bucketEnd <= tr.Lo {
		return false
	}
	return true
}

// Query scans every partition (pruned by timeRange when the scheme is
// Time), reads each surviving partition's live rows via readAll, and
// returns them merged into one in-memory ColumnarTable, applying pred
// as a post-filter row-by-row. pred may be nil to mean "keep all".
func (p *PartitionedTable) Query(ctx context.Context, pred func(column.Record) bool, timeRange *TimeRange) (*table.ColumnarTable, error) {
	entries, err := afero.ReadDir(p.opts.fs, p.baseDir)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "reading partition directory %s", p.baseDir)
	}

	out := table.New(p.schema, 1024)
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".ndts" {
			continue
		}
		label := name[:len(name)-len(".ndts")]
		if p.scheme == Time && timeRange != nil {
			var bucketStart int64
			if _, err := fmt.Sscanf(label, "t_%020d", &bucketStart); err == nil {
				if !p.overlaps(bucketStart, timeRange) {
					continue
				}
			}
		}

		var bufs []*column.Buffer
		p.mu.Lock()
		w, cached := p.writers[label]
		p.mu.Unlock()
		if cached {
			bufs = w.ReadAllFiltered()
		} else {
			_, raw, err := writer.ReadAllFromPath(p.opts.fs, filepath.Join(p.baseDir, name))
			if err != nil {
				return nil, err
			}
			bufs = raw
		}
		if len(bufs) == 0 {
			continue
		}
		n := bufs[0].Len()
		for i := 0; i < n; i++ {
			rec := make(column.Record, len(p.schema.Fields))
			for fi, f := range p.schema.Fields {
				rec[f.Name] = bufs[fi].Any(i)
			}
			if pred != nil && !pred(rec) {
				continue
			}
			if err := out.Append(rec); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// ExtractTimeRange recovers a closed/open numeric range from an
// AND-chained set of comparison predicates on the partition column,
// the minimal surface the SQL planner needs to call before Query: it
// walks a flattened predicate map (column -> index.Predicate) rather
// than a raw WHERE AST, leaving AST-level extraction to the executor,
// which already flattens AND-chains during planning.
func ExtractTimeRange(predicates map[string]index.Predicate, column string) *TimeRange {
	p, ok := predicates[column]
	if !ok {
		return nil
	}
	tr := &TimeRange{}
	if p.Eq != nil {
		tr.HasLo, tr.Lo = true, int64(p.Eq.Num)
		tr.HasHi, tr.Hi = true, int64(p.Eq.Num)+1
		return tr
	}
	if p.Gte != nil {
		tr.HasLo, tr.Lo = true, int64(p.Gte.Num)
	} else if p.Gt != nil {
		tr.HasLo, tr.Lo = true, int64(p.Gt.Num)+1
	}
	if p.Lte != nil {
		tr.HasHi, tr.Hi = true, int64(p.Lte.Num)+1
	} else if p.Lt != nil {
		tr.HasHi, tr.Hi = true, int64(p.Lt.Num)
	}
	if !tr.HasLo && !tr.HasHi {
		return nil
	}
	return tr
}

// Vacuum compacts every cached-or-discoverable partition whose time
// bucket ended more than olderThan ago — a bulk operation spec.md
// implies via closeAll's "flush all writer caches" but never names,
// useful for reclaiming tombstoned space in cold partitions without
// touching the hot, actively-written ones.
func (p *PartitionedTable) Vacuum(ctx context.Context, olderThan time.Duration) (int, error) {
	if p.scheme != Time {
		return 0, ndtserr.New(ndtserr.Unknown, "Vacuum is only meaningful for time-partitioned tables")
	}
	entries, err := afero.ReadDir(p.opts.fs, p.baseDir)
	if err != nil {
		return 0, ndtserr.Wrap(ndtserr.IOError, err, "reading partition directory %s", p.baseDir)
	}
	cutoff := time.Now().Add(-olderThan).UnixNano()
	compacted := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".ndts" {
			continue
		}
		label := name[:len(name)-len(".ndts")]
		var bucketStart int64
		if _, err := fmt.Sscanf(label, "t_%020d", &bucketStart); err != nil {
			continue
		}
		if bucketStart+p.opts.interval >= cutoff {
			continue
		}
		w, err := p.writerFor(label)
		if err != nil {
			return compacted, err
		}
		if _, _, err := w.Compact(); err != nil {
			return compacted, err
		}
		compacted++
	}
	return compacted, nil
}

// CloseAll flushes and closes every cached writer, clearing the
// writer cache.
func (p *PartitionedTable) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for label, w := range p.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.writers, label)
	}
	return first
}
