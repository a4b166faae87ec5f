// Package mmap implements MmapPool, the zero-copy read path over a
// set of .ndts files: each file is mapped once with mmap(2), its
// chunk stream decoded against the mapped bytes, and the resulting
// typed column buffers handed out by reference so repeated callers of
// GetColumn for the same (symbol, column) share the same backing
// storage.
package mmap

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	mmapgo "github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndts"
	"github.com/mgttt/ndtsdb/ndtserr"
)

const defaultMaxOpenFiles = 256

type options struct {
	maxOpenFiles int
	logger       *zap.Logger
}

func defaultOptions() options {
	return options{maxOpenFiles: defaultMaxOpenFiles, logger: zap.NewNop()}
}

// Option configures NewPool.
type Option func(*options)

// WithMaxOpenFiles bounds how many files may be mapped simultaneously;
// mapping one more evicts (and unmaps) the least-recently-used file.
func WithMaxOpenFiles(n int) Option { return func(o *options) { o.maxOpenFiles = n } }

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// mappedFile owns one mmap'd .ndts file: the raw mapping plus its
// fully-decoded column buffers, computed once at map time. Decoding
// once and caching the result is what makes repeated GetColumn calls
// return the same backing slices without re-scanning the chunk
// stream on every call — the "shared buffer" half of the zero-copy
// contract. The mmap itself is what avoids a read() syscall copy per
// access; per spec this is documented as best-effort rather than a
// literal unsafe aliasing of the mapped bytes, since the wire format's
// dictionary codes and optional Delta/RLE/cold codecs are not
// byte-for-byte addressable without decoding.
type mappedFile struct {
	path   string
	f      *os.File
	region mmapgo.MMap
	header *ndts.Header
	bufs   []*column.Buffer
}

func (m *mappedFile) columnIndex(name string) (int, bool) {
	return m.header.Schema.IndexOf(name)
}

func (m *mappedFile) close() error {
	var err error
	if uerr := m.region.Unmap(); uerr != nil {
		err = uerr
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func mapFile(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ndtserr.New(ndtserr.FileNotFound, "%s does not exist", path)
		}
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "opening %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "stat %s", path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ndtserr.New(ndtserr.CorruptHeader, "%s is empty", path)
	}

	region, err := mmapgo.Map(f, mmapgo.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "mmap %s", path)
	}

	r := bytes.NewReader(region)
	h, err := ndts.DecodeHeader(r)
	if err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}

	bufs := make([]*column.Buffer, len(h.Schema.Fields))
	for i, fld := range h.Schema.Fields {
		bufs[i] = column.NewBuffer(fld.Kind, 64)
	}
	for {
		if _, err := ndts.DecodeChunkInto(r, h.Schema, bufs); err != nil {
			if err == io.EOF {
				break
			}
			region.Unmap()
			f.Close()
			return nil, err
		}
	}

	return &mappedFile{path: path, f: f, region: region, header: h, bufs: bufs}, nil
}

// MmapPool maps a set of .ndts files read-only and hands out typed
// column views, bounding the number of simultaneously mapped files
// with an LRU eviction policy.
type MmapPool struct {
	opts    options
	mu      sync.RWMutex
	cache   *lru.Cache[string, *mappedFile]
	symbols []string
	ordinal map[string]int
}

// NewPool builds an empty pool. Call Init to map files.
func NewPool(opts ...Option) *MmapPool {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}
	p := &MmapPool{opts: cfg, ordinal: map[string]int{}}
	cache, _ := lru.NewWithEvict[string, *mappedFile](cfg.maxOpenFiles, func(symbol string, mf *mappedFile) {
		if err := mf.close(); err != nil {
			cfg.logger.Warn("ndtsdb: error unmapping evicted file", zap.String("symbol", symbol), zap.Error(err))
		} else {
			cfg.logger.Info("ndtsdb: evicted mapped file", zap.String("symbol", symbol))
		}
	})
	p.cache = cache
	return p
}

// Init maps baseDir/{symbol}.ndts for every symbol, concurrently, up
// to the pool's concurrency bound.
func (p *MmapPool) Init(ctx context.Context, symbols []string, baseDir string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtimeLimit())

	p.mu.Lock()
	for _, s := range symbols {
		if _, exists := p.ordinal[s]; !exists {
			p.ordinal[s] = len(p.symbols)
			p.symbols = append(p.symbols, s)
		}
	}
	p.mu.Unlock()

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			mf, err := mapFile(filepath.Join(baseDir, sym+".ndts"))
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.cache.Add(sym, mf)
			p.mu.Unlock()
			p.opts.logger.Info("ndtsdb: mapped symbol", zap.String("symbol", sym), zap.String("path", mf.path))
			return nil
		})
	}
	return g.Wait()
}

func runtimeLimit() int {
	return 16
}

// GetColumn returns the typed column buffer for (symbol, column). The
// returned *column.Buffer is shared across callers and must not be
// mutated; its lifetime is tied to the pool until Close.
func (p *MmapPool) GetColumn(symbol, column string) (*column.Buffer, error) {
	p.mu.RLock()
	mf, ok := p.cache.Get(symbol)
	p.mu.RUnlock()
	if !ok {
		return nil, ndtserr.New(ndtserr.FileNotFound, "symbol %q is not mapped", symbol)
	}
	i, ok := mf.columnIndex(column)
	if !ok {
		return nil, ndtserr.New(ndtserr.ColumnMissing, "no column %q in symbol %q", column, symbol)
	}
	return mf.bufs[i], nil
}

// GetSymbols returns every symbol the pool knows about, in the order
// passed to Init (their merge-tie-break ordinal).
func (p *MmapPool) GetSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.symbols...)
}

// Close unmaps every file currently held by the pool.
func (p *MmapPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, sym := range p.cache.Keys() {
		if mf, ok := p.cache.Peek(sym); ok {
			if err := mf.close(); err != nil && first == nil {
				first = err
			}
		}
	}
	p.cache.Purge()
	return first
}

// MergeRow is one emitted row of a merge stream: which symbol it came
// from and its position within that symbol's columns.
type MergeRow struct {
	Symbol string
	Row    int
}

// MmapMergeStream merges the timestamp column of several mapped
// symbols into one nondecreasing-timestamp sequence, breaking ties by
// symbol ordinal (the order symbols were passed to Init). It is a
// simple k-way merge over already-decoded, already-sorted-by-append-
// order column buffers: real time-series data is appended in
// timestamp order per symbol, so each per-symbol stream is already
// sorted and a heap-free linear scan-pointer merge suffices.
type MmapMergeStream struct {
	pool      *MmapPool
	tsColumn  string
	symbols   []string
	positions []int
	lengths   []int
	tsBufs    []*column.Buffer
}

// NewMmapMergeStream builds a merge stream over tsColumn across
// symbols, all of which must already be mapped in pool.
func NewMmapMergeStream(pool *MmapPool, tsColumn string, symbols []string) (*MmapMergeStream, error) {
	tsBufs := make([]*column.Buffer, len(symbols))
	lengths := make([]int, len(symbols))
	for i, sym := range symbols {
		buf, err := pool.GetColumn(sym, tsColumn)
		if err != nil {
			return nil, err
		}
		tsBufs[i] = buf
		lengths[i] = buf.Len()
	}
	return &MmapMergeStream{
		pool:      pool,
		tsColumn:  tsColumn,
		symbols:   append([]string(nil), symbols...),
		positions: make([]int, len(symbols)),
		lengths:   lengths,
		tsBufs:    tsBufs,
	}, nil
}

func (s *MmapMergeStream) tsAt(stream, row int) int64 {
	b := s.tsBufs[stream]
	if b.Kind == column.Int64 {
		return b.Int64At(row)
	}
	return int64(b.Int32At(row))
}

// Next returns the next row in nondecreasing timestamp order across
// all streams, or ok=false when every stream is exhausted.
func (s *MmapMergeStream) Next() (row MergeRow, ok bool) {
	best := -1
	var bestTS int64
	for i := range s.symbols {
		if s.positions[i] >= s.lengths[i] {
			continue
		}
		ts := s.tsAt(i, s.positions[i])
		if best == -1 || ts < bestTS || (ts == bestTS && s.pool.ordinal[s.symbols[i]] < s.pool.ordinal[s.symbols[best]]) {
			best = i
			bestTS = ts
		}
	}
	if best == -1 {
		return MergeRow{}, false
	}
	row = MergeRow{Symbol: s.symbols[best], Row: s.positions[best]}
	s.positions[best]++
	return row, true
}

// Drain materializes every remaining row of the stream in merge
// order, mainly useful for tests and small result sets; callers
// driving a live query should prefer Next.
func (s *MmapMergeStream) Drain() []MergeRow {
	var out []MergeRow
	for {
		r, ok := s.Next()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}
