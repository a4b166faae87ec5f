// Package writer implements AppendWriter, the single-writer owner of
// one .ndts file: open/create/reopen, chunked append, verify,
// tombstone-based logical delete, and crash-safe rewrites
// (deleteWhere, compact, updateWhere) with an autoCompact policy.
package writer

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/c2h5oh/datasize"
	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/ndts"
	"github.com/mgttt/ndtsdb/ndtserr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultBatchSize = 4096

type options struct {
	fs                  afero.Fs
	logger              *zap.Logger
	exclusiveLock       bool
	coldCompression     bool
	coldCodec           ndts.ColdCodec
	compactThreshold    float64
	compactMinRows      int
	compactMaxChunks    int
	compactMaxWrites    int
	compactMaxFileSize  datasize.ByteSize
	rewriteBatchSize    int
}

func defaultOptions() options {
	return options{
		fs:                 afero.NewOsFs(),
		logger:             zap.NewNop(),
		coldCodec:          ndts.ColdSnappy,
		compactThreshold:   0.3,
		compactMinRows:     1000,
		compactMaxChunks:   256,
		compactMaxWrites:   4096,
		compactMaxFileSize: 256 * datasize.MB,
		rewriteBatchSize:   defaultBatchSize,
	}
}

// Option configures Open, following the functional-options shape used
// throughout the teacher's own small subsystems.
type Option func(*options)

func WithFilesystem(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
func WithExclusiveLock(b bool) Option         { return func(o *options) { o.exclusiveLock = b } }
func WithColdCompression(b bool) Option       { return func(o *options) { o.coldCompression = b } }
func WithColdCodec(c ndts.ColdCodec) Option   { return func(o *options) { o.coldCodec = c } }
func WithCompactThreshold(ratio float64) Option {
	return func(o *options) { o.compactThreshold = ratio }
}
func WithCompactMinRows(n int) Option   { return func(o *options) { o.compactMinRows = n } }
func WithCompactMaxChunks(n int) Option { return func(o *options) { o.compactMaxChunks = n } }
func WithCompactMaxWrites(n int) Option { return func(o *options) { o.compactMaxWrites = n } }
func WithCompactMaxFileSize(sz datasize.ByteSize) Option {
	return func(o *options) { o.compactMaxFileSize = sz }
}

// AppendWriter owns one .ndts file across its Open/Close lifecycle. It
// keeps a full in-memory mirror of the file's rows (bufs) so that
// dictionaries continue without renumbering across reopen and so
// rewrites (deleteWhere/compact/updateWhere) never need a second pass
// over disk.
type AppendWriter struct {
	path     string
	tombPath string
	opts     options
	lock     *flock.Flock

	schema   *column.Schema
	f        afero.File
	headerLen int64

	bufs               []*column.Buffer
	dictLen            []int
	rowCount           uint64
	chunkCount         uint32
	writesSinceCompact int
	tombstones         map[uint64]struct{}
}

// Stat is AppendWriter's observability snapshot, the natural companion
// to Verify that spec.md's file format section never names but every
// operational tool ends up needing.
type Stat struct {
	TotalRows    uint64
	ChunkCount   uint32
	DeletedCount int
	FileSize     int64
	DictSizes    map[string]int
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Open creates the file if missing (writing a header for schema) or
// reopens an existing one, validating schema compatibility and
// replaying its chunk stream to rebuild dictionaries, row count and
// chunk count from the authoritative chunk stream rather than trusting
// a possibly-stale header snapshot.
func Open(path string, schema *column.Schema, opts ...Option) (*AppendWriter, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}

	w := &AppendWriter{
		path:       path,
		tombPath:   path + ".tomb",
		opts:       cfg,
		schema:     schema,
		tombstones: map[uint64]struct{}{},
	}

	if cfg.exclusiveLock {
		w.lock = flock.New(path + ".lock")
		ok, err := w.lock.TryLock()
		if err != nil {
			return nil, ndtserr.Wrap(ndtserr.IOError, err, "acquiring exclusive lock on %s", path)
		}
		if !ok {
			return nil, ndtserr.New(ndtserr.IOError, "%s is locked by another writer", path)
		}
	}

	exists, err := afero.Exists(cfg.fs, path)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "stat %s", path)
	}

	if !exists {
		w.bufs = make([]*column.Buffer, len(schema.Fields))
		w.dictLen = make([]int, len(schema.Fields))
		for i, f := range schema.Fields {
			w.bufs[i] = column.NewBuffer(f.Kind, 64)
		}
		h := &ndts.Header{Version: ndts.CurrentVersion, Schema: schema, Dicts: map[string][]string{}}
		hb, err := ndts.EncodeHeader(h)
		if err != nil {
			return nil, err
		}
		f, err := cfg.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, ndtserr.Wrap(ndtserr.IOError, err, "creating %s", path)
		}
		if _, err := f.Write(hb); err != nil {
			return nil, ndtserr.Wrap(ndtserr.IOError, err, "writing header to %s", path)
		}
		w.f = f
		w.headerLen = int64(len(hb))
		cfg.logger.Info("ndtsdb: created append log", zap.String("path", path))
		return w, nil
	}

	rf, err := cfg.fs.Open(path)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "opening %s", path)
	}
	cr := &countingReader{r: rf}
	h, err := ndts.DecodeHeader(cr)
	if err != nil {
		rf.Close()
		return nil, err
	}
	if !h.Schema.Equal(schema) {
		rf.Close()
		return nil, ndtserr.New(ndtserr.SchemaMismatch, "schema of %s does not match the requested schema", path)
	}
	w.headerLen = cr.n
	w.schema = h.Schema

	bufs := make([]*column.Buffer, len(h.Schema.Fields))
	for i, f := range h.Schema.Fields {
		bufs[i] = column.NewBuffer(f.Kind, 64)
	}
	var totalRows uint64
	var chunkCount uint32
	for {
		n, err := ndts.DecodeChunkInto(cr, h.Schema, bufs)
		if err != nil {
			if err == io.EOF {
				break
			}
			rf.Close()
			return nil, ndtserr.Wrap(ndtserr.CorruptChunk, err, "replaying chunk %d of %s", chunkCount, path)
		}
		totalRows += uint64(n)
		chunkCount++
	}
	rf.Close()

	w.bufs = bufs
	w.rowCount = totalRows
	w.chunkCount = chunkCount
	w.dictLen = make([]int, len(h.Schema.Fields))
	for i, f := range h.Schema.Fields {
		if f.Kind == column.String {
			w.dictLen[i] = bufs[i].Dict.Len()
		}
	}

	if tombExists, _ := afero.Exists(cfg.fs, w.tombPath); tombExists {
		tb, err := afero.ReadFile(cfg.fs, w.tombPath)
		if err != nil {
			return nil, ndtserr.Wrap(ndtserr.IOError, err, "reading tombstone sidecar %s", w.tombPath)
		}
		var rows []uint64
		if err := json.Unmarshal(tb, &rows); err != nil {
			return nil, ndtserr.Wrap(ndtserr.IOError, err, "decoding tombstone sidecar %s", w.tombPath)
		}
		for _, r := range rows {
			w.tombstones[r] = struct{}{}
		}
	}

	f, err := cfg.fs.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "reopening %s for append", path)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "seeking to end of %s", path)
	}
	w.f = f
	cfg.logger.Info("ndtsdb: reopened append log",
		zap.String("path", path), zap.Uint64("totalRows", totalRows), zap.Uint32("chunkCount", chunkCount))
	return w, nil
}

// Append encodes records as one new chunk and writes it at EOF. Row
// indices assigned are monotonic and become visible to readers only
// once the chunk, including its CRC, is fully on disk.
func (w *AppendWriter) Append(records []column.Record) error {
	if len(records) == 0 {
		return nil
	}
	start := w.bufs[0].Len()
	for _, rec := range records {
		if err := column.RequireAll(w.schema, rec); err != nil {
			return err
		}
		for i, f := range w.schema.Fields {
			if err := w.bufs[i].AppendValue(f.Name, rec[f.Name]); err != nil {
				return err
			}
		}
	}
	chunk := ndts.EncodeChunk(w.schema, w.bufs, start, len(records), w.dictLen, ndts.ColdNone)
	if _, err := w.f.Write(chunk); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "appending chunk to %s", w.path)
	}
	for i, f := range w.schema.Fields {
		if f.Kind == column.String {
			w.dictLen[i] = w.bufs[i].Dict.Len()
		}
	}
	w.rowCount += uint64(len(records))
	w.chunkCount++
	w.writesSinceCompact++
	w.opts.logger.Info("ndtsdb: appended chunk",
		zap.String("path", w.path), zap.Int("rows", len(records)), zap.Uint32("chunkCount", w.chunkCount))
	return nil
}

// Close refreshes the on-disk header with the session's final
// totalRows/chunkCount/dictionary snapshot via temp-file+rename (the
// chunk stream bytes are carried over unchanged), running autoCompact
// first if its policy thresholds are met.
func (w *AppendWriter) Close() error {
	if w.shouldAutoCompact() {
		if _, _, err := w.Compact(); err != nil {
			return err
		}
	}

	h := &ndts.Header{
		Version:    ndts.CurrentVersion,
		Schema:     w.schema,
		TotalRows:  w.rowCount,
		ChunkCount: w.chunkCount,
		Dicts:      dictSnapshot(w.bufs, w.schema),
	}
	hb, err := ndts.EncodeHeader(h)
	if err != nil {
		return err
	}

	rf, err := w.opts.fs.Open(w.path)
	if err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "reopening %s to refresh header", w.path)
	}
	if _, err := rf.Seek(w.headerLen, io.SeekStart); err != nil {
		rf.Close()
		return ndtserr.Wrap(ndtserr.IOError, err, "seeking past old header of %s", w.path)
	}

	tmp, err := afero.TempFile(w.opts.fs, filepath.Dir(w.path), "ndtsdb-close-*")
	if err != nil {
		rf.Close()
		return ndtserr.Wrap(ndtserr.IOError, err, "creating temp file for %s", w.path)
	}
	if _, err := tmp.Write(hb); err != nil {
		rf.Close()
		tmp.Close()
		return ndtserr.Wrap(ndtserr.IOError, err, "writing refreshed header")
	}
	if _, err := io.Copy(tmp, rf); err != nil {
		rf.Close()
		tmp.Close()
		return ndtserr.Wrap(ndtserr.IOError, err, "copying chunk stream into refreshed file")
	}
	rf.Close()
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "closing temp file")
	}

	if err := w.f.Close(); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "closing %s", w.path)
	}
	if err := w.opts.fs.Rename(tmpName, w.path); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "renaming refreshed header into place")
	}

	w.opts.logger.Info("ndtsdb: closed append log",
		zap.String("path", w.path), zap.Uint64("totalRows", w.rowCount), zap.Uint32("chunkCount", w.chunkCount))

	if w.lock != nil {
		w.lock.Unlock()
	}
	return nil
}

// Stat returns a point-in-time snapshot of the writer's state.
func (w *AppendWriter) Stat() (Stat, error) {
	info, err := w.opts.fs.Stat(w.path)
	if err != nil {
		return Stat{}, ndtserr.Wrap(ndtserr.IOError, err, "stat %s", w.path)
	}
	dictSizes := map[string]int{}
	for i, f := range w.schema.Fields {
		if f.Kind == column.String {
			dictSizes[f.Name] = w.bufs[i].Dict.Len()
		}
	}
	return Stat{
		TotalRows:    w.rowCount,
		ChunkCount:   w.chunkCount,
		DeletedCount: len(w.tombstones),
		FileSize:     info.Size(),
		DictSizes:    dictSizes,
	}, nil
}

// ReadAll returns the writer's live in-memory mirror of every row,
// tombstoned or not — equivalent to the spec's static readAll but
// served from memory since AppendWriter already maintains it.
func (w *AppendWriter) ReadAll() []*column.Buffer { return w.bufs }

// ReadAllFiltered returns a fresh set of buffers containing only rows
// not present in the tombstone set, leaving the writer's own state
// untouched.
func (w *AppendWriter) ReadAllFiltered() []*column.Buffer {
	out := newBuffers(w.schema)
	for i := 0; i < int(w.rowCount); i++ {
		if _, dead := w.tombstones[uint64(i)]; dead {
			continue
		}
		appendBoxedRow(out, w.schema, w.bufs, i)
	}
	return out
}

// DeleteWhereWithTombstone logically deletes rows matching pred by
// recording their absolute row indices in the sidecar file, without
// rewriting the main file.
func (w *AppendWriter) DeleteWhereWithTombstone(pred func(column.Record) bool) (int, error) {
	added := 0
	for i := 0; i < int(w.rowCount); i++ {
		if _, already := w.tombstones[uint64(i)]; already {
			continue
		}
		if pred(boxRow(w.schema, w.bufs, i)) {
			w.tombstones[uint64(i)] = struct{}{}
			added++
		}
	}
	if added > 0 {
		if err := w.writeTombstones(); err != nil {
			return 0, err
		}
	}
	return added, nil
}

// DeleteWhere physically rewrites the file keeping only rows for which
// pred is false.
func (w *AppendWriter) DeleteWhere(pred func(column.Record) bool) (before, after int, err error) {
	return w.rewrite(func(i int) (bool, column.Record) {
		rec := boxRow(w.schema, w.bufs, i)
		return !pred(rec), rec
	}, ndts.ColdNone)
}

// UpdateWhere rewrites the file, replacing rows matching pred with
// transform(row); non-matching rows are carried over unchanged.
func (w *AppendWriter) UpdateWhere(pred func(column.Record) bool, transform func(column.Record) column.Record) (updated int, err error) {
	updated = 0
	_, _, err = w.rewrite(func(i int) (bool, column.Record) {
		rec := boxRow(w.schema, w.bufs, i)
		if pred(rec) {
			updated++
			rec = transform(rec)
		}
		return true, rec
	}, ndts.ColdNone)
	return updated, err
}

// Compact rewrites the file dropping tombstoned rows, applying the
// configured cold codec when WithColdCompression is set, then clears
// the sidecar. Crash-safe ordering: the rename over the live file
// happens before the sidecar is removed, so recovery after a crash
// either sees the old (file, sidecar) pair or the new compacted file
// with no sidecar — never a partial mix.
func (w *AppendWriter) Compact() (before, after int, err error) {
	cold := ndts.ColdNone
	if w.opts.coldCompression {
		cold = w.opts.coldCodec
	}
	before, after, err = w.rewrite(func(i int) (bool, column.Record) {
		_, dead := w.tombstones[uint64(i)]
		return !dead, boxRow(w.schema, w.bufs, i)
	}, cold)
	if err != nil {
		return before, after, err
	}
	w.opts.logger.Info("ndtsdb: compacted", zap.String("path", w.path), zap.Int("before", before), zap.Int("after", after))
	return before, after, nil
}

func (w *AppendWriter) shouldAutoCompact() bool {
	o := w.opts
	if w.rowCount > 0 {
		ratio := float64(len(w.tombstones)) / float64(w.rowCount)
		if ratio >= o.compactThreshold && int(w.rowCount) >= o.compactMinRows {
			return true
		}
	}
	if int(w.chunkCount) > o.compactMaxChunks {
		return true
	}
	if w.writesSinceCompact > o.compactMaxWrites {
		return true
	}
	if info, err := o.fs.Stat(w.path); err == nil {
		if datasize.ByteSize(info.Size()) > o.compactMaxFileSize {
			return true
		}
	}
	return false
}

// rewrite is the shared crash-safe rewrite mechanism behind
// DeleteWhere, UpdateWhere and Compact: it walks every current row
// through decide, which reports whether to keep the row and the
// (possibly transformed) values to persist, then writes a fresh file
// via temp+rename and resets the writer's in-memory state to match.
func (w *AppendWriter) rewrite(decide func(i int) (keep bool, rec column.Record), cold ndts.ColdCodec) (before, after int, err error) {
	before = int(w.rowCount)
	newBufs := newBuffers(w.schema)
	for i := 0; i < before; i++ {
		keep, rec := decide(i)
		if !keep {
			continue
		}
		for _, f := range w.schema.Fields {
			if err := newBufs[indexOf(w.schema, f.Name)].AppendValue(f.Name, rec[f.Name]); err != nil {
				return before, after, err
			}
		}
	}
	after = newBufs[0].Len()

	batch := w.opts.rewriteBatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	dictLen := make([]int, len(w.schema.Fields))
	var chunks [][]byte
	for start := 0; start < after; start += batch {
		n := batch
		if start+n > after {
			n = after - start
		}
		chunks = append(chunks, ndts.EncodeChunk(w.schema, newBufs, start, n, dictLen, cold))
		for i, f := range w.schema.Fields {
			if f.Kind == column.String {
				dictLen[i] = newBufs[i].Dict.Len()
			}
		}
	}

	h := &ndts.Header{
		Version:    ndts.CurrentVersion,
		Schema:     w.schema,
		TotalRows:  uint64(after),
		ChunkCount: uint32(len(chunks)),
		Dicts:      dictSnapshot(newBufs, w.schema),
	}
	hb, err := ndts.EncodeHeader(h)
	if err != nil {
		return before, after, err
	}

	tmp, err := afero.TempFile(w.opts.fs, filepath.Dir(w.path), "ndtsdb-rewrite-*")
	if err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "creating rewrite temp file")
	}
	if _, err := tmp.Write(hb); err != nil {
		tmp.Close()
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "writing rewritten header")
	}
	for _, c := range chunks {
		if _, err := tmp.Write(c); err != nil {
			tmp.Close()
			return before, after, ndtserr.Wrap(ndtserr.IOError, err, "writing rewritten chunk")
		}
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "closing rewrite temp file")
	}

	if err := w.f.Close(); err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "closing current file before rewrite")
	}
	if err := w.opts.fs.Rename(tmpName, w.path); err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "renaming rewritten file into place")
	}
	if exists, _ := afero.Exists(w.opts.fs, w.tombPath); exists {
		if err := w.opts.fs.Remove(w.tombPath); err != nil {
			return before, after, ndtserr.Wrap(ndtserr.IOError, err, "removing stale tombstone sidecar")
		}
	}

	f2, err := w.opts.fs.OpenFile(w.path, os.O_RDWR, 0644)
	if err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "reopening rewritten file")
	}
	if _, err := f2.Seek(0, io.SeekEnd); err != nil {
		return before, after, ndtserr.Wrap(ndtserr.IOError, err, "seeking to end of rewritten file")
	}

	w.f = f2
	w.headerLen = int64(len(hb))
	w.bufs = newBufs
	w.dictLen = dictLen
	w.rowCount = uint64(after)
	w.chunkCount = uint32(len(chunks))
	w.tombstones = map[uint64]struct{}{}
	w.writesSinceCompact = 0
	return before, after, nil
}

func (w *AppendWriter) writeTombstones() error {
	rows := make([]uint64, 0, len(w.tombstones))
	for r := range w.tombstones {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(w.opts.fs, w.tombPath, b, 0644); err != nil {
		return ndtserr.Wrap(ndtserr.IOError, err, "writing tombstone sidecar %s", w.tombPath)
	}
	return nil
}

func newBuffers(schema *column.Schema) []*column.Buffer {
	out := make([]*column.Buffer, len(schema.Fields))
	for i, f := range schema.Fields {
		out[i] = column.NewBuffer(f.Kind, 64)
	}
	return out
}

func indexOf(schema *column.Schema, name string) int {
	i, _ := schema.IndexOf(name)
	return i
}

func boxRow(schema *column.Schema, bufs []*column.Buffer, i int) column.Record {
	rec := make(column.Record, len(schema.Fields))
	for idx, f := range schema.Fields {
		rec[f.Name] = bufs[idx].Any(i)
	}
	return rec
}

func appendBoxedRow(dest []*column.Buffer, schema *column.Schema, src []*column.Buffer, i int) {
	for idx, f := range schema.Fields {
		dest[idx].AppendValue(f.Name, src[idx].Any(i))
	}
}

func dictSnapshot(bufs []*column.Buffer, schema *column.Schema) map[string][]string {
	m := map[string][]string{}
	for i, f := range schema.Fields {
		if f.Kind == column.String {
			m[f.Name] = append([]string{}, bufs[i].Dict.Values()...)
		}
	}
	return m
}

// ReadAllFromPath opens path read-only and replays its full chunk
// stream, the package-level counterpart to AppendWriter.ReadAll for
// callers that do not want to hold the file open for writing.
func ReadAllFromPath(fs afero.Fs, path string) (*ndts.Header, []*column.Buffer, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, ndtserr.Wrap(ndtserr.IOError, err, "opening %s", path)
	}
	defer f.Close()
	return ndts.ReadAllRaw(f)
}

// VerifyPath opens path read-only and runs a read-only integrity scan.
func VerifyPath(fs afero.Fs, path string) (*ndts.VerifyResult, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, ndtserr.Wrap(ndtserr.IOError, err, "opening %s", path)
	}
	defer f.Close()
	return ndts.Verify(f)
}
