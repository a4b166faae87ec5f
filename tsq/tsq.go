// Package tsq implements the time-series query primitives layered on
// top of plain numeric slices: tumbling-window sampling, OHLCV
// bucketing, last-row-per-key, and moving statistics in both batch and
// O(1)-amortized streaming form.
package tsq

import (
	"container/list"
	"math"
	"sort"
)

// AggKind selects a per-column aggregator for SampleBy.
type AggKind int

const (
	First AggKind = iota
	Last
	Sum
	Min
	Max
	Avg
	Count
)

// SampleSpec names one output column of a SampleBy call: apply Agg to
// Values, producing one scalar per bucket.
type SampleSpec struct {
	Name   string
	Agg    AggKind
	Values []float64
}

// SampleRow is one bucket's output row of SampleBy.
type SampleRow struct {
	BucketStart int64
	Values      map[string]float64
}

// SampleBy groups timestamps into fixed-width tumbling buckets of
// bucketMs starting at floor(t/bucketMs)*bucketMs, and for each spec
// reduces that bucket's values with the chosen aggregator. Rows are
// returned ordered by bucket start ascending. timestamps and every
// spec's Values must be parallel slices of equal length.
func SampleBy(timestamps []int64, specs []SampleSpec, bucketMs int64) []SampleRow {
	if len(timestamps) == 0 {
		return nil
	}
	type bucketState struct {
		start int64
		acc   map[string]*streamingState
	}
	order := []int64{}
	buckets := map[int64]*bucketState{}

	for i, ts := range timestamps {
		start := floorDiv(ts, bucketMs) * bucketMs
		b, ok := buckets[start]
		if !ok {
			b = &bucketState{start: start, acc: map[string]*streamingState{}}
			for _, s := range specs {
				b.acc[s.Name] = newStreamingState(s.Agg)
			}
			buckets[start] = b
			order = append(order, start)
		}
		for _, s := range specs {
			b.acc[s.Name].add(s.Values[i])
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]SampleRow, len(order))
	for i, start := range order {
		b := buckets[start]
		row := SampleRow{BucketStart: start, Values: map[string]float64{}}
		for _, s := range specs {
			row.Values[s.Name] = b.acc[s.Name].value()
		}
		out[i] = row
	}
	return out
}

type streamingState struct {
	kind    AggKind
	n       int
	sum     float64
	first   float64
	last    float64
	minVal  float64
	maxVal  float64
	started bool
}

func newStreamingState(k AggKind) *streamingState { return &streamingState{kind: k} }

func (s *streamingState) add(v float64) {
	if !s.started {
		s.first, s.minVal, s.maxVal = v, v, v
		s.started = true
	}
	s.last = v
	s.sum += v
	s.n++
	if v < s.minVal {
		s.minVal = v
	}
	if v > s.maxVal {
		s.maxVal = v
	}
}

func (s *streamingState) value() float64 {
	switch s.kind {
	case First:
		return s.first
	case Last:
		return s.last
	case Sum:
		return s.sum
	case Min:
		return s.minVal
	case Max:
		return s.maxVal
	case Count:
		return float64(s.n)
	case Avg:
		if s.n == 0 {
			return 0
		}
		return s.sum / float64(s.n)
	}
	return 0
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// OHLCVRow is one bucket's open/high/low/close/volume.
type OHLCVRow struct {
	BucketStart int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// OHLCV buckets (ts, price, volume) into fixed-width windows of
// bucketMs, producing open=first price, high=max, low=min, close=last
// price, volume=sum(volume) per bucket. The aggregator choices
// guarantee low <= open,close <= high and low <= high by construction:
// open/close are drawn from the same value set that min/max range
// over.
func OHLCV(ts []int64, price, volume []float64, bucketMs int64) []OHLCVRow {
	specs := []SampleSpec{
		{Name: "open", Agg: First, Values: price},
		{Name: "high", Agg: Max, Values: price},
		{Name: "low", Agg: Min, Values: price},
		{Name: "close", Agg: Last, Values: price},
		{Name: "volume", Agg: Sum, Values: volume},
	}
	rows := SampleBy(ts, specs, bucketMs)
	out := make([]OHLCVRow, len(rows))
	for i, r := range rows {
		out[i] = OHLCVRow{
			BucketStart: r.BucketStart,
			Open:        r.Values["open"],
			High:        r.Values["high"],
			Low:         r.Values["low"],
			Close:       r.Values["close"],
			Volume:      r.Values["volume"],
		}
	}
	return out
}

// LatestRow is one symbol's most-recent observation.
type LatestRow struct {
	SymbolID int
	Row      int
	Columns  map[string][]float64
}

// LatestOn returns, per distinct symbol id, the row index with the
// maximum timestamp; ties (equal timestamps for the same symbol) are
// broken by the later row index, matching the natural result of a
// single forward scan that overwrites on >=.
func LatestOn(symbolIDs []int, ts []int64, columns map[string][]float64) []LatestRow {
	best := map[int]int{}
	bestTS := map[int]int64{}
	order := []int{}
	for i, sym := range symbolIDs {
		if cur, ok := bestTS[sym]; !ok || ts[i] >= cur {
			if _, seen := best[sym]; !seen {
				order = append(order, sym)
			}
			best[sym] = i
			bestTS[sym] = ts[i]
		}
	}
	out := make([]LatestRow, len(order))
	for i, sym := range order {
		row := best[sym]
		cols := map[string][]float64{}
		for name, vals := range columns {
			cols[name] = []float64{vals[row]}
		}
		out[i] = LatestRow{SymbolID: sym, Row: row, Columns: cols}
	}
	return out
}

// MovingAverage computes the simple moving average with boundary
// behavior sma[i] = mean(data[max(0,i-window+1)..i]).
func MovingAverage(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	var sum float64
	for i, v := range data {
		sum += v
		if i >= window {
			sum -= data[i-window]
		}
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		n := i - lo + 1
		out[i] = sum / float64(n)
	}
	return out
}

// ExponentialMovingAverage computes EMA with alpha = 2/(window+1),
// seeded by ema[0] = data[0].
func ExponentialMovingAverage(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	alpha := 2.0 / float64(window+1)
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingStdDev computes the population standard deviation of the
// trailing window ending at each index (same boundary behavior as
// MovingAverage: fewer than window samples at the start).
func RollingStdDev(data []float64, window int) []float64 {
	out := make([]float64, len(data))
	for i := range data {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		slice := data[lo : i+1]
		mean := 0.0
		for _, v := range slice {
			mean += v
		}
		mean /= float64(len(slice))
		var variance float64
		for _, v := range slice {
			d := v - mean
			variance += d * d
		}
		variance /= float64(len(slice))
		out[i] = sqrt(variance)
	}
	return out
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Sqrt(x)
}

// StreamingSMA holds O(window) state for an amortized O(1) simple
// moving average, backed by a ring buffer.
type StreamingSMA struct {
	window int
	buf    []float64
	pos    int
	filled int
	sum    float64
}

func NewStreamingSMA(window int) *StreamingSMA {
	return &StreamingSMA{window: window, buf: make([]float64, window)}
}

func (s *StreamingSMA) Add(v float64) {
	old := s.buf[s.pos]
	s.buf[s.pos] = v
	s.sum += v
	if s.filled == s.window {
		s.sum -= old
	} else {
		s.filled++
	}
	s.pos = (s.pos + 1) % s.window
}

func (s *StreamingSMA) Value() float64 {
	if s.filled == 0 {
		return 0
	}
	return s.sum / float64(s.filled)
}

// StreamingEMA holds the running exponential moving average, seeded
// by the first sample added.
type StreamingEMA struct {
	alpha   float64
	value   float64
	started bool
}

func NewStreamingEMA(window int) *StreamingEMA {
	return &StreamingEMA{alpha: 2.0 / float64(window+1)}
}

func (e *StreamingEMA) Add(v float64) {
	if !e.started {
		e.value = v
		e.started = true
		return
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
}

func (e *StreamingEMA) Value() float64 { return e.value }

// StreamingStdDev holds a ring buffer of the trailing window and its
// running sum/sum-of-squares, updating the population standard
// deviation in amortized O(1) per Add.
type StreamingStdDev struct {
	window  int
	buf     []float64
	pos     int
	filled  int
	sum     float64
	sumSq   float64
}

func NewStreamingStdDev(window int) *StreamingStdDev {
	return &StreamingStdDev{window: window, buf: make([]float64, window)}
}

func (s *StreamingStdDev) Add(v float64) {
	old := s.buf[s.pos]
	s.buf[s.pos] = v
	s.sum += v
	s.sumSq += v * v
	if s.filled == s.window {
		s.sum -= old
		s.sumSq -= old * old
	} else {
		s.filled++
	}
	s.pos = (s.pos + 1) % s.window
}

func (s *StreamingStdDev) Value() float64 {
	if s.filled == 0 {
		return 0
	}
	mean := s.sum / float64(s.filled)
	variance := s.sumSq/float64(s.filled) - mean*mean
	return sqrt(variance)
}

// StreamingMin/StreamingMax hold a monotonic deque of (index, value)
// over the trailing window, giving amortized O(1) Add and O(1) Value
// — the standard sliding-window-minimum technique.
type monotonicDeque struct {
	window int
	n      int
	dq     *list.List // elements are dqEntry{idx, val}
	less   func(a, b float64) bool
}

type dqEntry struct {
	idx int
	val float64
}

func newMonotonicDeque(window int, less func(a, b float64) bool) *monotonicDeque {
	return &monotonicDeque{window: window, dq: list.New(), less: less}
}

func (m *monotonicDeque) add(v float64) {
	for m.dq.Len() > 0 {
		back := m.dq.Back().Value.(dqEntry)
		if m.less(back.val, v) {
			break
		}
		m.dq.Remove(m.dq.Back())
	}
	m.dq.PushBack(dqEntry{idx: m.n, val: v})
	for m.dq.Len() > 0 && m.dq.Front().Value.(dqEntry).idx <= m.n-m.window {
		m.dq.Remove(m.dq.Front())
	}
	m.n++
}

func (m *monotonicDeque) value() float64 {
	if m.dq.Len() == 0 {
		return 0
	}
	return m.dq.Front().Value.(dqEntry).val
}

type StreamingMin struct{ dq *monotonicDeque }

func NewStreamingMin(window int) *StreamingMin {
	return &StreamingMin{dq: newMonotonicDeque(window, func(a, b float64) bool { return a <= b })}
}
func (s *StreamingMin) Add(v float64)  { s.dq.add(v) }
func (s *StreamingMin) Value() float64 { return s.dq.value() }

type StreamingMax struct{ dq *monotonicDeque }

func NewStreamingMax(window int) *StreamingMax {
	return &StreamingMax{dq: newMonotonicDeque(window, func(a, b float64) bool { return a >= b })}
}
func (s *StreamingMax) Add(v float64)  { s.dq.add(v) }
func (s *StreamingMax) Value() float64 { return s.dq.value() }

// StreamingAggregator composes a SMA, EMA, StdDev, Min and Max over
// the same incoming stream, plus a Reset to start a fresh window —
// the primitive SampleBy's bucket rollover needs but the batch API
// never required, since batch recomputes from scratch per bucket.
type StreamingAggregator struct {
	window      int
	sma         *StreamingSMA
	ema         *StreamingEMA
	stddev      *StreamingStdDev
	min         *StreamingMin
	max         *StreamingMax
}

func NewStreamingAggregator(window int) *StreamingAggregator {
	return &StreamingAggregator{
		window: window,
		sma:    NewStreamingSMA(window),
		ema:    NewStreamingEMA(window),
		stddev: NewStreamingStdDev(window),
		min:    NewStreamingMin(window),
		max:    NewStreamingMax(window),
	}
}

func (a *StreamingAggregator) Add(v float64) {
	a.sma.Add(v)
	a.ema.Add(v)
	a.stddev.Add(v)
	a.min.Add(v)
	a.max.Add(v)
}

// Reset discards all accumulated state, starting a fresh window as if
// newly constructed.
func (a *StreamingAggregator) Reset() {
	*a = *NewStreamingAggregator(a.window)
}

func (a *StreamingAggregator) SMA() float64    { return a.sma.Value() }
func (a *StreamingAggregator) EMA() float64    { return a.ema.Value() }
func (a *StreamingAggregator) StdDev() float64 { return a.stddev.Value() }
func (a *StreamingAggregator) Min() float64    { return a.min.Value() }
func (a *StreamingAggregator) Max() float64    { return a.max.Value() }
