package tsq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func closeEnough(t *testing.T, got, want float64) {
	t.Helper()
	if want == 0 {
		assert.InDelta(t, want, got, 1e-9)
		return
	}
	assert.InDelta(t, 0, (got-want)/want, 1e-9)
}

func TestSampleByOrdersBucketsAscending(t *testing.T) {
	ts := []int64{2500, 500, 1500, 0}
	vals := []float64{3, 1, 2, 0}
	rows := SampleBy(ts, []SampleSpec{{Name: "v", Agg: Sum, Values: vals}}, 1000)
	require := assert.New(t)
	require.Len(rows, 3)
	require.Equal(int64(0), rows[0].BucketStart)
	require.Equal(int64(1000), rows[1].BucketStart)
	require.Equal(int64(2000), rows[2].BucketStart)
	require.Equal(1.0, rows[0].Values["v"]) // 0,500 -> 0+1
	require.Equal(2.0, rows[1].Values["v"])
	require.Equal(3.0, rows[2].Values["v"])
}

func TestOHLCVInvariants(t *testing.T) {
	ts := []int64{0, 100, 200, 300, 900}
	price := []float64{10, 15, 5, 12, 20}
	volume := []float64{1, 2, 3, 4, 5}
	rows := OHLCV(ts, price, volume, 1000)
	require := assert.New(t)
	require.Len(rows, 1)
	r := rows[0]
	require.Equal(10.0, r.Open)
	require.Equal(20.0, r.Close)
	require.Equal(20.0, r.High)
	require.Equal(5.0, r.Low)
	require.Equal(15.0, r.Volume)
	require.LessOrEqual(r.Low, r.Open)
	require.LessOrEqual(r.Low, r.Close)
	require.LessOrEqual(r.Open, r.High)
	require.LessOrEqual(r.Close, r.High)
	require.LessOrEqual(r.Low, r.High)
}

func TestLatestOnBreaksTiesByLaterIndex(t *testing.T) {
	symbols := []int{1, 1, 2}
	ts := []int64{100, 100, 50}
	cols := map[string][]float64{"price": {10, 20, 30}}
	rows := LatestOn(symbols, ts, cols)
	byID := map[int]LatestRow{}
	for _, r := range rows {
		byID[r.SymbolID] = r
	}
	assert.Equal(t, 1, byID[1].Row)
	assert.Equal(t, 20.0, byID[1].Columns["price"][0])
	assert.Equal(t, 2, byID[2].Row)
}

func TestMovingAverageBoundaryBehavior(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}
	sma := MovingAverage(data, 3)
	assert.Equal(t, []float64{1, 1.5, 2, 3, 4}, sma)
}

func TestExponentialMovingAverageSeeds(t *testing.T) {
	data := []float64{10, 20, 30}
	ema := ExponentialMovingAverage(data, 2) // alpha = 2/3
	assert.Equal(t, 10.0, ema[0])
	closeEnough(t, ema[1], (2.0/3)*20+(1.0/3)*10)
}

func TestRollingStdDevMatchesManualComputation(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := RollingStdDev(data, len(data))[len(data)-1]
	// population stddev of the whole set is 2.0
	closeEnough(t, got, 2.0)
}

func TestStreamingSMAMatchesBatch(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7}
	window := 3
	batch := MovingAverage(data, window)
	s := NewStreamingSMA(window)
	for i, v := range data {
		s.Add(v)
		closeEnough(t, s.Value(), batch[i])
	}
}

func TestStreamingEMAMatchesBatch(t *testing.T) {
	data := []float64{5, 3, 8, 13, 2, 9}
	window := 4
	batch := ExponentialMovingAverage(data, window)
	e := NewStreamingEMA(window)
	for i, v := range data {
		e.Add(v)
		closeEnough(t, e.Value(), batch[i])
	}
}

func TestStreamingStdDevMatchesBatch(t *testing.T) {
	data := []float64{5, 3, 8, 13, 2, 9, 11, 4}
	window := 4
	batch := RollingStdDev(data, window)
	s := NewStreamingStdDev(window)
	for i, v := range data {
		s.Add(v)
		closeEnough(t, s.Value(), batch[i])
	}
}

func TestStreamingMinMaxMonotonicDeque(t *testing.T) {
	data := []float64{5, 1, 4, 2, 9, 0, 3}
	window := 3
	min := NewStreamingMin(window)
	max := NewStreamingMax(window)
	for i, v := range data {
		min.Add(v)
		max.Add(v)
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		wantMin, wantMax := data[lo], data[lo]
		for _, x := range data[lo : i+1] {
			wantMin = math.Min(wantMin, x)
			wantMax = math.Max(wantMax, x)
		}
		assert.Equal(t, wantMin, min.Value())
		assert.Equal(t, wantMax, max.Value())
	}
}

func TestStreamingAggregatorReset(t *testing.T) {
	a := NewStreamingAggregator(3)
	a.Add(1)
	a.Add(2)
	a.Add(3)
	assert.NotEqual(t, 0.0, a.SMA())
	a.Reset()
	assert.Equal(t, 0.0, a.SMA())
	assert.Equal(t, 0.0, a.Min())
	assert.Equal(t, 0.0, a.Max())
}
