package index

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedIndexRange(t *testing.T) {
	oi := NewOrderedIndex("timestamp")
	for i := 0; i < 100; i++ {
		oi.Insert(NumValue(float64(i*1000)), uint32(i))
	}
	rows := oi.QueryRange(Predicate{Gte: ptr(NumValue(5000)), Lt: ptr(NumValue(6000))})
	sort.Slice(rows, func(i, j int) bool { return rows[i] < rows[j] })
	assert.Equal(t, []uint32{5}, rows)
}

func TestOrderedIndexRemoveByRow(t *testing.T) {
	oi := NewOrderedIndex("v")
	oi.Insert(NumValue(1), 0)
	oi.Insert(NumValue(2), 1)
	oi.RemoveByRow(0)
	assert.Equal(t, 1, oi.Len())
	rows := oi.QueryEQ(NumValue(1))
	assert.Empty(t, rows)
}

func TestCompositeIndexPrefixMatch(t *testing.T) {
	ci := NewCompositeIndex([]string{"region", "city", "ts"})
	rows := []struct {
		region, city string
		ts           float64
	}{
		{"US", "NYC", 1000},
		{"US", "NYC", 2000},
		{"US", "NYC", 3000},
		{"US", "LA", 1000},
		{"EU", "PAR", 1000},
	}
	for i, r := range rows {
		ci.Insert([]Value{StrValue(r.region), StrValue(r.city), NumValue(r.ts)}, uint32(i))
	}
	res, ok := ci.Query(map[string]Predicate{
		"region": {Eq: ptr(StrValue("US"))},
		"city":   {Eq: ptr(StrValue("NYC"))},
		"ts":     {Gte: ptr(NumValue(2000))},
	})
	assert.True(t, ok)
	assert.ElementsMatch(t, []uint32{1, 2}, res.Rows)
	assert.Equal(t, []string{"region", "city", "ts"}, res.Covered)
}

func TestCompositeIndexUnusablePrefix(t *testing.T) {
	ci := NewCompositeIndex([]string{"region", "city", "ts"})
	ci.Insert([]Value{StrValue("US"), StrValue("NYC"), NumValue(1)}, 0)
	_, ok := ci.Query(map[string]Predicate{"ts": {Eq: ptr(NumValue(1))}})
	assert.False(t, ok)
}

func TestRoaringSetBasics(t *testing.T) {
	s := NewRoaringSet()
	s.Add(1)
	s.Add(5000)
	assert.True(t, s.Contains(1))
	assert.False(t, s.Contains(2))
	s.Remove(1)
	assert.False(t, s.Contains(1))
}

func ptr(v Value) *Value { return &v }
