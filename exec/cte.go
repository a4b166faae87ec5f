package exec

import (
	"github.com/mgttt/ndtsdb/column"
	"github.com/mgttt/ndtsdb/table"
)

// resultToTable wraps a query Result as an ephemeral ColumnarTable, so
// a WITH clause's CTE (or any other derived result that must be
// addressed by name in a later FROM) can be looked up through the
// same Catalog as a base table. Column kinds are inferred from the
// first non-nil value seen in each column, defaulting to Float64 for
// columns that are entirely nil.
func resultToTable(res *Result) (*table.ColumnarTable, error) {
	fields := make([]column.Field, len(res.Columns))
	for i, name := range res.Columns {
		kind := column.Float64
	scan:
		for _, row := range res.Rows {
			v, ok := row[name]
			if !ok || v == nil {
				continue
			}
			switch v.(type) {
			case int32:
				kind = column.Int32
			case int64:
				kind = column.Int64
			case float32:
				kind = column.Float32
			case float64:
				kind = column.Float64
			case string:
				kind = column.String
			default:
				kind = column.String
			}
			break scan
		}
		fields[i] = column.NewField(name, kind)
	}
	schema, err := column.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	tbl := table.New(schema, len(res.Rows))
	records := make([]column.Record, len(res.Rows))
	for i, row := range res.Rows {
		rec := make(column.Record, len(res.Columns))
		for j, name := range res.Columns {
			v := row[name]
			if v == nil {
				v = zeroForKind(fields[j].Kind)
			}
			rec[name] = v
		}
		records[i] = rec
	}
	if err := tbl.AppendBatch(records); err != nil {
		return nil, err
	}
	return tbl, nil
}

// zeroForKind stands in for a NULL cell a CTE's backing table cannot
// represent: ColumnarTable has no null bitmap, so a NULL widens to
// its kind's zero value rather than failing the whole CTE materialization.
func zeroForKind(k column.Kind) interface{} {
	switch k {
	case column.Int32:
		return int32(0)
	case column.Int64:
		return int64(0)
	case column.Float32:
		return float32(0)
	case column.Float64:
		return float64(0)
	case column.String:
		return ""
	}
	return nil
}
