package export

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/table"
)

// parquetBatchSize is the number of rows buffered per WriteRows call.
const parquetBatchSize = 1024

// parquetNode maps a value kind to its column type. Unsigned and signed
// values are both stored as 64-bit integers with the matching logical type.
func parquetNode(k format.Kind) parquet.Node {
	switch k {
	case format.KindSigned:
		return parquet.Int(64)
	case format.KindFloat:
		return parquet.Leaf(parquet.FloatType)
	case format.KindString:
		return parquet.String()
	}
	return parquet.Uint(64)
}

// parquetSchema builds a flat schema for cols and returns, for each output
// column, its leaf column index. Groups order their fields by name, so the
// index differs from the position in cols.
func parquetSchema(name string, cols []column) (*parquet.Schema, []int) {
	group := make(parquet.Group, len(cols))
	for _, c := range cols {
		group[c.name] = parquetNode(c.kind)
	}
	sch := parquet.NewSchema(name, group)

	index := make(map[string]int, len(cols))
	for i, f := range sch.Fields() {
		index[f.Name()] = i
	}
	leaves := make([]int, len(cols))
	for i, c := range cols {
		leaves[i] = index[c.name]
	}
	return sch, leaves
}

// parquetValue converts a decoded value to its column representation.
func parquetValue(src Source, v format.Value, stats *Stats) parquet.Value {
	switch v.Kind {
	case format.KindSigned:
		return parquet.Int64Value(v.Int())
	case format.KindFloat:
		return parquet.FloatValue(v.Float())
	case format.KindString:
		return parquet.ByteArrayValue([]byte(resolve(src, v, stats)))
	}
	return parquet.Int64Value(int64(v.Uint()))
}

// zeroValue is written for values missing from a short record.
func zeroValue(k format.Kind) parquet.Value {
	switch k {
	case format.KindFloat:
		return parquet.FloatValue(0)
	case format.KindString:
		return parquet.ByteArrayValue(nil)
	}
	return parquet.Int64Value(0)
}

// WriteParquet writes one row per record with a column per decoded value.
// Strings are resolved into UTF8 byte array columns.
func WriteParquet(w io.Writer, src Source) (Stats, error) {
	cols := outputColumns(src.Columns())
	sch, leaves := parquetSchema("records", cols)
	pw := parquet.NewWriter(w, sch)

	var stats Stats
	batch := make([]parquet.Row, 0, parquetBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(batch); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	err := src.Each(func(rec table.Record) error {
		// Values must be ordered by leaf column index
		row := make(parquet.Row, len(cols))
		for i, c := range cols {
			v, ok := c.cell(rec)
			pv := zeroValue(c.kind)
			if ok {
				pv = parquetValue(src, v, &stats)
			}
			row[leaves[i]] = pv.Level(0, 0, leaves[i])
		}
		batch = append(batch, row)
		stats.Rows++
		if len(batch) == parquetBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		pw.Close()
		return stats, err
	}
	if err := pw.Close(); err != nil {
		return stats, fmt.Errorf("close parquet writer: %w", err)
	}
	return stats, nil
}
