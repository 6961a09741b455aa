package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/table"
)

// WriteCSV writes a header row of column names followed by one row per
// record. Strings are resolved; missing values are empty.
func WriteCSV(w io.Writer, src Source) (Stats, error) {
	cols := outputColumns(src.Columns())
	cw := csv.NewWriter(w)

	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = c.name
	}
	if err := cw.Write(row); err != nil {
		return Stats{}, fmt.Errorf("write csv header: %w", err)
	}

	var stats Stats
	err := src.Each(func(rec table.Record) error {
		for i, c := range cols {
			v, ok := c.cell(rec)
			switch {
			case !ok:
				row[i] = ""
			case v.Kind == format.KindString:
				row[i] = resolve(src, v, &stats)
			default:
				row[i] = v.String()
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", rec.ID, err)
		}
		stats.Rows++
		return nil
	})
	if err != nil {
		return stats, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("flush csv: %w", err)
	}
	return stats, nil
}
