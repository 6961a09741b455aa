package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/dbc-extract/pkg/export"
	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/logging"
	"github.com/eunmann/dbc-extract/pkg/table"
)

func runInfo(ctx context.Context, args []string, out io.Writer) error {
	c := newFlagSet("info", true)
	ctx, s, rest, err := c.setup(ctx, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("info requires exactly one table path")
	}

	base, overlays, closeAll, err := s.openWithOverlays(ctx, rest[0], *c.overlays)
	if err != nil {
		return err
	}
	defer closeAll()

	for _, t := range append([]*table.Table{base}, overlays...) {
		printInfo(out, t)
	}
	return nil
}

func printInfo(out io.Writer, t *table.Table) {
	fmt.Fprintln(out, t.Describe())
	fmt.Fprintf(out, "  layout: %s\n", format.DescribeLayout(t.Layout()))
	fmt.Fprintf(out, "  plan: %s\n", t.Decoder().Describe())
	fmt.Fprintf(out, "  records: %d, fields: %d, parsed_record_size: %d, searchable: %t\n",
		t.Len(), t.FieldCount(), t.ParsedRecordSize(), t.Searchable())

	cols := t.Columns()
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name + ":" + col.Kind.String()
	}
	fmt.Fprintf(out, "  columns: %s\n", strings.Join(names, ", "))
}

func parseIDs(args []string) ([]uint32, error) {
	ids := make([]uint32, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", a, err)
		}
		ids[i] = uint32(v)
	}
	return ids, nil
}

// runFind prints each requested id from every opened file that has it,
// overlays first.
func runFind(ctx context.Context, args []string, out io.Writer) error {
	c := newFlagSet("find", true)
	ctx, s, rest, err := c.setup(ctx, args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return errors.New("find requires a table path and at least one id")
	}
	ids, err := parseIDs(rest[1:])
	if err != nil {
		return err
	}

	base, overlays, closeAll, err := s.openWithOverlays(ctx, rest[0], *c.overlays)
	if err != nil {
		return err
	}
	defer closeAll()

	tables := slices.Concat(overlays, []*table.Table{base})
	for _, id := range ids {
		found := false
		for _, t := range tables {
			rec, ok, err := t.Find(id)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Path(), err)
			}
			if !ok {
				continue
			}
			found = true
			printRecord(out, base, t, rec, len(tables) > 1)
		}
		if !found {
			fmt.Fprintf(out, "%s not found\n", base.FormatID(id))
		}
	}
	return nil
}

// printRecord writes one record line. Ids are padded to the base table's
// width so overlay and base lines align.
func printRecord(out io.Writer, base, t *table.Table, rec table.Record, withSource bool) {
	var sb strings.Builder
	sb.WriteString(base.FormatID(rec.ID))
	if withSource {
		sb.WriteString(" [" + filepath.Base(t.Path()) + "]")
	}
	if rec.SourceID != rec.ID {
		sb.WriteString(" (clone of " + strconv.FormatUint(uint64(rec.SourceID), 10) + ")")
	}
	for _, kv := range export.Render(t, rec) {
		sb.WriteString(" " + kv)
	}
	fmt.Fprintln(out, sb.String())
}

// runIDs lists the ids of a table. With overlays, it lists for each overlay
// the ids the base table doesn't have.
func runIDs(ctx context.Context, args []string, out io.Writer) error {
	c := newFlagSet("ids", true)
	countOnly := c.fs.Bool("count", false, "print only the number of ids")
	ctx, s, rest, err := c.setup(ctx, args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("ids requires exactly one table path")
	}

	base, overlays, closeAll, err := s.openWithOverlays(ctx, rest[0], *c.overlays)
	if err != nil {
		return err
	}
	defer closeAll()

	baseIDs, err := base.IDSet()
	if err != nil {
		return err
	}
	if len(overlays) == 0 {
		if *countOnly {
			fmt.Fprintln(out, baseIDs.GetCardinality())
			return nil
		}
		it := baseIDs.Iterator()
		for it.HasNext() {
			fmt.Fprintln(out, it.Next())
		}
		return nil
	}

	for _, ov := range overlays {
		ids, err := ov.IDSet()
		if err != nil {
			return fmt.Errorf("%s: %w", ov.Path(), err)
		}
		ids.AndNot(baseIDs)
		fmt.Fprintf(out, "%s: %d new\n", filepath.Base(ov.Path()), ids.GetCardinality())
		if *countOnly {
			continue
		}
		it := ids.Iterator()
		for it.HasNext() {
			fmt.Fprintf(out, "  %d\n", it.Next())
		}
	}
	return nil
}

// runDump exports tables. A single table without --out is written to out;
// several tables need --out as a directory and are named <Table>.<format>.
func runDump(ctx context.Context, args []string, out io.Writer) error {
	c := newFlagSet("dump", false)
	formatName := c.fs.String("format", "csv", "output format: csv or parquet")
	outPath := c.fs.String("out", "", "output file, or directory when dumping several tables")
	ctx, s, rest, err := c.setup(ctx, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errors.New("dump requires at least one table path")
	}
	f, err := export.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	if len(rest) > 1 && *outPath == "" {
		return errors.New("--out is required when dumping several tables")
	}

	pt := logging.NewProgressTracker(int64(len(rest)))
	var firstErr error
	for _, path := range rest {
		start := time.Now()
		stats, name, err := s.dumpOne(ctx, path, f, *outPath, len(rest) > 1, out)
		if err != nil {
			pt.RecordFailure()
			s.log.Error().Err(err).Str("path", path).Msg("dump failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		elapsed := time.Since(start)
		pt.RecordCompletion(elapsed)
		logging.TableExported(s.log, name, elapsed).
			Str("format", string(f)).
			Count("rows", int64(stats.Rows)).
			Int("unresolved_strings", stats.UnresolvedStrings).
			Progress(pt).
			Log("table exported")
	}
	return firstErr
}

func (s *session) dumpOne(ctx context.Context, path string, f export.Format, outPath string, intoDir bool, out io.Writer) (export.Stats, string, error) {
	t, _, closeAll, err := s.openWithOverlays(ctx, path, nil)
	if err != nil {
		return export.Stats{}, "", err
	}
	defer closeAll()

	switch {
	case intoDir:
		dest := filepath.Join(outPath, t.Name()+"."+string(f))
		stats, err := export.ExportFile(dest, f, t)
		return stats, t.Name(), err
	case outPath != "":
		stats, err := export.ExportFile(outPath, f, t)
		return stats, t.Name(), err
	default:
		stats, err := export.Export(out, f, t)
		return stats, t.Name(), err
	}
}
