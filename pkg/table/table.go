// Package table opens client table files and provides record lookup and
// decoding on top of pkg/format.
package table

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/dbc-extract/internal/logctx"
	"github.com/eunmann/dbc-extract/pkg/fileutil"
	"github.com/eunmann/dbc-extract/pkg/format"
	"github.com/eunmann/dbc-extract/pkg/locator"
	"github.com/eunmann/dbc-extract/pkg/logging"
	"github.com/eunmann/dbc-extract/pkg/s3fetch"
	"github.com/eunmann/dbc-extract/pkg/schema"
)

// DefaultWideTables lists overlay tables whose records store every field
// as 4 bytes regardless of the declared layout.
var DefaultWideTables = []string{"SpellEffect"}

// Options configures how tables are opened.
type Options struct {
	// Schema resolves table names to field names and types.
	Schema schema.Provider

	// AllowRaw permits opening WDB5 tables without a schema; fields are
	// decoded from the field table with default signedness.
	AllowRaw bool

	// S3 is used for s3:// paths. When nil, a client is created on demand.
	S3 *s3fetch.Client

	// AWSRegion is used when creating an S3 client on demand.
	AWSRegion string

	// TempDir holds files downloaded from S3 while they are open.
	TempDir string

	// WideTables overrides DefaultWideTables when non-nil.
	WideTables []string
}

func (o Options) wideTables() []string {
	if o.WideTables != nil {
		return o.WideTables
	}
	return DefaultWideTables
}

// Table is an open client table file.
//
// Thread Safety: all read methods are safe for concurrent use. Close should
// only be called once, after all reads have completed.
type Table struct {
	name     string
	buf      *format.Buffer
	tempPath string

	header     format.Header
	schema     *schema.Table // nil when decoding raw
	layout     []format.FieldDescriptor
	decoder    format.RecordDecoder
	strings    format.StringBlock
	index      *locator.Index
	idDesc     *format.FieldDescriptor
	parsedSize int

	log zerolog.Logger
}

// Open opens a table from a local path or s3:// URI. Local paths that don't
// exist as given are retried with the .db2, .dbc and .adb suffixes.
func Open(ctx context.Context, path string, opts Options) (*Table, error) {
	buf, tempPath, err := load(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	t, err := newTable(ctx, buf, nil, opts)
	if err != nil {
		closeBuffer(buf, tempPath)
		return nil, fmt.Errorf("open %s: %w", buf.Path(), err)
	}
	t.tempPath = tempPath
	return t, nil
}

// OpenOverlay opens a locale cache overlay (WCH) that belongs to base. The
// overlay inherits the base file's id block and offset map features.
func OpenOverlay(ctx context.Context, path string, base *Table, opts Options) (*Table, error) {
	if base == nil {
		return nil, format.ErrMissingBase
	}
	buf, tempPath, err := load(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	t, err := newTable(ctx, buf, base, opts)
	if err != nil {
		closeBuffer(buf, tempPath)
		return nil, fmt.Errorf("open overlay %s: %w", buf.Path(), err)
	}
	t.tempPath = tempPath
	return t, nil
}

// OpenOverlays opens several overlays of the same base concurrently. Either
// all overlays are returned, in the order of paths, or none are.
func OpenOverlays(ctx context.Context, paths []string, base *Table, opts Options) ([]*Table, error) {
	out := make([]*Table, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			t, err := OpenOverlay(gctx, p, base, opts)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range out {
			if t != nil {
				t.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

// OpenBytes opens a table held in memory. name is used as the path, so the
// table name is derived from it. base must be set for overlays and nil
// otherwise.
func OpenBytes(ctx context.Context, name string, data []byte, base *Table, opts Options) (*Table, error) {
	t, err := newTable(ctx, format.NewBuffer(name, data), base, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return t, nil
}

func load(ctx context.Context, path string, opts Options) (*format.Buffer, string, error) {
	if s3fetch.IsS3URI(path) {
		return loadS3(ctx, path, opts)
	}
	resolved, err := fileutil.Resolve(path)
	if err != nil {
		return nil, "", err
	}
	buf, err := format.OpenMmap(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", resolved, err)
	}
	return buf, "", nil
}

func loadS3(ctx context.Context, uri string, opts Options) (*format.Buffer, string, error) {
	log := logctx.FromContext(ctx)

	client := opts.S3
	if client == nil {
		var err error
		client, err = s3fetch.NewClient(ctx, opts.AWSRegion)
		if err != nil {
			return nil, "", err
		}
	}

	bucket, key, err := s3fetch.ParseS3URI(uri)
	if err != nil {
		return nil, "", err
	}

	found := ""
	for _, candidate := range fileutil.Candidates(key) {
		ok, err := client.Exists(ctx, bucket, candidate)
		if err != nil {
			return nil, "", err
		}
		if ok {
			found = candidate
			break
		}
	}
	if found == "" {
		return nil, "", fmt.Errorf("%s: %w", uri, fileutil.ErrFileNotFound)
	}

	tempPath, result, err := client.Download(ctx, bucket, found, opts.TempDir)
	if err != nil {
		return nil, "", err
	}
	log.Debug().
		Str("bucket", bucket).
		Str("key", found).
		Int64("bytes", result.BytesDownloaded).
		Dur("duration", result.Duration).
		Msg("downloaded table")

	// Keep the S3 URI as the path so the table name comes from the key
	buf, err := format.OpenMmapAs(tempPath, "s3://"+bucket+"/"+found)
	if err != nil {
		os.Remove(tempPath)
		return nil, "", err
	}
	return buf, tempPath, nil
}

func closeBuffer(buf *format.Buffer, tempPath string) {
	buf.Close()
	if tempPath != "" {
		os.Remove(tempPath)
	}
}

func newTable(ctx context.Context, buf *format.Buffer, base *Table, opts Options) (*Table, error) {
	name := fileutil.ClassName(buf.Path())
	log := logging.WithTable(logctx.FromContext(ctx), name)

	data := buf.Bytes()
	variant, err := format.DetectVariant(data)
	if err != nil {
		return nil, err
	}
	if base != nil && !variant.Overlay() {
		return nil, fmt.Errorf("%w: %s is not an overlay format", format.ErrInvalidMagic, variant)
	}

	var baseHeader *format.Header
	if base != nil {
		baseHeader = &base.header
	}
	header, err := format.DecodeHeader(data, baseHeader)
	if err != nil {
		return nil, err
	}

	t := &Table{
		name:   name,
		buf:    buf,
		header: header,
		log:    log,
	}

	if err := t.resolveSchema(opts); err != nil {
		return nil, err
	}
	if err := t.buildLayout(); err != nil {
		return nil, err
	}
	if err := t.buildDecoder(opts); err != nil {
		return nil, err
	}

	if header.HasOffsetMap() {
		t.strings = format.NewStringBlock(data, 0)
	} else {
		t.strings = format.NewStringBlock(data, header.StringBlockOffset)
	}

	t.index, err = buildLocator(data, &t.header, log)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("format", string(header.Magic[:])).
		Strs("header", header.Summary(buf.Len())).
		Str("plan", t.decoder.Describe()).
		Stringer("index", t.index.State()).
		Int("records", t.Len()).
		Msg("opened table")
	return t, nil
}

func (t *Table) resolveSchema(opts Options) error {
	tbl, err := schema.Lookup(opts.Schema, t.name)
	if err == nil {
		t.schema = tbl
		return nil
	}
	if !errors.Is(err, schema.ErrSchemaNotFound) {
		return err
	}
	if opts.AllowRaw && t.header.Variant == format.VariantWDB5 && t.header.FieldCount > 0 {
		t.log.Warn().Msg("no schema, decoding fields raw")
		return nil
	}
	return err
}

func (t *Table) buildLayout() error {
	var err error
	if t.header.Variant == format.VariantWDB5 && t.header.FieldCount > 0 {
		t.layout, err = format.FieldTableLayout(t.buf.Bytes(), &t.header)
		if err != nil {
			return err
		}
	} else {
		t.layout = format.SchemaLayout(t.schema.Types)
	}
	t.parsedSize = format.ParsedRecordSize(&t.header, t.layout)
	t.log.Debug().Str("layout", format.DescribeLayout(t.layout)).Int("parsed_record_size", t.parsedSize).Msg("field layout")

	if t.schema == nil {
		return nil
	}

	if err := format.CheckRecordSize(t.schema.DeclaredSize(), t.parsedSize); err != nil {
		return err
	}
	if !t.header.Variant.Overlay() {
		for _, m := range format.CheckWidths(t.layout, t.schema) {
			t.log.Warn().Str("field", m.Name).Int("width", m.Width).Str("want", m.Want).Msg(m.String())
		}
	}

	if idx := t.schema.FieldIndex("id"); idx >= 0 && idx < len(t.layout) {
		d := t.layout[idx]
		t.idDesc = &d
	}
	return nil
}

func (t *Table) buildDecoder(opts Options) error {
	var types []schema.Type
	if t.schema != nil {
		types = t.schema.Types
	}

	switch {
	case t.header.Variant.Overlay() && slices.Contains(opts.wideTables(), t.name):
		t.log.Debug().Msg("expanding all record fields to 4 bytes")
		t.decoder = format.CompileWidePlan(t.layout, types)
	case t.header.HasOffsetMap():
		plan, err := format.CompileInlinePlan(t.layout, types, int(t.header.RecordSize), t.log)
		if err != nil {
			return err
		}
		t.decoder = plan
	default:
		t.decoder = format.CompilePlan(t.layout, types, t.log)
	}
	return nil
}

// Close releases the file mapping and removes any downloaded copy.
func (t *Table) Close() error {
	err := t.buf.Close()
	if t.tempPath != "" {
		if rmErr := os.Remove(t.tempPath); rmErr != nil && err == nil {
			err = fmt.Errorf("remove downloaded file: %w", rmErr)
		}
		t.tempPath = ""
	}
	return err
}

// Name returns the table name derived from the file name.
func (t *Table) Name() string { return t.name }

// Path returns the resolved path or URI of the file.
func (t *Table) Path() string { return t.buf.Path() }

// Size returns the file size in bytes.
func (t *Table) Size() int { return t.buf.Len() }

// Header returns the parsed header.
func (t *Table) Header() format.Header { return t.header }

// Layout returns the field descriptors used for decoding.
func (t *Table) Layout() []format.FieldDescriptor { return t.layout }

// ParsedRecordSize returns the decoded record width.
func (t *Table) ParsedRecordSize() int { return t.parsedSize }

// Schema returns the resolved schema, or nil when decoding raw.
func (t *Table) Schema() *schema.Table { return t.schema }

// Decoder returns the record decoder.
func (t *Table) Decoder() format.RecordDecoder { return t.decoder }

// RecordCount returns the record count declared in the header.
func (t *Table) RecordCount() int { return int(t.header.RecordCount) }

// FieldCount returns the number of decoded field slots, with arrays expanded.
func (t *Table) FieldCount() int { return format.ExpandedCount(t.layout) }

// Searchable reports whether Find can locate records by id.
func (t *Table) Searchable() bool {
	return t.index.Indexed() || t.idDesc != nil
}

// IDWidth returns the number of decimal digits of the largest id.
func (t *Table) IDWidth() int {
	return len(strconv.FormatUint(uint64(t.header.LastID), 10))
}

// FormatID renders an id padded to IDWidth.
func (t *Table) FormatID(id uint32) string {
	return fmt.Sprintf("%*d", t.IDWidth(), id)
}

// Describe returns a one-line summary of the table.
func (t *Table) Describe() string {
	return fmt.Sprintf("%s::%s(%s)", t.Path(), t.header.Magic[:], strings.Join(t.header.Summary(t.buf.Len()), ", "))
}
