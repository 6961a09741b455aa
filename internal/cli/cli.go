// Package cli implements the command-line interface for dbc-extract.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/eunmann/dbc-extract/internal/config"
	"github.com/eunmann/dbc-extract/internal/logctx"
	"github.com/eunmann/dbc-extract/pkg/logging"
	"github.com/eunmann/dbc-extract/pkg/s3fetch"
	"github.com/eunmann/dbc-extract/pkg/schema"
	"github.com/eunmann/dbc-extract/pkg/table"
)

const usage = `usage: dbc-extract <command> [options] <table> [args]
commands:
  info   print the header, field layout and decode plan of a table
  find   print the records with the given ids
  ids    list the record ids of a table
  dump   export all records as csv or parquet`

// Run executes the CLI with the given arguments, writing results to stdout.
func Run(args []string) error {
	return RunContext(context.Background(), args, os.Stdout)
}

// RunWithOutput is Run with results written to out.
func RunWithOutput(args []string, out io.Writer) error {
	return RunContext(context.Background(), args, out)
}

// RunContext executes the CLI. Logs go to stderr; results go to out.
func RunContext(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case "info":
		return runInfo(ctx, args[1:], out)
	case "find":
		return runFind(ctx, args[1:], out)
	case "ids":
		return runIDs(ctx, args[1:], out)
	case "dump":
		return runDump(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// commonFlags are accepted by every command. Their names match the config
// keys they override.
type commonFlags struct {
	fs         *pflag.FlagSet
	configPath *string
	overlays   *[]string
}

func newFlagSet(name string, withOverlays bool) *commonFlags {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	c := &commonFlags{fs: fs}
	c.configPath = fs.String("config", "", "config file (default ./dbc-extract.yaml)")
	fs.String("schema", "", "JSON schema file, local path or s3:// URI")
	fs.Bool("raw", false, "decode WDB5 tables without a schema")
	fs.Bool("debug", false, "enable debug logging")
	fs.Bool("human", false, "human-readable console logs")
	fs.String("aws-region", "", "AWS region for s3:// paths")
	fs.String("temp-dir", "", "directory for tables downloaded from S3")
	if withOverlays {
		c.overlays = fs.StringArray("overlay", nil, "locale cache (WCH) file of the table; repeatable")
	}
	return c
}

// session is the state shared by a command's table opens.
type session struct {
	cfg  *config.Config
	opts table.Options
	log  zerolog.Logger
}

// setup parses flags, loads configuration, configures logging and the
// schema. It returns the positional arguments.
func (c *commonFlags) setup(ctx context.Context, args []string) (context.Context, *session, []string, error) {
	if err := c.fs.Parse(args); err != nil {
		return ctx, nil, nil, err
	}
	cfg, err := config.Load(*c.configPath, c.fs)
	if err != nil {
		return ctx, nil, nil, err
	}

	logging.Init(cfg.Debug, cfg.Human)
	log := logging.L().With().Str("command", c.fs.Name()).Logger()
	ctx = logctx.WithLogger(ctx, log)

	s := &session{
		cfg: cfg,
		log: log,
		opts: table.Options{
			AllowRaw:   cfg.Raw,
			AWSRegion:  cfg.AWSRegion,
			TempDir:    cfg.TempDir,
			WideTables: cfg.WideTables,
		},
	}
	if err := s.loadSchema(ctx); err != nil {
		return ctx, nil, nil, err
	}
	return ctx, s, c.fs.Args(), nil
}

func (s *session) s3Client(ctx context.Context) (*s3fetch.Client, error) {
	if s.opts.S3 == nil {
		client, err := s3fetch.NewClient(ctx, s.cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		s.opts.S3 = client
	}
	return s.opts.S3, nil
}

func (s *session) loadSchema(ctx context.Context) error {
	path := s.cfg.Schema
	if path == "" {
		s.log.Debug().Msg("no schema configured")
		return nil
	}

	var (
		reg *schema.Registry
		err error
	)
	if s3fetch.IsS3URI(path) {
		client, cerr := s.s3Client(ctx)
		if cerr != nil {
			return cerr
		}
		bucket, key, perr := s3fetch.ParseS3URI(path)
		if perr != nil {
			return perr
		}
		data, ferr := client.Fetch(ctx, bucket, key)
		if ferr != nil {
			return fmt.Errorf("fetch schema: %w", ferr)
		}
		reg, err = schema.LoadJSON(bytes.NewReader(data))
	} else {
		reg, err = schema.LoadFile(path)
	}
	if err != nil {
		return err
	}
	s.opts.Schema = reg
	s.log.Debug().Str("schema", path).Int("tables", len(reg.Tables())).Msg("loaded schema")
	return nil
}

// openWithOverlays opens the base table and any overlays. The returned
// function closes all of them.
func (s *session) openWithOverlays(ctx context.Context, path string, overlays []string) (*table.Table, []*table.Table, func(), error) {
	if s3fetch.IsS3URI(path) {
		if _, err := s.s3Client(ctx); err != nil {
			return nil, nil, nil, err
		}
	}
	start := time.Now()
	base, err := table.Open(ctx, path, s.opts)
	if err != nil {
		return nil, nil, nil, err
	}
	logging.TableOpened(s.log, base.Name(), time.Since(start)).
		Str("path", base.Path()).
		Bytes("bytes", int64(base.Size())).
		Count("records", int64(base.Len())).
		LogDebug("opened table")
	if len(overlays) == 0 {
		return base, nil, func() { base.Close() }, nil
	}

	ovs, err := table.OpenOverlays(ctx, overlays, base, s.opts)
	if err != nil {
		base.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		for _, ov := range ovs {
			ov.Close()
		}
		base.Close()
	}
	return base, ovs, closeAll, nil
}
