package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/m-mizutani/castmate/pkg/usecase/memory"
	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect, export and import stored memories",
		Commands: []*cli.Command{
			memoryListCommand(),
			memoryExportCommand(),
			memoryImportCommand(),
		},
	}
}

func memoryListCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to list (0 for all)",
			Value:       20,
			Destination: &limit,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List memories of the owner, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)
			if cfg.owner == "" {
				return goerr.New("owner is required to list memories")
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			memories, err := a.memory.List(ctx, a.owner, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list memories")
			}

			tw := tabwriter.NewWriter(c.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tCATEGORY\tCONTENT")
			for _, m := range memories {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					m.CreatedAt.Format("2006-01-02 15:04"),
					m.Category,
					oneLine(m.Content, 80))
			}
			return tw.Flush()
		},
	}
}

func memoryExportCommand() *cli.Command {
	var (
		cfg       config
		output    string
		format    string
		dataset   string
		table     string
		bqProject string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"O"},
			Usage:       "Output file path or gs://bucket/object. Writes to stdout if empty",
			Destination: &output,
		},
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"f"},
			Usage:       "Output format (jsonl, yaml)",
			Value:       string(memory.FormatJSONL),
			Destination: &format,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "Export into this BigQuery dataset instead of a file",
			Sources:     cli.EnvVars("CASTMATE_BIGQUERY_DATASET"),
			Destination: &dataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for the export",
			Value:       "memories",
			Sources:     cli.EnvVars("CASTMATE_BIGQUERY_TABLE"),
			Destination: &table,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Project of the BigQuery dataset. Defaults to --project",
			Sources:     cli.EnvVars("CASTMATE_BIGQUERY_PROJECT"),
			Destination: &bqProject,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export memories of the owner to a file, Cloud Storage or BigQuery",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)
			if cfg.owner == "" {
				return goerr.New("owner is required to export memories")
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if dataset != "" {
				project := bqProject
				if project == "" {
					project = cfg.project
				}
				bq, err := cfg.newBigQuery(ctx, project)
				if err != nil {
					return err
				}
				n, err := a.memory.ExportToBigQuery(ctx, a.owner, bq, dataset, table)
				if err != nil {
					return err
				}
				logging.From(ctx).Info("exported memories", "count", n, "dataset", dataset, "table", table)
				return nil
			}

			f, err := memory.ParseFormat(format)
			if err != nil {
				return err
			}

			w, err := cfg.openOutput(ctx, output, c.Root().Writer)
			if err != nil {
				return err
			}

			n, err := a.memory.Export(ctx, a.owner, w, f)
			if err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return goerr.Wrap(err, "failed to finish export", goerr.V("output", output))
			}

			logging.From(ctx).Info("exported memories", "count", n, "output", output)
			return nil
		},
	}
}

func memoryImportCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "JSONL file path or gs://bucket/object. Reads stdin if empty",
			Destination: &input,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "import",
		Usage: "Import memories from a JSONL export, re-embedding each with the current model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx, c.Root().ErrWriter)
			if cfg.owner == "" {
				return goerr.New("owner is required to import memories")
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := cfg.openInput(ctx, input, c.Root().Reader)
			if err != nil {
				return err
			}
			defer r.Close()

			n, err := a.memory.Import(ctx, a.owner, r)
			if err != nil {
				return goerr.Wrap(err, "import stopped", goerr.V("imported", n))
			}

			logging.From(ctx).Info("imported memories", "count", n, "input", input)
			return nil
		},
	}
}

// parseGCSURL splits gs://bucket/object
func parseGCSURL(s string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(s, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func (cfg *config) openOutput(ctx context.Context, output string, stdout io.Writer) (io.WriteCloser, error) {
	if output == "" || output == "-" {
		if stdout == nil {
			stdout = os.Stdout
		}
		return nopWriteCloser{stdout}, nil
	}

	if strings.HasPrefix(output, "gs://") {
		bucket, object, ok := parseGCSURL(output)
		if !ok {
			return nil, goerr.New("invalid Cloud Storage URL", goerr.V("output", output))
		}
		storage, err := cfg.newStorage(ctx, bucket)
		if err != nil {
			return nil, err
		}
		return storage.Put(ctx, object)
	}

	f, err := os.Create(filepath.Clean(output))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create output file", goerr.V("path", output))
	}
	return f, nil
}

func (cfg *config) openInput(ctx context.Context, input string, stdin io.Reader) (io.ReadCloser, error) {
	if input == "" || input == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.NopCloser(stdin), nil
	}

	if strings.HasPrefix(input, "gs://") {
		bucket, object, ok := parseGCSURL(input)
		if !ok {
			return nil, goerr.New("invalid Cloud Storage URL", goerr.V("input", input))
		}
		storage, err := cfg.newStorage(ctx, bucket)
		if err != nil {
			return nil, err
		}
		return storage.Get(ctx, object)
	}

	f, err := os.Open(filepath.Clean(input))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open input file", goerr.V("path", input))
	}
	return f, nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return s
}
