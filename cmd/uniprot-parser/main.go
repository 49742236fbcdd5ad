// Command uniprot-parser maps a list of identifiers through the UniProt ID
// mapping service and writes the merged results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/noatgnu/UniprotWebParser/internal/config"
	"github.com/noatgnu/UniprotWebParser/internal/fields"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping"
	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"github.com/noatgnu/UniprotWebParser/internal/output"
	"github.com/noatgnu/UniprotWebParser/shared/logger"
)

var errAllBatchesFailed = errors.New("every batch failed")

type options struct {
	input        string
	output       string
	configPath   string
	failedPath   string
	parse        bool
	listFields   bool
	live         bool
	abortOnError bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.LookupEnv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, lookup func(string) (string, bool)) error {
	defaultConfigPath, _ := lookup("UNIPROT_CONFIG_PATH")

	var opts options
	fs := flag.NewFlagSet("uniprot-parser", flag.ContinueOnError)
	fs.StringVar(&opts.input, "i", "-", "Input file with one identifier per line (- for stdin)")
	fs.StringVar(&opts.output, "o", "-", "Output file (- for stdout)")
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.StringVar(&opts.failedPath, "failed", "", "Write identifiers of failed batches to this file")
	fs.BoolVar(&opts.parse, "parse", false, "Extract UniProt accessions from FASTA headers or composite identifiers")
	fs.BoolVar(&opts.listFields, "list-fields", false, "List the databases usable with -from and -to, then exit")
	fs.BoolVar(&opts.live, "live", false, "With -list-fields, download the list from the service")
	fs.BoolVar(&opts.abortOnError, "abort-on-error", false, "Stop at the first failed batch")
	from := fs.String("from", "", "Source database")
	to := fs.String("to", "", "Target database")
	format := fs.String("format", "", "Result format: tsv or fasta")
	columns := fs.String("fields", "", "Comma separated result columns (tsv only)")
	batchSize := fs.Int("batch-size", 0, "Identifiers per mapping job")
	concurrency := fs.Int("concurrency", 0, "Maximum jobs in flight in concurrent mode")
	mode := fs.String("mode", "", "Batch scheduling: sequential or concurrent")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return err
	}

	// Flags win over the config file and the environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "from":
			cfg.Mapping.From = *from
		case "to":
			cfg.Mapping.To = *to
		case "format":
			cfg.Mapping.Format = *format
		case "fields":
			cfg.Mapping.Fields = config.SplitList(*columns)
		case "batch-size":
			cfg.Mapping.BatchSize = *batchSize
		case "concurrency":
			cfg.Orchestrator.MaxConcurrentJobs = *concurrency
		case "mode":
			cfg.Orchestrator.Mode = *mode
		case "abort-on-error":
			cfg.Orchestrator.AbortOnError = opts.abortOnError
		}
	})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.TimeOnly,
		NoColor:      cfg.Logging.NoColor,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	if opts.listFields {
		return listFields(ctx, cfg, opts.live, stdout)
	}

	return mapIdentifiers(ctx, cfg, opts, stdin, stdout, stderr, appLogger.Logger)
}

func mapIdentifiers(ctx context.Context, cfg *config.Config, opts options, stdin io.Reader, stdout, stderr io.Writer, logger *slog.Logger) error {
	in := stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ids, err := readIDs(in, opts.parse)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	batches, err := idmapping.Plan(ids, cfg.Mapping.BatchSize)
	if err != nil {
		return err
	}

	client, err := idmapping.NewClient(cfg.ClientConfig(cfg.Mapping.Format, logger))
	if err != nil {
		return err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	results, err := idmapping.NewOrchestrator(client, strategy, idmapping.WithLogger(logger)).Run(ctx, batches, cfg.Selection())
	if err != nil {
		return err
	}

	out := stdout
	if opts.output != "-" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	merger, err := output.NewMerger(out, cfg.Mapping.Format)
	if err != nil {
		return err
	}

	logger.Info("Mapping identifiers",
		slog.Int("ids", len(ids)),
		slog.Int("batches", len(batches)),
		slog.String("from", cfg.Mapping.From),
		slog.String("to", cfg.Mapping.To),
		slog.String("mode", cfg.Orchestrator.Mode),
	)

	var (
		failures  []*domain.BatchError
		delivered int
	)
	for res := range results {
		if res.Err != nil {
			var batchErr *domain.BatchError
			if !errors.As(res.Err, &batchErr) {
				batchErr = &domain.BatchError{Index: res.Batch.Index, IDs: res.Batch.IDs, Err: res.Err}
			}
			failures = append(failures, batchErr)
			continue
		}

		if err := merger.Write(res.Payload); err != nil {
			if output.IsBrokenPipe(err) {
				return nil
			}
			return fmt.Errorf("failed to write results: %w", err)
		}
		delivered++
	}
	if err := merger.Flush(); err != nil && !output.IsBrokenPipe(err) {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if len(failures) > 0 {
		failedIDs := 0
		for _, f := range failures {
			failedIDs += len(f.IDs)
			logger.Warn("Batch failed",
				slog.Int("batch", f.Index),
				slog.String("job_id", f.JobID),
				slog.Any("ids", f.IDs),
				slog.Any("error", f.Err),
			)
		}
		logger.Warn("Some batches failed",
			slog.Int("failed_batches", len(failures)),
			slog.Int("failed_ids", failedIDs),
		)

		// without -failed the list goes to stderr so the ids are never lost
		if opts.failedPath != "" {
			if err := writeFailures(opts.failedPath, failures); err != nil {
				return err
			}
		} else if err := output.WriteFailures(stderr, failures); err != nil && !output.IsBrokenPipe(err) {
			return fmt.Errorf("failed to report failed batches: %w", err)
		}
	}

	logger.Info("Mapping finished",
		slog.Int("records", merger.Records()),
		slog.Int("failed_batches", len(failures)),
	)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if delivered == 0 {
		return errAllBatchesFailed
	}
	return nil
}

func writeFailures(path string, failures []*domain.BatchError) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create failures file: %w", err)
	}
	defer f.Close()

	if err := output.WriteFailures(f, failures); err != nil {
		return fmt.Errorf("failed to write failures file: %w", err)
	}
	return nil
}

func listFields(ctx context.Context, cfg *config.Config, live bool, stdout io.Writer) error {
	catalog := fields.Default()
	if live {
		var err error
		client := &http.Client{Timeout: cfg.UniProt.RequestTimeout}
		catalog, err = fields.Fetch(ctx, client, cfg.UniProt.BaseURL)
		if err != nil {
			return err
		}
	}

	for _, g := range catalog.Groups() {
		if _, err := fmt.Fprintf(stdout, "# %s\n", g.Name); err != nil {
			return err
		}
		for _, item := range g.Items {
			dir := ""
			if item.From {
				dir += "from"
			}
			if item.To {
				if dir != "" {
					dir += ","
				}
				dir += "to"
			}
			if _, err := fmt.Fprintf(stdout, "%s\t%s\t%s\n", item.Name, dir, strconv.Quote(item.DisplayName)); err != nil {
				return err
			}
		}
	}
	return nil
}
