package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/ethpandaops/testoor/pkg/events"
	"github.com/ethpandaops/testoor/pkg/reporter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	recordInput    string
	recordCoverage bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a test session from a JSON-lines event stream",
	Long: `Read test_start, test_result and run_complete events, one JSON object
per line, from --input (default stdin) and record them into the history.
Coverage of passing tests is shrunk and stored when coverage is enabled.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordInput, "input", "-",
		"event stream file (\"-\" for stdin)")
	recordCmd.Flags().BoolVar(&recordCoverage, "coverage", false,
		"store coverage of passing tests (overrides coverage.enabled)")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("coverage") {
		cfg.Coverage.Enabled = recordCoverage
	}

	var in io.Reader = os.Stdin

	if recordInput != "-" {
		f, err := os.Open(recordInput)
		if err != nil {
			return fmt.Errorf("opening event stream: %w", err)
		}
		defer func() { _ = f.Close() }()

		in = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	rep := reporter.New(log, st,
		coverage.NewShrinker(log, coverage.FileSourceMapLoader{}),
		reporter.Options{
			CoverageEnabled:     cfg.Coverage.Enabled,
			CoverageConcurrency: cfg.Coverage.Concurrency,
		},
	)

	stats, err := events.NewProcessor(log, rep).Run(ctx, in)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}

	log.WithFields(logrus.Fields{
		"started": stats.Started,
		"results": stats.Results,
	}).Info("Session recorded")

	return nil
}
