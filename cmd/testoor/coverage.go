package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	shrinkRootDir  string
	shrinkInput    string
	shrinkCompress string
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Shrink and inspect coverage data",
}

var coverageShrinkCmd = &cobra.Command{
	Use:   "shrink",
	Short: "Translate raw script coverage into original source line ranges",
	Long: `Read a JSON array of script coverage entries, each carrying its
codeTransformResult, and print the shrunk coverage keyed by project-relative
path. Scripts that fail to translate are reported and left out.`,
	RunE: runCoverageShrink,
}

var coverageDecodeCmd = &cobra.Command{
	Use:   "decode <blob-file | outcome-id>",
	Short: "Decompress stored coverage and print it as JSON",
	Long: `Decode a compressed coverage blob from a file, or, when the argument is
a number, from the history outcome with that id.`,
	Args: cobra.ExactArgs(1),
	RunE: runCoverageDecode,
}

func init() {
	rootCmd.AddCommand(coverageCmd)
	coverageCmd.AddCommand(coverageShrinkCmd, coverageDecodeCmd)

	coverageShrinkCmd.Flags().StringVar(&shrinkRootDir, "root-dir", "",
		"project root directory (default: working directory)")
	coverageShrinkCmd.Flags().StringVar(&shrinkInput, "input", "-",
		"script coverage JSON file (\"-\" for stdin)")
	coverageShrinkCmd.Flags().StringVar(&shrinkCompress, "compress", "",
		"also write the compressed blob to this file")
}

func runCoverageShrink(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()

	if shrinkInput != "-" {
		f, err := os.Open(shrinkInput)
		if err != nil {
			return fmt.Errorf("opening coverage input: %w", err)
		}
		defer func() { _ = f.Close() }()

		in = f
	}

	var scripts []coverage.Script
	if err := json.NewDecoder(in).Decode(&scripts); err != nil {
		return fmt.Errorf("parsing coverage input: %w", err)
	}

	rootDir := shrinkRootDir
	if rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}

		rootDir = wd
	}

	shrunk, shrinkErr := coverage.NewShrinker(log, coverage.FileSourceMapLoader{}).
		Shrink(rootDir, scripts)
	if shrinkErr != nil {
		log.WithError(shrinkErr).Warn("Some scripts could not be translated")
	}

	if shrinkCompress != "" {
		blob, err := coverage.Compress(shrunk)
		if err != nil {
			return err
		}

		if err := os.WriteFile(shrinkCompress, blob, 0o644); err != nil {
			return fmt.Errorf("writing compressed coverage: %w", err)
		}

		log.WithFields(logrus.Fields{
			"file": shrinkCompress,
			"size": units.HumanSize(float64(len(blob))),
		}).Info("Wrote compressed coverage")
	}

	if err := writeIndentedJSON(cmd.OutOrStdout(), shrunk); err != nil {
		return err
	}

	return shrinkErr
}

func runCoverageDecode(cmd *cobra.Command, args []string) error {
	var blob []byte

	if id, err := strconv.ParseUint(args[0], 10, 64); err == nil {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer stopStore(st)

		outcome, err := st.GetOutcome(cmd.Context(), uint(id))
		if err != nil {
			return err
		}

		if len(outcome.Coverage) == 0 {
			return fmt.Errorf("outcome %d has no coverage", id)
		}

		blob = outcome.Coverage
	} else {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading coverage blob: %w", err)
		}

		blob = data
	}

	shrunk, err := coverage.Decompress(blob)
	if err != nil {
		return err
	}

	return writeIndentedJSON(cmd.OutOrStdout(), shrunk)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
