package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/spf13/cobra"
)

var (
	orderProject    string
	orderRootDir    string
	orderFailedOnly bool
	orderJSON       bool
)

var orderCmd = &cobra.Command{
	Use:   "order [test-file...]",
	Short: "Print test files ordered by recorded history",
	Long: `Order test files so tests with past failures and long average runtimes
run first. Tests without history are placed before all others. With no
arguments, test file paths are read from stdin, one per line.`,
	RunE: runOrder,
}

func init() {
	rootCmd.AddCommand(orderCmd)
	addProjectFlags(orderCmd, &orderProject, &orderRootDir)
	orderCmd.Flags().BoolVar(&orderFailedOnly, "failed-only", false,
		"only keep tests whose most recent outcome failed")
	orderCmd.Flags().BoolVar(&orderJSON, "json", false,
		"print tests with their scores as JSON")
}

func addProjectFlags(cmd *cobra.Command, project, rootDir *string) {
	cmd.Flags().StringVar(project, "project", "", "logical project name")
	cmd.Flags().StringVar(rootDir, "root-dir", "", "project root directory (default: working directory)")
}

func runOrder(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tests, err := collectTests(cmd.InOrStdin(), args, orderProject, orderRootDir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	seq := sequencer.New(log, st)

	if orderFailedOnly {
		tests, err = seq.AllFailedTests(ctx, tests)
		if err != nil {
			return err
		}
	}

	scored, err := seq.Scores(ctx, tests)
	if err != nil {
		return err
	}

	sequencer.SortScored(scored)

	out := cmd.OutOrStdout()

	if orderJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(scored)
	}

	for _, sc := range scored {
		fmt.Fprintln(out, sc.Test.Path)
	}

	return nil
}

// collectTests builds tests from args, or from stdin lines when no args are
// given. Relative paths are resolved against the root directory.
func collectTests(stdin io.Reader, args []string, project, rootDir string) ([]testctx.Test, error) {
	if rootDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}

		rootDir = wd
	}

	paths := args

	if len(paths) == 0 {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				paths = append(paths, line)
			}
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading test paths: %w", err)
		}
	}

	p := testctx.Project{Name: project, RootDir: rootDir}
	tests := make([]testctx.Test, 0, len(paths))

	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(rootDir, path)
		}

		tests = append(tests, testctx.Test{Path: path, Project: p})
	}

	return tests, nil
}
