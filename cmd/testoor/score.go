package main

import (
	"io"
	"strconv"

	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	scoreProject string
	scoreRootDir string
)

var scoreCmd = &cobra.Command{
	Use:   "score [test-file...]",
	Short: "Show the recorded score and last outcome of test files",
	RunE:  runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	addProjectFlags(scoreCmd, &scoreProject, &scoreRootDir)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tests, err := collectTests(cmd.InOrStdin(), args, scoreProject, scoreRootDir)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopStore(st)

	scored, err := sequencer.New(log, st).Scores(ctx, tests)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(scored))

	for _, sc := range scored {
		failed, err := st.MostRecentRunFailed(ctx, sc.Test.Name())
		if err != nil {
			return err
		}

		rows = append(rows, scoreRow(sc, failed))
	}

	renderScoreTable(cmd.OutOrStdout(), rows)

	return nil
}

// scoreRow formats one test as TEST, SCORE, LAST. Tests without history
// show "-" for both.
func scoreRow(sc sequencer.Scored, failed bool) []string {
	score, last := "-", "-"

	if sc.Known {
		score = strconv.FormatFloat(sc.Score, 'f', 2, 64)
		last = "pass"

		if failed {
			last = "fail"
		}
	}

	return []string{sc.Test.Name(), score, last}
}

func renderScoreTable(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Test", "Score", "Last"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
	})
	table.AppendBulk(rows)
	table.Render()
}
