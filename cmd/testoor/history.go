package main

import (
	"fmt"

	"github.com/ethpandaops/testoor/pkg/config"
	"github.com/ethpandaops/testoor/pkg/store"
	"github.com/ethpandaops/testoor/pkg/upload"
	"github.com/spf13/cobra"
)

var historySkipPreflight bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Share the history file through S3-compatible storage",
}

var historyPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local history file",
	RunE:  runHistoryPush,
}

var historyPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local history file with the shared one",
	RunE:  runHistoryPull,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPushCmd, historyPullCmd)

	historyPushCmd.Flags().BoolVar(&historySkipPreflight, "skip-preflight", false,
		"skip the bucket write check")
}

func historySyncer(cmd *cobra.Command) (upload.Syncer, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}

	if err := cfg.ValidateSync(); err != nil {
		return nil, "", fmt.Errorf("validating sync config: %w", err)
	}

	path, err := historyPath(cfg)
	if err != nil {
		return nil, "", err
	}

	return upload.NewS3Syncer(log, &cfg.Sync.S3), path, nil
}

func historyPath(cfg *config.Config) (string, error) {
	path, err := store.ResolveSQLitePath(cfg.Database.SQLite.Path)
	if err != nil {
		return "", fmt.Errorf("resolving history file: %w", err)
	}

	return path, nil
}

func runHistoryPush(cmd *cobra.Command, args []string) error {
	syncer, path, err := historySyncer(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	if !historySkipPreflight {
		if err := syncer.Preflight(ctx); err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
	}

	log.WithField("file", path).Info("Pushing history")

	return syncer.Upload(ctx, path)
}

func runHistoryPull(cmd *cobra.Command, args []string) error {
	syncer, path, err := historySyncer(cmd)
	if err != nil {
		return err
	}

	found, err := syncer.Download(cmd.Context(), path)
	if err != nil {
		return err
	}

	if !found {
		log.WithField("file", path).Info("Keeping local history")
	}

	return nil
}
