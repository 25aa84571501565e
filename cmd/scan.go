package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/mend/internal/llm"
	"github.com/joescharf/mend/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one detection cycle",
	Long: `Inspect the configured repository for problems and report new
findings into the backlog. Findings already on file are skipped;
nothing is fixed until a human approves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanRun()
	},
}

func init() {
	scanCmd.Flags().String("repo", "", "Path to the working copy (overrides repo.path)")
	_ = viper.BindPFlag("repo.path", scanCmd.Flags().Lookup("repo"))
	rootCmd.AddCommand(scanCmd)
}

func scanRun() error {
	repoPath := viper.GetString("repo.path")
	if repoPath == "" {
		return errors.New("repo.path is not configured (set MEND_REPO_PATH or --repo)")
	}

	s, err := getStore()
	if err != nil {
		return err
	}

	detector := scanner.NewClaudeDetector(
		repoPath,
		viper.GetString("agent.model"),
		time.Duration(viper.GetInt("scan.timeout_minutes"))*time.Minute,
	)
	extractor := llm.NewClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
	)

	sc := scanner.New(s, detector, extractor, slog.Default())

	ui.Info("Scanning %s...", repoPath)
	created, err := sc.Run(context.Background())
	if err != nil {
		return err
	}

	if created == 0 {
		ui.Info("No new issues found.")
	} else {
		ui.Success("Reported %d new issue(s). Review with 'mend issue list'.", created)
	}
	return nil
}
