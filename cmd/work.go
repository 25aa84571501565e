package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/mend/internal/agent"
	"github.com/joescharf/mend/internal/daemon"
	"github.com/joescharf/mend/internal/git"
	"github.com/joescharf/mend/internal/pipeline"
	"github.com/joescharf/mend/internal/worker"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the remediation worker",
	Long: `Run the worker loop: poll for approved issues, claim the oldest,
and drive the remediation agent to a pull request. One worker owns
one working copy; a PID file enforces that.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return workRun()
	},
}

func init() {
	workCmd.Flags().String("repo", "", "Path to the working copy (overrides repo.path)")
	workCmd.Flags().String("worker-id", "", "Worker identity recorded on claims (overrides worker.id)")
	_ = viper.BindPFlag("repo.path", workCmd.Flags().Lookup("repo"))
	_ = viper.BindPFlag("worker.id", workCmd.Flags().Lookup("worker-id"))
	rootCmd.AddCommand(workCmd)
}

func workRun() error {
	repoPath := viper.GetString("repo.path")
	if repoPath == "" {
		return errors.New("repo.path is not configured (set MEND_REPO_PATH or --repo)")
	}
	if _, err := os.Stat(repoPath); err != nil {
		return fmt.Errorf("working copy %s: %w", repoPath, err)
	}

	workerID := viper.GetString("worker.id")
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	// One live worker per working copy.
	pf := daemon.NewPIDFile(filepath.Join(repoPath, ".mend-worker.pid"))
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	s, err := getStore()
	if err != nil {
		return err
	}

	log := slog.Default()
	runner := agent.NewClaudeRunner(
		viper.GetString("agent.model"),
		time.Duration(viper.GetInt("agent.timeout_minutes"))*time.Minute,
	)
	p := pipeline.New(s, git.NewClient(), git.NewHostClient(), runner, pipeline.Config{
		WorkDir:     repoPath,
		BaseBranch:  viper.GetString("repo.base_branch"),
		StepTimeout: 2 * time.Minute,
	}, log)

	loop := worker.New(s, p, worker.Config{
		WorkerID:    workerID,
		IdleSleep:   time.Duration(viper.GetInt("worker.idle_sleep_ms")) * time.Millisecond,
		ErrorSleep:  time.Duration(viper.GetInt("worker.error_sleep_ms")) * time.Millisecond,
		MaxAttempts: viper.GetInt("worker.max_attempts"),
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	ui.Info("Worker %s watching %s", workerID, repoPath)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	ui.Info("Worker stopped.")
	return nil
}
