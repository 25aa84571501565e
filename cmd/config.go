package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mend"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage mend configuration.

Running bare 'mend config' is the same as 'mend config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# mend configuration
# See: mend config show (for effective values and sources)

# State/data directory (default: ~/.config/mend)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/mend/mend.db)
# db_path: {{ .DBPath }}

# Target repository
repo:
  # Path to the working copy the worker and scanner operate on
  path: "{{ .RepoPath }}"

  # Branch fix branches are cut from and PRs target (default: "main")
  base_branch: "{{ .BaseBranch }}"

# Worker settings
worker:
  # Worker identity recorded on claims (default: hostname-pid)
  id: "{{ .WorkerID }}"

  # Re-approval attempt cap per issue, 0 = unlimited (default: 0)
  max_attempts: {{ .MaxAttempts }}

# Agent settings
agent:
  # Claude model for remediation runs (default: "sonnet")
  model: "{{ .AgentModel }}"

  # Per-run time limit in minutes (default: 30)
  timeout_minutes: {{ .AgentTimeout }}
`

type configTemplateData struct {
	StateDir     string
	DBPath       string
	RepoPath     string
	BaseBranch   string
	WorkerID     string
	MaxAttempts  int
	AgentModel   string
	AgentTimeout int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:     viper.GetString("state_dir"),
		DBPath:       viper.GetString("db_path"),
		RepoPath:     viper.GetString("repo.path"),
		BaseBranch:   viper.GetString("repo.base_branch"),
		WorkerID:     viper.GetString("worker.id"),
		MaxAttempts:  viper.GetInt("worker.max_attempts"),
		AgentModel:   viper.GetString("agent.model"),
		AgentTimeout: viper.GetInt("agent.timeout_minutes"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "MEND_STATE_DIR"},
	{Key: "db_path", EnvVar: "MEND_DB_PATH"},
	{Key: "repo.path", EnvVar: "MEND_REPO_PATH"},
	{Key: "repo.base_branch", EnvVar: "MEND_REPO_BASE_BRANCH"},
	{Key: "worker.id", EnvVar: "MEND_WORKER_ID"},
	{Key: "worker.idle_sleep_ms", EnvVar: "MEND_WORKER_IDLE_SLEEP_MS"},
	{Key: "worker.error_sleep_ms", EnvVar: "MEND_WORKER_ERROR_SLEEP_MS"},
	{Key: "worker.max_attempts", EnvVar: "MEND_WORKER_MAX_ATTEMPTS"},
	{Key: "agent.model", EnvVar: "MEND_AGENT_MODEL"},
	{Key: "agent.timeout_minutes", EnvVar: "MEND_AGENT_TIMEOUT_MINUTES"},
	{Key: "scan.timeout_minutes", EnvVar: "MEND_SCAN_TIMEOUT_MINUTES"},
	{Key: "anthropic.model", EnvVar: "MEND_ANTHROPIC_MODEL"},
	{Key: "port", EnvVar: "MEND_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'mend config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
