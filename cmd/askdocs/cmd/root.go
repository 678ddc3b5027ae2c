// Package cmd provides the CLI commands for askdocs.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/askdocs/askdocs/internal/config"
	"github.com/askdocs/askdocs/internal/logging"
	"github.com/askdocs/askdocs/pkg/version"
)

// configFileName is the default config file inside the data dir.
const configFileName = "askdocs.yaml"

// Persistent flags shared by every subcommand.
var (
	cfgFile       string
	documentsRoot string
	dataDir       string
	logLevel      string
)

// NewRootCmd creates the root command for the askdocs CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "askdocs",
		Short: "Private search and grounded answers over a Korean PDF corpus",
		Long: `askdocs answers questions about a private PDF document corpus.

It combines lexical (BM25) and semantic retrieval over extracted document
text and composes cited answers with a local LLM. Everything runs locally;
no document content leaves the machine.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("askdocs version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default <data-dir>/askdocs.yaml)")
	cmd.PersistentFlags().StringVar(&documentsRoot, "documents-root", "", "root of the PDF corpus")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "index and cache directory (default .askdocs)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves the effective configuration: defaults, then the
// config file, then ASKDOCS_* env vars (inside config.Load), then flags.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		dd := dataDir
		if dd == "" {
			dd = os.Getenv("ASKDOCS_DATA_DIR")
		}
		if dd == "" {
			dd = ".askdocs"
		}
		candidate := filepath.Join(dd, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if documentsRoot != "" {
		// A derived extracted dir follows the overridden root.
		if cfg.Paths.ExtractedDir == filepath.Join(cfg.Paths.DocumentsRoot, "extracted") {
			cfg.Paths.ExtractedDir = ""
		}
		cfg.Paths.DocumentsRoot = documentsRoot
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs file-based JSON logging under the data dir and
// returns the logger plus a cleanup that flushes the log file. Stdout
// stays free for command output (and JSON-RPC in serve).
func setupLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	lc := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if lc.FilePath == "" {
		lc.FilePath = logging.DefaultLogPath(cfg.Paths.DataDir)
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
