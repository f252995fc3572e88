// Package cmd provides the CLI commands for amanrag.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Logging flags
var (
	debugMode      bool
	loggingCleanup func()
	prevLogger     *slog.Logger
)

// Profiling flags
var (
	profileOpts profiling.Options
	profileRun  *profiling.Run
)

// NewRootCmd creates the root command for the amanrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Ask questions about a folder of documents and recordings",
		Long: `amanrag answers questions over a local folder of PDFs, Word files,
text, markdown and audio recordings.

Each file gets its own vector collection, rebuilt only when its content
changes. Questions that name a file are answered from that file; others
search every file.

  amanrag index ~/notes          Build or refresh the index
  amanrag ask -C ~/notes "..."   Ask a question
  amanrag serve ~/notes          Serve the folder over MCP (stdio)`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amanrag/logs/ and stderr")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write an execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(cmd *cobra.Command, args []string) error {
	if err := startLogging(cmd, args); err != nil {
		return err
	}
	if !profileOpts.Enabled() {
		return nil
	}
	run, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	profileRun = run
	return nil
}

func stopProfilingAndLogging(cmd *cobra.Command, args []string) error {
	if profileRun != nil {
		if err := profileRun.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		profileRun = nil
	}
	return stopLogging(cmd, args)
}

// startLogging sends slog to the rotating log file. Stdout stays clean for
// command output and the MCP transport; --debug also mirrors to stderr.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.StdioConfig(envOr("AMANRAG_LOG_LEVEL", "info"))
	if debugMode {
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	prevLogger = slog.Default()
	slog.SetDefault(logger)
	if debugMode {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if prevLogger != nil {
		slog.SetDefault(prevLogger)
		prevLogger = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
