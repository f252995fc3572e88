package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor [folder]",
		Short: "Check system requirements and diagnose issues",
		Long: `Run system diagnostics for a folder.

Checks:
  - Folder exists and holds supported files
  - Data directory is writable
  - Disk space and file descriptor limits
  - Ollama is reachable with the embedding and generation models
  - Transcription and reranker services respond

Service checks are skipped with --offline. Only the folder, permission,
disk and (for an explicit ollama provider) embedding checks are required.`,
		Example: `  # Run diagnostics
  amanrag doctor ~/notes

  # JSON output for scripting
  amanrag doctor --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, folderArg(args), verbose, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip model and service checks")

	return cmd
}

// doctorOutput is the --json output of doctor.
type doctorOutput struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func runDoctor(cmd *cobra.Command, folder string, verbose, jsonOutput, offline bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveFolder(folder)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	checker := preflight.New(cfg,
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx, root)

	if jsonOutput {
		out := doctorOutput{Status: checker.SummaryStatus(results), Checks: results}
		for _, r := range results {
			switch {
			case r.IsCritical():
				out.Errors = append(out.Errors, r.Name+": "+r.Message)
			case r.Status != preflight.StatusPass:
				out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)

		dataDir := cfg.DataPath(root)
		if !preflight.NeedsCheck(dataDir) {
			if age := preflight.MarkerAge(dataDir); age > 0 {
				cmd.Printf("\nLast successful check: %s ago\n", formatDuration(age))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	default:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
}
