package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// stateCurrent marks a tracked file with no inconsistency.
const stateCurrent = "current"

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [folder]",
		Short: "Show index health and status",
		Long: `Display the files tracked for a folder with their chunk counts and
build times, and flag files that are stale, removed from the folder, or
missing their collection. Nothing is rebuilt; run 'amanrag index' for that.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, folderArg(args), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, folder string, jsonOutput bool) error {
	a, err := openApp(folder, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	info, err := collectStatus(ctx, a)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus checks every tracking record against the folder and the
// vector index.
func collectStatus(ctx context.Context, a *app) (ui.StatusInfo, error) {
	res, err := index.NewConsistencyChecker(a.tracking, a.vectors).Check(ctx, a.folder)
	if err != nil {
		return ui.StatusInfo{}, err
	}

	states := make(map[string]string, len(res.Inconsistencies))
	for _, inc := range res.Inconsistencies {
		if _, seen := states[inc.Filename]; !seen {
			states[inc.Filename] = inc.Type.String()
		}
	}

	info := ui.StatusInfo{
		Folder:        a.folder,
		Files:         make([]ui.FileStatus, 0, len(res.Records)),
		DatabaseSize:  databaseSize(a.dataDir),
		VectorBackend: vectorBackend(a.cfg),
		EmbedderModel: embedderName(a.cfg),
	}
	for _, rec := range res.Records {
		state, ok := states[rec.Filename]
		if !ok {
			state = stateCurrent
		}
		info.Files = append(info.Files, ui.FileStatus{
			Filename:    rec.Filename,
			Collection:  index.CollectionName(rec.Filename),
			Chunks:      rec.ChunkCount,
			ProcessedAt: rec.ProcessedAt,
			State:       state,
		})
		info.TotalChunks += rec.ChunkCount
	}
	return info, nil
}

// databaseSize sums the database and its WAL files.
func databaseSize(dataDir string) int64 {
	base := filepath.Join(dataDir, store.DatabaseName)
	var total int64
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}

func vectorBackend(cfg *config.Config) string {
	if cfg.Vectors.Backend == store.BackendQdrant {
		return store.BackendQdrant + " (" + cfg.Vectors.QdrantHost + ")"
	}
	return store.BackendLocal
}

func embedderName(cfg *config.Config) string {
	switch embed.ProviderType(cfg.Embeddings.Provider) {
	case embed.ProviderStatic:
		return "static"
	case embed.ProviderAuto:
		return cfg.Embeddings.Model + " (auto)"
	default:
		return cfg.Embeddings.Model
	}
}
