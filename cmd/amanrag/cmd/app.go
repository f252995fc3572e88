package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/cache"
	"github.com/Aman-CERP/amanrag/internal/chunk"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/session"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// sessionsDirName is the session directory inside the data directory.
const sessionsDirName = "sessions"

// app holds the storage and services for one folder. Query-side and
// build-side services are created on first use so that read-only commands
// never contact a model server.
type app struct {
	cfg     *config.Config
	folder  string
	dataDir string

	db       *sql.DB
	vectors  store.VectorIndex
	tracking *store.SQLiteTrackingStore

	embedder embed.Embedder
	registry *ingest.Registry
	metrics  *telemetry.AskMetrics
}

// openApp resolves folder, loads its configuration and opens the database
// and vector index. With offline set, embeddings are static and reranking
// uses local overlap scoring.
func openApp(folder string, offline bool) (*app, error) {
	abs, err := resolveFolder(folder)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Embeddings.Provider = string(embed.ProviderStatic)
		if cfg.Reranker.Provider == "http" {
			cfg.Reranker.Provider = "overlap"
		}
	}

	dataDir := cfg.DataPath(abs)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.OpenDB(filepath.Join(dataDir, store.DatabaseName))
	if err != nil {
		return nil, err
	}
	vectors, err := store.NewVectorIndex(cfg.Vectors, db, filepath.Join(dataDir, "vectors"))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("app_opened",
		slog.String("folder", abs),
		slog.String("data_dir", dataDir),
		slog.String("vectors", cfg.Vectors.Backend))

	return &app{
		cfg:      cfg,
		folder:   abs,
		dataDir:  dataDir,
		db:       db,
		vectors:  vectors,
		tracking: store.NewSQLiteTrackingStore(db),
	}, nil
}

// resolveFolder returns the absolute path of an existing directory.
func resolveFolder(folder string) (string, error) {
	if folder == "" {
		folder = "."
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("folder %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

func (a *app) embed(ctx context.Context) (embed.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	e, err := embed.NewFromConfig(ctx, a.cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	a.embedder = e
	return e, nil
}

// loaders returns the loader registry limited to the configured extensions.
func (a *app) loaders() *ingest.Registry {
	if a.registry == nil {
		a.registry = ingest.NewRegistry(ingest.NewHTTPTranscriber(a.cfg.Transcription))
		a.registry.Only(a.cfg.Ingest.SupportedExts...)
	}
	return a.registry
}

// runner wires scanning, change detection, loading and collection builds.
func (a *app) runner(ctx context.Context, renderer ui.Renderer) (*index.Runner, error) {
	embedder, err := a.embed(ctx)
	if err != nil {
		return nil, err
	}

	splitter, err := chunk.NewRecursiveSplitter(a.cfg.Ingest.ChunkSize, a.cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	builder, err := index.NewBuilder(index.BuilderConfig{
		Index:       a.vectors,
		Tracking:    a.tracking,
		Embedder:    embedder,
		Concurrency: a.cfg.Ingest.BuildConcurrency,
	})
	if err != nil {
		return nil, err
	}

	return index.NewRunner(index.RunnerDependencies{
		Registry:        a.loaders(),
		Splitter:        splitter,
		Coordinator:     index.NewChangeCoordinator(a.tracking),
		Builder:         builder,
		Renderer:        renderer,
		LoadConcurrency: a.cfg.Ingest.LoadConcurrency,
		Workers:         a.cfg.Ingest.Workers,
	})
}

// refresh brings the folder's index up to date once.
func (a *app) refresh(ctx context.Context, renderer ui.Renderer) (*index.RefreshResult, error) {
	r, err := a.runner(ctx, renderer)
	if err != nil {
		return nil, err
	}
	return r.Refresh(ctx, a.folder, a.dataDir)
}

// existingCollections loads the collections of every tracked file without
// scanning the folder.
func (a *app) existingCollections(ctx context.Context) (map[string]string, error) {
	records, err := a.tracking.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(records))
	for _, rec := range records {
		collection := index.CollectionName(rec.Filename)
		if err := a.vectors.Load(ctx, collection); err != nil {
			slog.Warn("collection_load_failed",
				slog.String("file", rec.Filename),
				slog.String("error", err.Error()))
			continue
		}
		out[rec.Filename] = collection
	}
	return out, nil
}

// pipeline wires routing, reranking, generation, the semantic cache and
// ask telemetry. Collections are set by the caller after a refresh.
func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	embedder, err := a.embed(ctx)
	if err != nil {
		return nil, err
	}

	scorer, err := search.NewScorer(a.cfg.Reranker)
	if err != nil {
		return nil, err
	}
	generator, err := generate.NewOllamaGenerator(a.cfg.Generation)
	if err != nil {
		return nil, err
	}

	var semantic *cache.SemanticCache
	if !a.cfg.Cache.Disabled {
		semantic, err = cache.New(embedder, cache.Config{
			Threshold:  a.cfg.Cache.Threshold,
			MaxEntries: a.cfg.Cache.MaxEntries,
		})
		if err != nil {
			return nil, err
		}
	}

	metrics, err := a.askMetrics()
	if err != nil {
		// Telemetry never blocks answering.
		slog.Warn("ask_metrics_disabled", slog.String("error", err.Error()))
	}

	return pipeline.New(pipeline.Dependencies{
		Router: search.NewRouter(a.vectors, embedder, search.RouterConfig{
			RetrieveK:  a.cfg.Retrieval.RetrieveK,
			MinPerFile: a.cfg.Retrieval.MinPerFile,
		}),
		Reranker:  search.NewReranker(scorer),
		Generator: generator,
		Cache:     semantic,
		Metrics:   metrics,
		TopK:      a.cfg.Retrieval.TopK,
	})
}

func (a *app) askMetrics() (*telemetry.AskMetrics, error) {
	if a.metrics != nil {
		return a.metrics, nil
	}
	ms, err := telemetry.NewSQLiteMetricsStore(a.db)
	if err != nil {
		return nil, err
	}
	a.metrics = telemetry.NewAskMetrics(ms, telemetry.DefaultAskMetricsConfig())
	return a.metrics, nil
}

func (a *app) sessions() (*session.Manager, error) {
	return session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(a.dataDir, sessionsDirName),
	})
}

// Close flushes telemetry and releases the embedder, index and database.
func (a *app) Close() error {
	var errs []error
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	errs = append(errs, a.vectors.Close(), a.db.Close())
	return errors.Join(errs...)
}

// addOfflineFlag registers the shared --offline flag.
func addOfflineFlag(cmd *cobra.Command, offline *bool) {
	cmd.Flags().BoolVar(offline, "offline", false, "Use static embeddings and local reranking (no model server)")
}

// folderArg returns the optional positional folder argument.
func folderArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
