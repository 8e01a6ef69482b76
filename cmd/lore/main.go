package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	lore "github.com/halvard/lore"
	"github.com/halvard/lore/ingest"
	"github.com/halvard/lore/internal/config"
	"github.com/halvard/lore/observer"
	"github.com/halvard/lore/provider/openai"
	"github.com/halvard/lore/store/postgres"
	"github.com/halvard/lore/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(os.Getenv("LORE_CONFIG"))

	// 2. Create embedding provider
	popts := []openai.Option{openai.WithBaseURL(cfg.Embedding.BaseURL)}
	if cfg.Embedding.Dimensions > 0 {
		popts = append(popts, openai.WithDimensions(cfg.Embedding.Dimensions))
	}
	provider, err := openai.New(cfg.Embedding.APIKey, cfg.Embedding.Model, popts...)
	if err != nil {
		log.Fatalf("embedding provider: %v", err)
	}
	var embedding lore.EmbeddingProvider = provider

	// 3. Create store
	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}

	// 4. Observability (optional)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer: %v", err)
		}
		defer shutdown(ctx) //nolint:errcheck
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}

	// 5. Dispatch
	switch os.Args[1] {
	case "ingest":
		err = runIngest(ctx, cfg, store, embedding, provider, os.Args[2:])
	case "search":
		err = runSearch(ctx, cfg, store, embedding, inst, os.Args[2:])
	case "delete":
		err = runDelete(ctx, store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lore <command> [flags]

commands:
  ingest <file>...          parse, split and embed files into the knowledge base
  search [flags] <query>    query the knowledge base
  delete <document-id>...   remove documents and their chunks

config is read from $LORE_CONFIG (default lore.toml), LORE_* env vars override.`)
}

func buildStore(ctx context.Context, cfg config.Config) (lore.Store, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		return sqlite.New(cfg.Database.Path), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func runIngest(ctx context.Context, cfg config.Config, store lore.Store, embedding lore.EmbeddingProvider, provider *openai.Provider, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	deferred := fs.Bool("deferred", false, "store chunks pending instead of embedding synchronously")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("ingest: no files given")
	}

	opts := []ingest.Option{
		ingest.WithSplitter(ingest.NewSplitter(
			ingest.WithTextBudget(cfg.Ingest.TextBudget),
			ingest.WithCodeBudget(cfg.Ingest.CodeBudget),
		)),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithMediaWorkers(cfg.Ingest.MediaWorkers),
	}
	if cfg.Ingest.VisionModel != "" {
		opts = append(opts, ingest.WithMediaAnalyzer(provider.NewAnalyzer(cfg.Ingest.VisionModel)))
	}
	if *deferred {
		opts = append(opts, ingest.WithDeferredEmbedding())
	}
	ing := ingest.New(store, embedding, opts...)

	for _, path := range fs.Args() {
		result, err := ing.IngestFile(ctx, path, nil)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s  %s  chunks=%d pending=%d\n", result.DocumentID, path, result.ChunkCount, result.PendingCount)
	}
	return nil
}

func runSearch(ctx context.Context, cfg config.Config, store lore.Store, embedding lore.EmbeddingProvider, inst *observer.Instruments, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	mode := fs.String("mode", "hybrid", "search mode: hybrid, vector or lexical")
	limit := fs.Int("limit", 10, "maximum results")
	chunks := fs.Bool("chunks", false, "print chunk results instead of aggregated documents")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("search: no query given")
	}
	query := fs.Arg(0)

	ropts := []lore.RetrieverOption{
		lore.WithRRFK(cfg.Retriever.RRFK),
		lore.WithOversample(cfg.Retriever.Oversample),
		lore.WithContextWindow(cfg.Retriever.ContextWindow),
		lore.WithQueryCacheSize(cfg.Retriever.QueryCacheSz),
	}
	if cfg.Retriever.EmbedTimeoutS > 0 {
		ropts = append(ropts, lore.WithEmbedTimeout(time.Duration(cfg.Retriever.EmbedTimeoutS)*time.Second))
	}
	var searcher lore.Searcher = lore.NewHybridRetriever(store, embedding, ropts...)
	if inst != nil {
		searcher = observer.WrapRetriever(searcher, inst)
	}

	sopts := lore.SearchOptions{Mode: lore.SearchMode(*mode), Limit: *limit}
	if *chunks {
		results, err := searcher.SearchChunks(ctx, query, sopts)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%6.2f  %s  %s\n", r.Score, r.Chunk.ID, firstLine(r.Chunk.Content))
		}
		return nil
	}

	results, err := searcher.Search(ctx, query, sopts)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%6.2f  %s  %s\n", r.Score, r.DocumentID, r.DocumentTitle)
	}
	return nil
}

func runDelete(ctx context.Context, store lore.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("delete: no document IDs given")
	}
	for _, id := range args {
		if err := store.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		fmt.Println("deleted", id)
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
		if i > 100 {
			return s[:i] + "..."
		}
	}
	return s
}
