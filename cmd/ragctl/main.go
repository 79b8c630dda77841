// Command ragctl wires the retrieval pipeline into a single operator CLI:
// ingest documents, run hybrid search, enrich a chat request, or run the
// normal/deep research graph.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"politicalassistant/internal/config"
	"politicalassistant/internal/crawl"
	"politicalassistant/internal/docstore"
	"politicalassistant/internal/enrich"
	"politicalassistant/internal/hybridretriever"
	"politicalassistant/internal/ingestpipeline"
	"politicalassistant/internal/llm"
	"politicalassistant/internal/llm/providers"
	"politicalassistant/internal/observability"
	"politicalassistant/internal/persistence/databases"
	"politicalassistant/internal/rag/embedder"
	"politicalassistant/internal/rag/ingest"
	"politicalassistant/internal/ragpipeline"
	"politicalassistant/internal/searchgraph"
	"politicalassistant/internal/security/fieldcrypt"
	"politicalassistant/internal/websearch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	app, err := build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ragctl: build")
	}
	defer app.close()

	switch os.Args[1] {
	case "ingest":
		err = app.runIngest(ctx, os.Args[2:])
	case "search":
		err = app.runSearch(ctx, os.Args[2:])
	case "research":
		err = app.runResearch(ctx, os.Args[2:])
	case "enrich":
		err = app.runEnrich(ctx, os.Args[2:])
	case "delete":
		err = app.runDelete(ctx, os.Args[2:])
	case "bulk-delete":
		err = app.runBulkDelete(ctx, os.Args[2:])
	case "get-text":
		err = app.runGetText(ctx, os.Args[2:])
	case "get-texts":
		err = app.runGetTexts(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("ragctl")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ragctl <command> [flags]

commands:
  ingest   -owner ID -doc ID -file PATH [-title T]   ingest a file into the document store
  search   -owner ID -q TEXT [-mode hybrid|vector|text] [-limit N]
  research -owner ID -q TEXT [-deep]
  enrich   -owner ID -body TEXT [-web]
  delete      -owner ID -doc ID                delete one document
  bulk-delete -owner ID -docs ID1,ID2,...      delete many documents, isolating per-id failures
  get-text    -owner ID -doc ID                 fetch a document's full text, chunk count, metadata
  get-texts   -owner ID -docs ID1,ID2,...       batch get-text, isolating per-id failures`)
}

// app holds every wired component.
type app struct {
	pool       *pgxpool.Pool
	docs       *docstore.DocumentStore
	savedText  *docstore.SavedTextStore
	vectors    *docstore.VectorIndex
	text       *docstore.TextIndex
	emb        embedder.Embedder
	crawler    *crawl.Crawler
	search     *websearch.Client
	ingest     *ingestpipeline.Pipeline
	retriever  *hybridretriever.Retriever
	ragSvc     *ragpipeline.Service
	llmProv    llm.Provider
	graph      *searchgraph.Graph
	enricher   *enrich.Enricher
	model      string
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	pool, err := databases.OpenPool(ctx, cfg.Relational.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	docs, err := docstore.NewDocumentStore(ctx, pool)
	if err != nil {
		return nil, err
	}

	key, err := fieldcrypt.LoadOrCreateKeyFile(cfg.Encryption.KeyFilePath)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	crypto, err := fieldcrypt.New(key)
	if err != nil {
		return nil, fmt.Errorf("build crypto service: %w", err)
	}
	savedText, err := docstore.NewSavedTextStore(ctx, pool, crypto)
	if err != nil {
		return nil, err
	}
	textIdx, err := docstore.NewTextIndex(ctx, pool)
	if err != nil {
		return nil, err
	}

	emb := embedder.NewClient(cfg.Embedding, cfg.Vector.Dimension)

	vectors, err := docstore.NewVectorIndex(ctx, cfg.Vector.DSN, cfg.Vector.Collection, cfg.Vector.Dimension, cfg.Vector.HealthProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	if err := vectors.EnsureCollection(ctx, cfg.Vector.Collection, emb.Dimension(), docstore.DefaultPayloadIndexes()); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Cache.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
	}

	searchClient, err := websearch.New(cfg.MetaSearch, cfg.Cache, redisClient)
	if err != nil {
		return nil, fmt.Errorf("build websearch client: %w", err)
	}

	crawler := crawl.New(cfg.Crawler.MaxConcurrency)

	pipeline := ingestpipeline.New(docs, vectors, textIdx, emb, cfg.Vector.Collection,
		ingest.ChunkingOptions{Strategy: "markdown", MaxTokens: 512, Overlap: 64}, cfg.Embedding.BatchSize)

	retriever := hybridretriever.New(vectors, textIdx, emb, cfg.Vector.Collection)
	ragSvc := ragpipeline.New(docs, retriever, pipeline)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	llmProv, err := providers.Build(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("build llm provider: %w", err)
	}

	graph := &searchgraph.Graph{
		Search:            searchClient,
		Crawler:           crawler,
		Retriever:         retriever,
		LLM:               llmProv,
		Model:             cfg.LLM.Model,
		CrawlLimitNormal:  2,
		CrawlLimitDeep:    5,
		MaxSubQueryFanout: 8,
	}

	enricher := &enrich.Enricher{
		Crawler:           crawler,
		Retriever:         retriever,
		Search:            searchClient,
		LLMProv:           llmProv,
		Model:             cfg.LLM.Model,
		Docs:              documentLookup{docs: docs, text: textIdx},
		SavedText:         savedText,
		FullTextThreshold: hybridretriever.FullTextThreshold,
	}

	return &app{
		pool:      pool,
		docs:      docs,
		savedText: savedText,
		vectors:   vectors,
		text:      textIdx,
		emb:       emb,
		crawler:   crawler,
		search:    searchClient,
		ingest:    pipeline,
		retriever: retriever,
		ragSvc:    ragSvc,
		llmProv:   llmProv,
		graph:     graph,
		enricher:  enricher,
		model:     cfg.LLM.Model,
	}, nil
}

func (a *app) close() {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// documentLookup adapts docstore.DocumentStore + docstore.TextIndex to the
// enrich.DocumentLookup contract.
type documentLookup struct {
	docs *docstore.DocumentStore
	text *docstore.TextIndex
}

func (d documentLookup) ChunkCount(ctx context.Context, docID string) (int, error) {
	return d.text.ChunkCount(ctx, docID)
}

func (d documentLookup) FullText(ctx context.Context, docID string) (string, error) {
	chunks, err := d.text.OrderedChunkText(ctx, docID)
	if err != nil {
		return "", err
	}
	out := ""
	for i, c := range chunks {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out, nil
}

func (d documentLookup) Metadata(ctx context.Context, owner, docID string) (docstore.Document, error) {
	return d.docs.Get(ctx, docID, owner)
}

func (a *app) runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	docID := fs.String("doc", "", "document id")
	file := fs.String("file", "", "path to file")
	title := fs.String("title", "", "document title")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *docID == "" || *file == "" {
		return fmt.Errorf("ingest requires -owner, -doc, and -file")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	src := ingestpipeline.Source{
		Kind:     docstore.SourceUpload,
		Filename: *file,
		Data:     data,
		Title:    *title,
	}
	if err := a.ingest.Ingest(ctx, *docID, *owner, src, nil); err != nil {
		return err
	}
	fmt.Printf("ingested %s for owner %s\n", *docID, *owner)
	return nil
}

func (a *app) runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	query := fs.String("q", "", "query text")
	mode := fs.String("mode", "hybrid", "hybrid|vector|text")
	limit := fs.Int("limit", 10, "max results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *query == "" {
		return fmt.Errorf("search requires -owner and -q")
	}
	res, err := a.retriever.Search(ctx, *query, *owner, hybridretriever.Options{
		Limit: *limit,
		Mode:  hybridretriever.Mode(*mode),
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *app) runResearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("research", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	query := fs.String("q", "", "research question")
	deep := fs.Bool("deep", false, "run deep research mode")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *query == "" {
		return fmt.Errorf("research requires -owner and -q")
	}
	mode := searchgraph.ModeNormal
	if *deep {
		mode = searchgraph.ModeDeep
	}
	state := a.graph.Run(ctx, *query, *owner, mode)
	return printJSON(searchgraph.BuildOutcome(state))
}

func (a *app) runEnrich(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	body := fs.String("body", "", "message body")
	web := fs.Bool("web", false, "enable web search branch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *body == "" {
		return fmt.Errorf("enrich requires -owner and -body")
	}
	state := a.enricher.Enrich(ctx, enrich.Request{
		Owner:            *owner,
		MessageBody:      *body,
		WebSearchEnabled: *web,
	})
	return printJSON(state)
}

func (a *app) runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	docID := fs.String("doc", "", "document id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *docID == "" {
		return fmt.Errorf("delete requires -owner and -doc")
	}
	if err := a.ragSvc.Delete(ctx, *owner, *docID); err != nil {
		return err
	}
	fmt.Printf("deleted %s for owner %s\n", *docID, *owner)
	return nil
}

func (a *app) runBulkDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bulk-delete", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	docs := fs.String("docs", "", "comma-separated document ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *docs == "" {
		return fmt.Errorf("bulk-delete requires -owner and -docs")
	}
	res := a.ragSvc.BulkDelete(ctx, *owner, splitIDs(*docs))
	return printJSON(res)
}

func (a *app) runGetText(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get-text", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	docID := fs.String("doc", "", "document id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *docID == "" {
		return fmt.Errorf("get-text requires -owner and -doc")
	}
	res, err := a.ragSvc.GetFullText(ctx, *owner, *docID)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func (a *app) runGetTexts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get-texts", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id")
	docs := fs.String("docs", "", "comma-separated document ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" || *docs == "" {
		return fmt.Errorf("get-texts requires -owner and -docs")
	}
	res := a.ragSvc.GetMultipleFullTexts(ctx, *owner, splitIDs(*docs))
	return printJSON(res)
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
